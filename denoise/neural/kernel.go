package neural

import "errors"

// Kernel is the pluggable neural denoising backend. Unlike the spectral
// Kernel it reports no VAD estimate of its own — the neural denoiser's
// Result.VAD is always 0, and the track processor applies no external
// gain.Controller gating to its output.
type Kernel interface {
	FrameSize() int
	Initialize() error
	ProcessFrame(in []float32) (out []float32, err error)
	Destroy() error
}

// ErrNilKernel guards against constructing a Denoiser with no backend.
var ErrNilKernel = errors.New("neural: nil kernel")

// referenceKernel is a pure-Go stand-in for a real neural network
// inference kernel (the kind a systems build would bind through an FFI
// declaration into a compiled model runtime). It approximates denoising by
// attenuating samples toward a running per-frame mean, which is enough to
// exercise the surrounding pipeline (scaling, attenuation limiting, post
// filtering, registry wiring) without pretending to be a trained model.
type referenceKernel struct {
	frameSize int
	runningDC float64
}

// NewReferenceKernel builds the built-in reference neural kernel.
func NewReferenceKernel(frameSize int) Kernel {
	return &referenceKernel{frameSize: frameSize}
}

func (k *referenceKernel) FrameSize() int { return k.frameSize }

func (k *referenceKernel) Initialize() error {
	k.runningDC = 0
	return nil
}

func (k *referenceKernel) ProcessFrame(in []float32) ([]float32, error) {
	if len(in) != k.frameSize {
		return nil, errors.New("neural: reference kernel frame size mismatch")
	}
	var mean float64
	for _, s := range in {
		mean += float64(s)
	}
	mean /= float64(len(in))
	k.runningDC = 0.9*k.runningDC + 0.1*mean

	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(float64(s)*0.6 + k.runningDC*0.1)
	}
	return out, nil
}

func (k *referenceKernel) Destroy() error { return nil }
