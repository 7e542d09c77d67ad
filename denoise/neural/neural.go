// Package neural implements C6: the neural denoiser. It shares the
// spectral denoiser's ±32767 scaling convention (the same kernel ABI
// assumption applies regardless of which algorithm sits behind it), adds an
// attenuation-limit floor so the network can never suppress a sample below
// a configured decibel floor relative to its input magnitude, and a light
// one-pole post filter to smooth frame-boundary discontinuities that
// trained denoising networks are prone to introducing ("musical noise").
package neural

import (
	"context"
	"fmt"
	"math"

	"bken/noisedsp/internal/dsp"
	"bken/noisedsp/internal/logging"

	"bken/noisedsp/denoise"
)

const scaleFactor = 32767.0

// Config holds the neural denoiser's tunables plus the module-loading and
// diagnostic surface spec.md's configuration model defines for this
// denoiser type.
type Config struct {
	// AttenLimitDB caps how far, in decibels, the kernel may attenuate any
	// single sample relative to its input magnitude.
	AttenLimitDB float64
	// PostFilterBeta is the one-pole smoothing coefficient: the weight the
	// previous output sample (carried across frame boundaries) gets when
	// blended into each new sample. 0 disables the filter.
	PostFilterBeta float64

	// AssetsPath is where a real backend would locate the model file the
	// registry's loader fetches. Empty means "use the default location".
	AssetsPath string
	// Debug enables the first-frame diagnostic log line.
	Debug bool
	// SessionID tags log lines so a multi-session host can correlate them
	// back to the session that produced them.
	SessionID string
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{AttenLimitDB: 18, PostFilterBeta: 0.03}
}

// Patch applies recognized keys from overrides onto a copy of c.
func (c Config) Patch(overrides map[string]any) Config {
	out := c
	if v, ok := overrides["atten_limit_db"].(float64); ok {
		out.AttenLimitDB = v
	}
	if v, ok := overrides["post_filter_beta"].(float64); ok {
		out.PostFilterBeta = v
	}
	if v, ok := overrides["assets_path"].(string); ok {
		out.AssetsPath = v
	}
	if v, ok := overrides["debug"].(bool); ok {
		out.Debug = v
	}
	if v, ok := overrides["session_id"].(string); ok {
		out.SessionID = v
	}
	return out
}

// Allocator produces a scratch buffer of n float32s, or an error.
type Allocator func(n int) ([]float32, error)

func defaultAllocate(n int) ([]float32, error) {
	return make([]float32, n), nil
}

// Denoiser is the neural Denoiser implementation.
type Denoiser struct {
	*denoise.Base

	kernel   Kernel
	cfg      Config
	allocate Allocator
	logger   *logging.Logger

	scratchIn    []float32
	scratchOut   []float32
	prevSample   float32
	loggedFirst  bool
	attenFloorLn float64
}

// New constructs a neural Denoiser around kernel.
func New(kernel Kernel, cfg Config, logger *logging.Logger) *Denoiser {
	if kernel == nil {
		panic(ErrNilKernel)
	}
	d := &Denoiser{kernel: kernel, cfg: cfg, allocate: defaultAllocate, logger: logger}
	d.Base = denoise.NewBase(denoise.Neural, d, logger)
	return d
}

// SetAllocator overrides the scratch-buffer allocator for tests.
func (d *Denoiser) SetAllocator(a Allocator) { d.allocate = a }

func (d *Denoiser) FrameSizeInternal() int { return d.kernel.FrameSize() }

func (d *Denoiser) DoInitialize(ctx context.Context) error {
	if err := d.kernel.Initialize(); err != nil {
		return fmt.Errorf("neural: kernel initialize: %w", err)
	}
	in, err := d.allocate(d.kernel.FrameSize())
	if err != nil {
		return fmt.Errorf("%w: input scratch buffer: %v", denoise.ErrKernelAllocation, err)
	}
	out, err := d.allocate(d.kernel.FrameSize())
	if err != nil {
		return fmt.Errorf("%w: output scratch buffer: %v", denoise.ErrKernelAllocation, err)
	}
	d.scratchIn = in
	d.scratchOut = out
	d.prevSample = 0
	d.loggedFirst = false
	// 10^(-dB/20) expressed via math.Pow once at init rather than per frame.
	d.attenFloorLn = math.Pow(10, -d.cfg.AttenLimitDB/20)
	return nil
}

func (d *Denoiser) DoProcessFrame(in []float32) (denoise.Result, error) {
	for i, s := range in {
		d.scratchIn[i] = s * scaleFactor
	}

	kernelOut, err := d.kernel.ProcessFrame(d.scratchIn)
	if err != nil {
		return denoise.Result{}, fmt.Errorf("neural: kernel process: %w", err)
	}

	for i, s := range kernelOut {
		raw := s / scaleFactor
		raw = d.applyAttenLimit(in[i], raw)
		smoothed := raw + float32(d.cfg.PostFilterBeta)*(d.prevSample-raw)
		d.scratchOut[i] = smoothed
		d.prevSample = smoothed
	}

	if d.cfg.Debug && !d.loggedFirst {
		d.loggedFirst = true
		if d.logger != nil {
			inMin, inMax := dsp.MinMax(in)
			outMin, outMax := dsp.MinMax(d.scratchOut)
			d.logger.Debug("neural denoiser first frame diagnostic",
				"session_id", d.cfg.SessionID,
				"input_rms", dsp.RMS(in), "input_min", inMin, "input_max", inMax,
				"output_rms", dsp.RMS(d.scratchOut), "output_min", outMin, "output_max", outMax)
		}
	}

	result := make([]float32, len(d.scratchOut))
	copy(result, d.scratchOut)
	return denoise.Result{Output: result, VAD: 0}, nil
}

// applyAttenLimit prevents the kernel from suppressing a sample by more
// than AttenLimitDB relative to its input magnitude: if the kernel's output
// magnitude falls below the floor, it is pulled back up to the floor,
// preserving the kernel's chosen sign (or the input's sign if the kernel
// zeroed the sample entirely).
func (d *Denoiser) applyAttenLimit(inSample, outSample float32) float32 {
	floor := float32(float64(absF32(inSample)) * d.attenFloorLn)
	if absF32(outSample) >= floor {
		return outSample
	}
	sign := float32(1)
	switch {
	case outSample < 0:
		sign = -1
	case outSample == 0 && inSample < 0:
		sign = -1
	}
	return sign * floor
}

func absF32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func (d *Denoiser) DoDestroy() error {
	d.scratchIn = nil
	d.scratchOut = nil
	return d.kernel.Destroy()
}

// Configure merges overrides into the live config.
func (d *Denoiser) Configure(overrides map[string]any) error {
	d.cfg = d.cfg.Patch(overrides)
	d.attenFloorLn = math.Pow(10, -d.cfg.AttenLimitDB/20)
	return nil
}
