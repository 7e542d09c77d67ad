// Package spectral implements C5: the spectral-subtraction + VAD denoiser.
// It scales incoming [-1,1] float32 samples to the int16 range the kernel
// expects (×32767), runs the kernel, scales the kernel's output back down
// (÷32767), then applies an internal post-gain driven by the kernel's own
// VAD estimate — a second, faster-reacting gain stage layered underneath
// whatever external VAD gain (gain.Controller) the track processor applies
// on top. See DESIGN.md for why both gates coexist instead of one
// subsuming the other.
package spectral

import (
	"context"
	"fmt"

	"bken/noisedsp/internal/dsp"
	"bken/noisedsp/internal/logging"

	"bken/noisedsp/denoise"
)

// scaleFactor converts between the library's [-1,1] float32 samples and the
// int16-range float32 values the kernel ABI expects. 32767 rather than
// 32768 matches the asymmetric int16 range (-32768..32767); this constant
// is kernel-ABI-dependent and would move to the FFI binding layer in a
// systems build rather than live here.
const scaleFactor = 32767.0

// Config holds the internal post-gain's tuning plus the module-loading and
// diagnostic surface spec.md's configuration model defines for this
// denoiser type. Defaults match the spectral denoiser's historical tuning:
// post-gain reacts fast to rising voice activity (Attack) and backs off
// slowly (Release) to avoid chopping the tail of speech, floored at MinGain
// rather than fully muting.
type Config struct {
	PostGainAttack  float64
	PostGainRelease float64
	PostGainMinGain float64
	ThresholdHigh   float64
	ThresholdLow    float64

	// AssetsPath is where a real backend would locate the compiled kernel
	// glue script / WASM module and any accompanying data files. Empty
	// means "use whatever the registry's built-in resolution picks".
	AssetsPath string
	// WASMFileName optionally names a specific module file within
	// AssetsPath, overriding the default the loader would otherwise pick.
	// Empty means unset.
	WASMFileName string
	// PreferSIMD selects the SIMD-accelerated kernel build over the
	// portable one when the platform can run it. Defaults to true.
	PreferSIMD bool
	// Debug enables the first-frame diagnostic log line.
	Debug bool
	// SessionID tags log lines so a multi-session host can correlate them
	// back to the session that produced them.
	SessionID string
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		PostGainAttack:  0.3,
		PostGainRelease: 0.05,
		PostGainMinGain: 0.1,
		ThresholdHigh:   0.5,
		ThresholdLow:    0.2,
		PreferSIMD:      true,
	}
}

// Patch applies any recognized keys from overrides onto a copy of c.
func (c Config) Patch(overrides map[string]any) Config {
	out := c
	if v, ok := overrides["post_gain_attack"].(float64); ok {
		out.PostGainAttack = v
	}
	if v, ok := overrides["post_gain_release"].(float64); ok {
		out.PostGainRelease = v
	}
	if v, ok := overrides["post_gain_min_gain"].(float64); ok {
		out.PostGainMinGain = v
	}
	if v, ok := overrides["threshold_high"].(float64); ok {
		out.ThresholdHigh = v
	}
	if v, ok := overrides["threshold_low"].(float64); ok {
		out.ThresholdLow = v
	}
	if v, ok := overrides["assets_path"].(string); ok {
		out.AssetsPath = v
	}
	if v, ok := overrides["wasm_file_name"].(string); ok {
		out.WASMFileName = v
	}
	if v, ok := overrides["prefer_simd"].(bool); ok {
		out.PreferSIMD = v
	}
	if v, ok := overrides["debug"].(bool); ok {
		out.Debug = v
	}
	if v, ok := overrides["session_id"].(string); ok {
		out.SessionID = v
	}
	return out
}

// Allocator produces a scratch buffer of n float32s, or an error if the
// allocation cannot be satisfied. Injectable so tests can exercise the
// ErrKernelAllocation path without needing to actually exhaust memory.
type Allocator func(n int) ([]float32, error)

func defaultAllocate(n int) ([]float32, error) {
	return make([]float32, n), nil
}

// Denoiser is the spectral+VAD Denoiser implementation. It embeds
// *denoise.Base for the shared lifecycle/guard logic and supplies the
// denoise.Hooks methods below.
type Denoiser struct {
	*denoise.Base

	kernel   Kernel
	cfg      Config
	allocate Allocator
	logger   *logging.Logger

	postGain    float64
	scratchIn   []float32
	scratchOut  []float32
	loggedFirst bool
}

// New constructs a spectral Denoiser around kernel. A nil kernel panics at
// construction rather than surfacing a confusing nil-pointer error from the
// first ProcessFrame call — this is a programming error, not a runtime one.
func New(kernel Kernel, cfg Config, logger *logging.Logger) *Denoiser {
	if kernel == nil {
		panic(ErrNilKernel)
	}
	d := &Denoiser{kernel: kernel, cfg: cfg, allocate: defaultAllocate, postGain: 1.0, logger: logger}
	d.Base = denoise.NewBase(denoise.Spectral, d, logger)
	return d
}

// SetAllocator overrides the scratch-buffer allocator. Exposed for tests
// that need to simulate allocation failure; production callers leave the
// default in place.
func (d *Denoiser) SetAllocator(a Allocator) { d.allocate = a }

func (d *Denoiser) FrameSizeInternal() int { return d.kernel.FrameSize() }

func (d *Denoiser) DoInitialize(ctx context.Context) error {
	if err := d.kernel.Initialize(); err != nil {
		return fmt.Errorf("spectral: kernel initialize: %w", err)
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
	d.loggedFirst = false
	return nil
}

func (d *Denoiser) DoProcessFrame(in []float32) (denoise.Result, error) {
	for i, s := range in {
		d.scratchIn[i] = s * scaleFactor
	}

	kernelOut, vad, err := d.kernel.ProcessFrame(d.scratchIn)
	if err != nil {
		return denoise.Result{}, fmt.Errorf("spectral: kernel process: %w", err)
	}
	for i, s := range kernelOut {
		d.scratchOut[i] = s / scaleFactor
	}

	d.stepPostGain(float64(vad))

	result := make([]float32, len(d.scratchOut))
	g := float32(d.postGain)
	for i, s := range d.scratchOut {
		result[i] = s * g
	}

	if d.cfg.Debug && !d.loggedFirst {
		d.loggedFirst = true
		if d.logger != nil {
			d.logger.Debug("spectral denoiser first frame diagnostic",
				"session_id", d.cfg.SessionID, "vad", vad, "post_gain", d.postGain)
		}
	}

	return denoise.Result{Output: result, VAD: vad}, nil
}

// stepPostGain derives a target gain from vad against ThresholdLow/High
// (full gain above ThresholdHigh, floor below ThresholdLow, linear between)
// and steps the current post-gain toward it with asymmetric attack/release
// smoothing, the same shape gain.Controller uses for the external gate.
func (d *Denoiser) stepPostGain(vad float64) {
	var target float64
	switch {
	case vad >= d.cfg.ThresholdHigh:
		target = 1.0
	case vad <= d.cfg.ThresholdLow:
		target = d.cfg.PostGainMinGain
	default:
		frac := (vad - d.cfg.ThresholdLow) / (d.cfg.ThresholdHigh - d.cfg.ThresholdLow)
		target = dsp.Lerp64(d.cfg.PostGainMinGain, 1.0, frac)
	}
	coeff := d.cfg.PostGainRelease
	if target > d.postGain {
		coeff = d.cfg.PostGainAttack
	}
	d.postGain += coeff * (target - d.postGain)
	d.postGain = dsp.Clamp64(d.postGain, d.cfg.PostGainMinGain, 1.0)
}

func (d *Denoiser) DoDestroy() error {
	d.scratchIn = nil
	d.scratchOut = nil
	return d.kernel.Destroy()
}

// Configure merges overrides into the live post-gain config.
func (d *Denoiser) Configure(overrides map[string]any) error {
	d.cfg = d.cfg.Patch(overrides)
	return nil
}
