// Package gain implements the VAD-driven gain controller (C8): a smoothed
// voice-activity estimate drives a target gain, held at unity while voice is
// present, faded down across a hangover window after voice drops out, and
// floored at a minimum gate gain rather than fully muted — the same
// asymmetric attack/release smoothing idiom the teacher's agc package uses
// for loudness normalization, retargeted here at noise gating instead.
package gain

import (
	"math"
	"sync"

	"bken/noisedsp/internal/dsp"
	"bken/noisedsp/internal/logging"
)

// Config holds the controller's tunable parameters. DefaultConfig returns
// the tuned values; a zero-valued Config is used as is, not filled in.
type Config struct {
	VadSmoothing   float64
	VadThreshold   float64
	HangoverFrames int
	MinGateGain    float64
	Attack         float64
	Release        float64
	FadeStart      float64
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		VadSmoothing:   0.08,
		VadThreshold:   0.30,
		HangoverFrames: 45,
		MinGateGain:    0.15,
		Attack:         0.15,
		Release:        0.03,
		FadeStart:      0.6,
	}
}

// Patch returns a copy of c with any keys present in overrides applied.
// Unknown keys are ignored; this mirrors the registry's loose
// map[string]any configuration surface.
func (c Config) Patch(overrides map[string]any) Config {
	out := c
	if v, ok := overrides["vad_smoothing"].(float64); ok {
		out.VadSmoothing = v
	}
	if v, ok := overrides["vad_threshold"].(float64); ok {
		out.VadThreshold = v
	}
	if v, ok := overrides["hangover_frames"].(int); ok {
		out.HangoverFrames = v
	}
	if v, ok := overrides["min_gate_gain"].(float64); ok {
		out.MinGateGain = v
	}
	if v, ok := overrides["attack"].(float64); ok {
		out.Attack = v
	}
	if v, ok := overrides["release"].(float64); ok {
		out.Release = v
	}
	if v, ok := overrides["fade_start"].(float64); ok {
		out.FadeStart = v
	}
	return out
}

// Controller tracks smoothed VAD state, a hangover countdown, and the
// current gain. Its methods are guarded by a mutex; the pipeline drives it
// synchronously, one frame at a time, from a single session goroutine.
type Controller struct {
	mu sync.Mutex

	cfg Config

	smoothedVAD float64
	hangover    int
	gain        float64

	logger *logging.Logger
}

// New constructs a Controller starting at unity gain with no smoothed VAD
// history and no hangover. Until the smoothed VAD first crosses
// VadThreshold, the gain releases toward MinGateGain, even on voiced frames.
func New(cfg Config, logger *logging.Logger) *Controller {
	return &Controller{cfg: cfg, gain: 1.0, logger: logger}
}

// CurrentGain returns the gain value from the previous ComputeGain call (or
// 1.0 before the first call). The track processor reads this before calling
// ComputeGain so it can interpolate a frame's gain ramp from the previous
// value to the new one rather than stepping discontinuously.
func (c *Controller) CurrentGain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gain
}

// ComputeGain folds one frame's VAD probability into the smoothed estimate
// (stepped with Attack while the VAD rises and VadSmoothing while it
// falls, so voice onset is tracked quickly but a spurious dip decays
// slowly), derives a target gain, and steps the current gain toward it with
// asymmetric attack/release smoothing. It returns the new current gain.
func (c *Controller) ComputeGain(vadProb float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	vadCoeff := c.cfg.VadSmoothing
	if vadProb > c.smoothedVAD {
		vadCoeff = c.cfg.Attack
	}
	c.smoothedVAD += vadCoeff * (vadProb - c.smoothedVAD)

	var target float64
	switch {
	case c.smoothedVAD > c.cfg.VadThreshold:
		c.hangover = c.cfg.HangoverFrames
		target = 1.0
	case c.hangover > 0:
		remaining := float64(c.hangover) / float64(c.cfg.HangoverFrames)
		progress := 1 - remaining
		if progress < c.cfg.FadeStart {
			target = 1.0
		} else {
			fade := (progress - c.cfg.FadeStart) / (1 - c.cfg.FadeStart)
			eased := 1 - math.Pow(1-fade, 3)
			target = 1 - eased*(1-2*c.cfg.MinGateGain)
		}
		c.hangover--
	default:
		target = c.cfg.MinGateGain
	}

	coeff := c.cfg.Release
	if target > c.gain {
		coeff = c.cfg.Attack
	}
	c.gain += coeff * (target - c.gain)
	c.gain = dsp.Clamp64(c.gain, c.cfg.MinGateGain, 1.0)
	return c.gain
}

// Reset returns the controller to its just-constructed state: unity gain,
// no hangover, no smoothed VAD history.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.smoothedVAD = 0
	c.hangover = 0
	c.gain = 1.0
}

// Configure merges overrides into the live config.
func (c *Controller) Configure(overrides map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = c.cfg.Patch(overrides)
	return nil
}
