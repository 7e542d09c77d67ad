// Package denoise defines the Denoiser contract shared by the spectral and
// neural implementations: the DenoiserType enum, the fixed-size frame and
// result shapes, and the Configurable capability for merging overrides into
// an instance's live config after construction.
package denoise

import "context"

// Type identifies which denoising algorithm an instance runs. It is a
// closed enum — see registry.BestAvailable for capability-based selection
// instead of hardcoding one.
type Type string

const (
	Spectral Type = "SPECTRAL"
	Neural   Type = "NEURAL"
)

// Valid reports whether t is one of the known DenoiserType values.
func (t Type) Valid() bool {
	return t == Spectral || t == Neural
}

// Result is what ProcessFrame returns: the denoised samples (same length as
// the input frame) plus the voice-activity probability the denoiser's
// internal VAD assigned the frame, in [0,1]. Only the spectral denoiser
// fills VAD with a live estimate; the neural denoiser returns 0.
type Result struct {
	Output []float32
	VAD    float32
}

// Denoiser is the contract both C5 (spectral) and C6 (neural) implement.
// ProcessFrame is synchronous and must never block past kernel compute time
// — no channel waits, no disk/network I/O. Only Initialize may suspend (to
// await the module loader).
type Denoiser interface {
	Type() Type
	FrameSize() int
	Initialize(ctx context.Context) error
	ProcessFrame(frame []float32) (Result, error)
	Destroy() error
}

// Configurable is implemented by denoisers that accept runtime-tunable
// parameters beyond construction-time config. The registry applies a
// caller's config map at construction and does not call Configure itself.
type Configurable interface {
	Configure(overrides map[string]any) error
}
