package denoise

import (
	"context"
	"fmt"
	"sync"

	"bken/noisedsp/internal/logging"
)

// lifecycle mirrors the spec's Uninitialized -> Ready -> Destroyed state
// machine. Destroyed is terminal: no method succeeds afterward except a
// second Destroy, which is a no-op.
type lifecycle int

const (
	uninitialized lifecycle = iota
	ready
	destroyed
)

// Hooks is what a concrete denoiser (spectral, neural) supplies to Base.
// Base owns the state machine and the frame-size/initialization guards;
// Hooks owns the algorithm.
type Hooks interface {
	// DoInitialize performs the kernel-specific setup (allocate scratch
	// buffers, await a loaded module). Called once per successful
	// initialization (a failed call leaves the instance uninitialized, and a
	// later Initialize runs it again), and never concurrently with
	// DoProcessFrame.
	DoInitialize(ctx context.Context) error
	// DoProcessFrame runs the algorithm over exactly one FrameSize()-length
	// frame. Base has already validated length and lifecycle state.
	DoProcessFrame(in []float32) (Result, error)
	// DoDestroy releases kernel resources. Called at most once.
	DoDestroy() error
	// FrameSizeInternal reports the fixed frame length this kernel expects.
	FrameSizeInternal() int
}

// Base implements the Denoiser lifecycle/guard logic common to every
// backend: single-threaded-per-instance state transitions, frame-size
// validation, and guard errors for calls made out of order. Embed it and
// supply Hooks; Base dispatches Type()/FrameSize()/Initialize()/
// ProcessFrame()/Destroy() through the embedding type's hook methods.
type Base struct {
	mu     sync.Mutex
	state  lifecycle
	typ    Type
	hooks  Hooks
	logger *logging.Logger
}

// NewBase constructs a Base for the given DenoiserType, delegating
// algorithm-specific work to hooks.
func NewBase(typ Type, hooks Hooks, logger *logging.Logger) *Base {
	return &Base{typ: typ, hooks: hooks, logger: logger}
}

func (b *Base) Type() Type { return b.typ }

func (b *Base) FrameSize() int { return b.hooks.FrameSizeInternal() }

// Initialize transitions Uninitialized -> Ready. Calling it twice without an
// intervening Destroy is benign: it logs a warning and returns nil without
// re-running the hook's setup. Calling it after Destroy returns
// ErrNotInitialized, since a destroyed instance cannot be resurrected.
func (b *Base) Initialize(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case ready:
		b.mu.Unlock()
		if b.logger != nil {
			b.logger.Warn("denoiser: Initialize called again, ignoring", "type", string(b.typ))
		}
		return nil
	case destroyed:
		b.mu.Unlock()
		return fmt.Errorf("%w: instance already destroyed", ErrNotInitialized)
	}
	b.mu.Unlock()

	if err := b.hooks.DoInitialize(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	b.state = ready
	b.mu.Unlock()
	if b.logger != nil {
		b.logger.Debug("denoiser initialized", "type", string(b.typ), "frame_size", b.FrameSize())
	}
	return nil
}

// ProcessFrame validates lifecycle state and frame length before delegating
// to the hook. frame must be exactly FrameSize() samples — a shorter or
// longer slice is a caller bug (the track processor's reblocker is
// responsible for producing fixed-size frames), not a recoverable runtime
// condition, so it is reported via ErrFrameSizeMismatch rather than
// silently padded or truncated.
func (b *Base) ProcessFrame(frame []float32) (Result, error) {
	b.mu.Lock()
	state := b.state
	b.mu.Unlock()

	if state == uninitialized {
		return Result{}, ErrNotInitialized
	}
	if state == destroyed {
		return Result{}, fmt.Errorf("%w: instance destroyed", ErrNotInitialized)
	}
	if len(frame) != b.FrameSize() {
		return Result{}, fmt.Errorf("%w: got %d want %d", ErrFrameSizeMismatch, len(frame), b.FrameSize())
	}
	return b.hooks.DoProcessFrame(frame)
}

// Destroy transitions to Destroyed. Idempotent: a second call is a no-op
// that returns nil, matching the spec's "destroy is safe to call more than
// once" invariant.
func (b *Base) Destroy() error {
	b.mu.Lock()
	if b.state == destroyed {
		b.mu.Unlock()
		return nil
	}
	b.state = destroyed
	b.mu.Unlock()
	return b.hooks.DoDestroy()
}
