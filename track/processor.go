package track

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"bken/noisedsp/gain"
	"bken/noisedsp/internal/logging"

	"bken/noisedsp/denoise"
)

// FadeInSamples is how many samples, counted from the first frame the
// processor emits after each Start, ramp up from silence instead of starting at full
// level — long enough to mask the denoiser's startup transient (its first
// one or two frames, before its internal state has adapted) without being
// audible as a fade on ordinary speech.
const FadeInSamples = 960

// Processor drives one track's capture path: read a frame, denoise it,
// apply gain and the startup fade, soft-clip, and write it out. It runs its
// own goroutine started by Start and stopped by Stop or context
// cancellation; ProcessFrame on the embedded Denoiser is itself synchronous,
// so nothing in the per-frame path blocks on anything but the source read
// and the sink write.
type Processor struct {
	source     Source
	sink       Sink
	denoiser   denoise.Denoiser
	gainCtl    *gain.Controller
	logger     *logging.Logger
	sampleRate int
	blendRatio float64

	mu              sync.Mutex
	running         bool
	cancel          context.CancelFunc
	doneCh          chan struct{}
	fadeRemaining   int
	nextTimestampUs int64
	haveTimestamp   bool
	lastErr         error

	// inputBuf holds samples read from the source but not yet sliced into
	// a denoiser-sized chunk: Source.ReadFrame may hand back frames of any
	// length, while the denoiser only ever accepts exactly FrameSize()
	// samples at a time. chunkStartTs is the timestamp of the oldest
	// sample currently buffered, carried forward so a chunk emitted from
	// samples spanning more than one inbound Frame still gets a sane
	// timestamp.
	inputBuf     []float32
	chunkStartTs int64
}

// NewProcessor builds a Processor. blendRatio is the fraction of original
// (pre-denoise) signal ApplyGainWithBlend mixes back in under the external
// gain ramp — see gain.ApplyGainWithBlend.
func NewProcessor(source Source, sink Sink, denoiser denoise.Denoiser, gainCtl *gain.Controller, sampleRate int, blendRatio float64, logger *logging.Logger) *Processor {
	return &Processor{
		source:     source,
		sink:       sink,
		denoiser:   denoiser,
		gainCtl:    gainCtl,
		sampleRate: sampleRate,
		blendRatio: blendRatio,
		logger:     logger,
	}
}

// Start launches the processor's read/denoise/emit loop in its own
// goroutine. The loop runs until ctx is canceled, Stop is called, or the
// source reaches end of stream / returns an error.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.doneCh = make(chan struct{})
	p.fadeRemaining = FadeInSamples
	p.haveTimestamp = false
	p.lastErr = nil
	p.inputBuf = p.inputBuf[:0]
	p.mu.Unlock()

	go p.loop(loopCtx)
	return nil
}

// Stop cancels the processor's loop and waits for it to exit.
func (p *Processor) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	cancel := p.cancel
	done := p.doneCh
	p.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Err returns the error that stopped the loop, if it stopped abnormally. It
// is nil after a clean end of stream, a benign downstream close, or before
// the loop has stopped at all.
func (p *Processor) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Processor) setErr(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func (p *Processor) loop(ctx context.Context) {
	defer func() {
		p.mu.Lock()
		p.running = false
		close(p.doneCh)
		p.mu.Unlock()
	}()

	frameSize := p.denoiser.FrameSize()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, ok, err := p.source.ReadFrame(ctx)
		if err != nil {
			if p.logger != nil {
				p.logger.Error("track: source read failed", "error", err)
			}
			p.setErr(fmt.Errorf("%w: source read: %v", denoise.ErrPipelineAborted, err))
			return
		}
		if !ok {
			return
		}

		if !frame.Supported() {
			err := fmt.Errorf("%w: channel_count=%d format=%q", denoise.ErrUnsupportedFormat, frame.ChannelCount, frame.Format)
			if p.logger != nil {
				p.logger.Error("track: rejecting unsupported frame", "error", err)
			}
			p.setErr(fmt.Errorf("%w: %w", denoise.ErrPipelineAborted, err))
			return
		}

		// Reblock: accumulate this frame's samples, then drain as many
		// denoiser-sized chunks as are now available. A source that
		// happens to deliver exactly FrameSize() samples per read drains
		// in one iteration, same as before; a source delivering smaller
		// or larger chunks accumulates/splits across reads transparently.
		if len(p.inputBuf) == 0 {
			p.chunkStartTs = frame.TimestampUs
		}
		p.inputBuf = append(p.inputBuf, frame.Samples...)

		for len(p.inputBuf) >= frameSize {
			chunk := make([]float32, frameSize)
			copy(chunk, p.inputBuf[:frameSize])
			chunkTs := p.chunkStartTs
			p.inputBuf = p.inputBuf[frameSize:]
			if len(p.inputBuf) > 0 {
				p.chunkStartTs = chunkTs + int64(frameSize)*1_000_000/int64(p.sampleRate)
			}

			if !p.processAndEmit(ctx, Frame{Samples: chunk, TimestampUs: chunkTs, ChannelCount: 1, Format: FormatPCMFloat32Mono}) {
				return
			}
		}

		// Compact the buffered remainder onto a fresh slice so the
		// backing array from a long-running session's reads doesn't grow
		// without bound.
		if len(p.inputBuf) > 0 {
			p.inputBuf = append([]float32(nil), p.inputBuf...)
		}
	}
}

// processAndEmit runs one denoiser-sized chunk through the pipeline and
// writes it to the sink. It returns false when the loop should stop:
// either a benign downstream close or a hard processing/write failure.
func (p *Processor) processAndEmit(ctx context.Context, chunk Frame) bool {
	res, err := p.denoiser.ProcessFrame(chunk.Samples)
	if err != nil {
		if p.logger != nil {
			p.logger.Error("track: process frame failed", "error", err)
		}
		p.setErr(fmt.Errorf("%w: process frame: %v", denoise.ErrPipelineAborted, err))
		return false
	}

	out := p.emit(chunk, res)

	if err := p.sink.WriteFrame(ctx, out); err != nil {
		if errors.Is(err, denoise.ErrDownstreamClosed) {
			if p.logger != nil {
				p.logger.Info("track: downstream closed, stopping", "error", err)
			}
			return false
		}
		if p.logger != nil {
			p.logger.Error("track: sink write failed", "error", err)
		}
		p.setErr(fmt.Errorf("%w: sink write: %v", denoise.ErrPipelineAborted, err))
		return false
	}
	return true
}

// emit runs the per-frame finishing steps after denoising: the external
// VAD gain (spectral only, and only when the denoiser reported a positive
// VAD probability — a neural denoiser contributes no VAD, and a zero VAD
// means the frame carried no usable voice signal to gate on), the one-time
// startup fade-in, and a final soft clip before the frame leaves the
// pipeline.
func (p *Processor) emit(in Frame, res denoise.Result) Frame {
	output := make([]float32, len(res.Output))
	copy(output, res.Output)

	if p.denoiser.Type() == denoise.Spectral && res.VAD > 0 {
		prevGain := p.gainCtl.CurrentGain()
		newGain := p.gainCtl.ComputeGain(float64(res.VAD))
		gain.ApplyGainWithBlend(output, output, in.Samples, prevGain, newGain, p.blendRatio)
	}

	p.applyFadeIn(output)
	gain.ApplySoftClipping(output)

	return Frame{Samples: output, TimestampUs: p.deriveTimestamp(in), ChannelCount: 1, Format: FormatPCMFloat32Mono}
}

// applyFadeIn ramps the leading FadeInSamples samples of each session's
// output stream (not per-frame — the counter persists across calls and is
// reset by Start)
// from silence to unity using a smoothstep curve, so the ramp has no
// audible slope discontinuity at either end.
func (p *Processor) applyFadeIn(output []float32) {
	if p.fadeRemaining <= 0 {
		return
	}
	for i := 0; i < len(output) && p.fadeRemaining > 0; i++ {
		progress := 1 - float64(p.fadeRemaining)/float64(FadeInSamples)
		output[i] *= float32(smoothstep(progress))
		p.fadeRemaining--
	}
}

func smoothstep(x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	return x * x * (3 - 2*x)
}

// deriveTimestamp anchors the output stream's timestamp to the first
// frame's input timestamp, then advances it by each frame's exact sample
// duration — an offset computed purely from the loop's own frame count
// rather than re-read from the (possibly jittery) source timestamp on every
// frame, so small input jitter cannot accumulate into the output.
func (p *Processor) deriveTimestamp(in Frame) int64 {
	if !p.haveTimestamp {
		p.nextTimestampUs = in.TimestampUs
		p.haveTimestamp = true
	}
	ts := p.nextTimestampUs
	frameDurationUs := int64(len(in.Samples)) * 1_000_000 / int64(p.sampleRate)
	p.nextTimestampUs = ts + frameDurationUs
	return ts
}
