package track

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"bken/noisedsp/denoise"
	"bken/noisedsp/denoise/spectral"
	"bken/noisedsp/gain"
)

type fakeSource struct {
	mu      sync.Mutex
	frames  []Frame
	i       int
	readErr error
}

func (f *fakeSource) ReadFrame(ctx context.Context) (Frame, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return Frame{}, false, f.readErr
	}
	if f.i >= len(f.frames) {
		return Frame{}, false, nil
	}
	fr := f.frames[f.i]
	f.i++
	return fr, true, nil
}

type fakeSink struct {
	mu     sync.Mutex
	frames []Frame
}

func (s *fakeSink) WriteFrame(ctx context.Context, frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSink) totalSamples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.frames {
		n += len(f.Samples)
	}
	return n
}

// closedAfterSink returns denoise.ErrDownstreamClosed once it has accepted
// after frames, simulating a track whose remote side stopped reading.
type closedAfterSink struct {
	mu     sync.Mutex
	after  int
	frames []Frame
}

func (s *closedAfterSink) WriteFrame(ctx context.Context, frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) >= s.after {
		return denoise.ErrDownstreamClosed
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *closedAfterSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

const testFrameSize = 160

func newTestProcessor(source Source, sink Sink) *Processor {
	d := spectral.New(spectral.NewReferenceKernel(testFrameSize), spectral.DefaultConfig(), nil)
	_ = d.Initialize(context.Background())
	gc := gain.New(gain.DefaultConfig(), nil)
	return NewProcessor(source, sink, d, gc, 16000, 0.0, nil)
}

func makeFrames(n int) []Frame {
	frames := make([]Frame, n)
	for i := range frames {
		frames[i] = Frame{
			Samples:      make([]float32, testFrameSize),
			TimestampUs:  int64(i) * 10000,
			ChannelCount: 1,
			Format:       FormatPCMFloat32Mono,
		}
	}
	return frames
}

func TestProcessorEmitsOneFrameOutPerFrameIn(t *testing.T) {
	src := &fakeSource{frames: makeFrames(5)}
	sink := &fakeSink{}
	p := newTestProcessor(src, sink)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForDrain(t, sink, 5)
	// The loop exits on its own at end of stream, so Stop may find it
	// already stopped and report ErrNotRunning.
	if err := p.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop failed: %v", err)
	}
	if sink.count() != 5 {
		t.Errorf("sink received %d frames, want 5", sink.count())
	}
}

func TestProcessorDoubleStartFails(t *testing.T) {
	src := &fakeSource{frames: makeFrames(1)}
	sink := &fakeSink{}
	p := newTestProcessor(src, sink)
	_ = p.Start(context.Background())
	if err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
	_ = p.Stop()
}

func TestProcessorStopWithoutStartFails(t *testing.T) {
	p := newTestProcessor(&fakeSource{}, &fakeSink{})
	if err := p.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop without Start = %v, want ErrNotRunning", err)
	}
}

func TestProcessorFadeInRampsFromSilence(t *testing.T) {
	src := &fakeSource{frames: makeFramesAtFullScale(1)}
	sink := &fakeSink{}
	p := newTestProcessor(src, sink)
	_ = p.Start(context.Background())
	waitForDrain(t, sink, 1)
	_ = p.Stop()

	out := sink.frames[0].Samples
	if out[0] > 0.05 {
		t.Errorf("first output sample = %v, want near 0 during fade-in", out[0])
	}
}

func TestProcessorSourceErrorStopsLoop(t *testing.T) {
	src := &fakeSource{readErr: io.ErrClosedPipe}
	sink := &fakeSink{}
	p := newTestProcessor(src, sink)
	_ = p.Start(context.Background())
	// The loop exits on its own once it sees the read error, so by the time
	// Stop runs it may already have stopped — either outcome is fine, as
	// long as the processor is not left running.
	if err := p.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop returned unexpected error: %v", err)
	}
}

func makeFramesAtFullScale(n int) []Frame {
	frames := make([]Frame, n)
	for i := range frames {
		samples := make([]float32, testFrameSize)
		for j := range samples {
			samples[j] = 0.8
		}
		frames[i] = Frame{
			Samples:      samples,
			TimestampUs:  int64(i) * 10000,
			ChannelCount: 1,
			Format:       FormatPCMFloat32Mono,
		}
	}
	return frames
}

// makeSmallFrames splits totalChunks*testFrameSize total samples into frames of
// chunkLen samples each, well under the denoiser's frame size, so the
// processor must reblock across several reads before it has enough to run
// the denoiser once.
func makeSmallFrames(totalChunks, chunkLen int) []Frame {
	n := (totalChunks * testFrameSize) / chunkLen
	frames := make([]Frame, n)
	for i := range frames {
		samples := make([]float32, chunkLen)
		for j := range samples {
			samples[j] = 0.1
		}
		frames[i] = Frame{
			Samples:      samples,
			TimestampUs:  int64(i) * 1000,
			ChannelCount: 1,
			Format:       FormatPCMFloat32Mono,
		}
	}
	return frames
}

func TestProcessorReblocksVariableSizedFrames(t *testing.T) {
	// 3 denoiser-sized chunks' worth of samples, split into reads of 40
	// samples each (testFrameSize is 160, so 4 reads assemble one chunk).
	src := &fakeSource{frames: makeSmallFrames(3, 40)}
	sink := &fakeSink{}
	p := newTestProcessor(src, sink)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForDrain(t, sink, 3)
	_ = p.Stop()

	if sink.count() != 3 {
		t.Fatalf("sink received %d frames, want 3 reblocked frames", sink.count())
	}
	if got, want := sink.totalSamples(), 3*testFrameSize; got != want {
		t.Errorf("total samples emitted = %d, want %d (conservation across reblocking)", got, want)
	}
}

func TestProcessorRejectsUnsupportedFormat(t *testing.T) {
	bad := Frame{Samples: make([]float32, testFrameSize), ChannelCount: 2, Format: FormatPCMFloat32Mono}
	src := &fakeSource{frames: []Frame{bad}}
	sink := &fakeSink{}
	p := newTestProcessor(src, sink)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && p.Err() == nil {
		time.Sleep(time.Millisecond)
	}
	_ = p.Stop()

	if !errors.Is(p.Err(), denoise.ErrUnsupportedFormat) {
		t.Errorf("Err() = %v, want wrapping ErrUnsupportedFormat", p.Err())
	}
	if sink.count() != 0 {
		t.Errorf("sink received %d frames, want 0 for a rejected format", sink.count())
	}
}

func TestProcessorStopsGracefullyOnDownstreamClosed(t *testing.T) {
	src := &fakeSource{frames: makeFrames(10)}
	sink := &closedAfterSink{after: 2}
	p := newTestProcessor(src, sink)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sink.count() < 2 {
		time.Sleep(time.Millisecond)
	}
	_ = p.Stop()

	if sink.count() != 2 {
		t.Fatalf("sink received %d frames, want 2 before downstream closed", sink.count())
	}
	if err := p.Err(); err != nil {
		t.Errorf("Err() = %v, want nil: a closed downstream is benign, not a pipeline error", err)
	}
}

func waitForDrain(t *testing.T, sink *fakeSink, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sink.count() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("sink only received %d frames, want %d", sink.count(), want)
}
