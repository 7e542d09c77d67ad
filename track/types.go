// Package track implements C9: the track processor that sits on a media
// track's capture path, reblocking inbound audio into fixed-size frames,
// running each through a Denoiser, applying the external VAD gain and
// fade-in envelope, and handing the result to a sink. Source and Sink
// mirror the inbound/outbound track abstractions pion/webrtc/v4 already
// gives the client (TrackRemote on read, TrackLocalStaticSample on write),
// kept as narrow interfaces so the processor never depends on a live PeerConnection.
package track

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"

	"bken/noisedsp/denoise"
	"bken/noisedsp/internal/dsp"
)

// Format identifies the sample layout a Frame carries. The pipeline only
// ever denoises a single channel; a Frame tagged with anything else is
// rejected at the processor's input boundary rather than silently
// downmixed or dropped.
type Format string

// FormatPCMFloat32Mono is the only format the processor accepts: one
// channel of float32 samples in [-1,1].
const FormatPCMFloat32Mono Format = "PCM_FLOAT32_MONO"

// Frame is one block of audio moving through the pipeline: float32 PCM
// samples in [-1,1], tagged with a channel count, a format, and a
// timestamp in microseconds. Inbound frames need not match the denoiser's
// frame size — the processor reblocks variable-sized input into
// fixed-size chunks before running it through the denoiser.
type Frame struct {
	Samples      []float32
	TimestampUs  int64
	ChannelCount int
	Format       Format
}

// Supported reports whether f carries a format the processor can run: a
// single channel of PCMFloat32Mono samples.
func (f Frame) Supported() bool {
	return f.ChannelCount == 1 && f.Format == FormatPCMFloat32Mono
}

// Source produces Frames for the processor to consume. ReadFrame returns
// ok=false with a nil error at a clean end of stream (track ended), and a
// non-nil error on any read failure. It may block until a frame is
// available or ctx is canceled.
type Source interface {
	ReadFrame(ctx context.Context) (frame Frame, ok bool, err error)
}

// Sink accepts the processor's reconstructed Frames.
type Sink interface {
	WriteFrame(ctx context.Context, frame Frame) error
}

// SampleWriter is the subset of *webrtc.TrackLocalStaticSample the sink
// adapter needs — narrowed so tests can supply a fake without standing up a
// real PeerConnection.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

// WebRTCSink adapts a SampleWriter (a *webrtc.TrackLocalStaticSample in
// production) into a track.Sink, encoding each Frame's float32 PCM as
// little-endian int16 bytes — the same width a pion RTP Opus/PCM track
// payload is built from — before handing it to WriteSample.
type WebRTCSink struct {
	writer     SampleWriter
	sampleRate int
}

// NewWebRTCSink builds a WebRTCSink writing to writer at sampleRate Hz.
func NewWebRTCSink(writer SampleWriter, sampleRate int) *WebRTCSink {
	return &WebRTCSink{writer: writer, sampleRate: sampleRate}
}

// WriteFrame encodes frame as little-endian int16 PCM and hands it to the
// underlying SampleWriter. A write against a track nobody is reading from
// anymore (io.ErrClosedPipe, the error pion's TrackLocalStaticSample
// returns once it has no bound receivers, or io.EOF) is reported as
// denoise.ErrDownstreamClosed so the processor can treat it as the benign,
// graceful-stop case rather than a hard failure.
func (s *WebRTCSink) WriteFrame(ctx context.Context, frame Frame) error {
	pcm := make([]byte, len(frame.Samples)*2)
	for i, v := range frame.Samples {
		iv := int16(dsp.Clamp(v, -1, 1) * 32767)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(iv))
	}
	duration := time.Second * time.Duration(len(frame.Samples)) / time.Duration(s.sampleRate)
	if err := s.writer.WriteSample(media.Sample{Data: pcm, Duration: duration}); err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %v", denoise.ErrDownstreamClosed, err)
		}
		return err
	}
	return nil
}
