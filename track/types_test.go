package track

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/pion/webrtc/v4/pkg/media"

	"bken/noisedsp/denoise"
)

type fakeSampleWriter struct {
	samples []media.Sample
	err     error
}

func (f *fakeSampleWriter) WriteSample(s media.Sample) error {
	if f.err != nil {
		return f.err
	}
	f.samples = append(f.samples, s)
	return nil
}

func TestWebRTCSinkEncodesPCM16(t *testing.T) {
	w := &fakeSampleWriter{}
	sink := NewWebRTCSink(w, 16000)

	frame := Frame{Samples: []float32{1, -1, 0}, TimestampUs: 0, ChannelCount: 1, Format: FormatPCMFloat32Mono}
	if err := sink.WriteFrame(context.Background(), frame); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if len(w.samples) != 1 {
		t.Fatalf("writer received %d samples, want 1", len(w.samples))
	}
	data := w.samples[0].Data
	if len(data) != 6 {
		t.Fatalf("encoded data length = %d, want 6 (3 samples * 2 bytes)", len(data))
	}
	first := int16(binary.LittleEndian.Uint16(data[0:2]))
	if first != 32767 {
		t.Errorf("first sample encoded = %d, want 32767", first)
	}
}

func TestWebRTCSinkMapsClosedPipeToDownstreamClosed(t *testing.T) {
	w := &fakeSampleWriter{err: io.ErrClosedPipe}
	sink := NewWebRTCSink(w, 16000)

	frame := Frame{Samples: []float32{0, 0}, ChannelCount: 1, Format: FormatPCMFloat32Mono}
	err := sink.WriteFrame(context.Background(), frame)
	if !errors.Is(err, denoise.ErrDownstreamClosed) {
		t.Errorf("WriteFrame after closed pipe = %v, want wrapping ErrDownstreamClosed", err)
	}
}
