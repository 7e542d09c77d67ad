package neural

import (
	"context"
	"errors"
	"math"
	"testing"

	"bken/noisedsp/denoise"
)

const testFrameSize = 160

func newTestDenoiser(t *testing.T) *Denoiser {
	t.Helper()
	d := New(NewReferenceKernel(testFrameSize), DefaultConfig(), nil)
	if err := d.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return d
}

func TestNeuralReportsNeuralTypeAndZeroVAD(t *testing.T) {
	d := newTestDenoiser(t)
	if d.Type() != denoise.Neural {
		t.Errorf("Type() = %v, want Neural", d.Type())
	}
	in := make([]float32, testFrameSize)
	for i := range in {
		in[i] = 0.2
	}
	res, err := d.ProcessFrame(in)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}
	if res.VAD != 0 {
		t.Errorf("VAD = %v, want 0 for neural denoiser", res.VAD)
	}
}

func TestNeuralAttenuationNeverExceedsLimit(t *testing.T) {
	d := newTestDenoiser(t)
	in := make([]float32, testFrameSize)
	for i := range in {
		in[i] = 0.5
	}
	res, err := d.ProcessFrame(in)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}
	floor := 0.5 * math.Pow(10, -DefaultConfig().AttenLimitDB/20)
	for i, s := range res.Output {
		if abs(s) < float32(floor)-1e-4 {
			t.Fatalf("sample %d attenuated below floor: got %v, floor %v", i, s, floor)
		}
	}
}

func TestNeuralFrameSizeMismatch(t *testing.T) {
	d := newTestDenoiser(t)
	_, err := d.ProcessFrame(make([]float32, testFrameSize+5))
	if !errors.Is(err, denoise.ErrFrameSizeMismatch) {
		t.Errorf("ProcessFrame wrong size = %v, want ErrFrameSizeMismatch", err)
	}
}

func TestNeuralConfigureUpdatesAttenFloor(t *testing.T) {
	d := newTestDenoiser(t)
	before := d.attenFloorLn
	if err := d.Configure(map[string]any{"atten_limit_db": 6.0}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if d.attenFloorLn == before {
		t.Errorf("attenFloorLn unchanged after Configure with a new atten_limit_db")
	}
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
