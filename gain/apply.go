package gain

import "bken/noisedsp/internal/dsp"

// ApplyGain scales frame in place by a single flat gain value.
func ApplyGain(frame []float32, g float64) {
	gf := float32(g)
	for i := range frame {
		frame[i] *= gf
	}
}

// ApplyGainInterpolated scales frame in place by a gain ramped linearly from
// gStart to gEnd across the frame, avoiding an audible step when gain
// changes between frames.
func ApplyGainInterpolated(frame []float32, gStart, gEnd float64) {
	n := len(frame)
	if n == 0 {
		return
	}
	if n == 1 {
		frame[0] *= float32(gEnd)
		return
	}
	for i := range frame {
		t := float64(i) / float64(n-1)
		g := dsp.Lerp64(gStart, gEnd, t)
		frame[i] *= float32(g)
	}
}

// ApplyGainWithBlend writes into out the per-sample interpolated gain
// applied to the denoised output, plus a leak of the original (pre-denoise)
// signal weighted by max(0, 1-g)*blendRatio*g: zero at full gain (pure
// denoised output, no original bleed-through), and largest near the gate
// floor, where a sliver of the original reads as natural room tone instead
// of a hard digital silence. out, output, and original must be equal
// length.
func ApplyGainWithBlend(out, output, original []float32, prevGain, gain, blendRatio float64) {
	n := len(out)
	if n == 0 {
		return
	}
	for i := 0; i < n; i++ {
		t := 0.0
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		g := dsp.Lerp64(prevGain, gain, t)
		leak := 1 - g
		if leak < 0 {
			leak = 0
		}
		leak *= blendRatio * g
		out[i] = float32(g)*output[i] + float32(leak)*original[i]
	}
}

// ApplySoftClipping runs dsp.SoftClip over frame in place, guarding against
// inter-sample overs introduced by gain application before the frame is
// handed to the track's sink.
func ApplySoftClipping(frame []float32) {
	for i, s := range frame {
		frame[i] = dsp.SoftClip(s)
	}
}
