package pcm

import "math"

// ResampleLinear converts samples from inRate to outRate by linear
// interpolation at fractional source positions. It returns the input slice
// unchanged when the rates match. Output length is round(n * outRate/inRate).
//
// This is deliberately not band-limited: voice content dominates and the
// capture chain low-passes near the target Nyquist before downsampling.
func ResampleLinear(samples []float32, inRate, outRate int) []float32 {
	if inRate == outRate || len(samples) == 0 {
		return samples
	}
	outLen := int(math.Round(float64(len(samples)) * float64(outRate) / float64(inRate)))
	if outLen <= 0 {
		return nil
	}
	out := make([]float32, outLen)
	step := float64(inRate) / float64(outRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		i0 := int(pos)
		if i0 >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(i0))
		out[i] = samples[i0] + (samples[i0+1]-samples[i0])*frac
	}
	return out
}

// ApplyEdgeFade linearly ramps roughly the first and last 2ms of the buffer
// to zero in place, removing discontinuity clicks at chunk boundaries. Apply
// after resampling, before scheduling.
func ApplyEdgeFade(samples []float32, sampleRate int) {
	fade := sampleRate * 2 / 1000
	if fade <= 0 {
		return
	}
	if fade > len(samples)/2 {
		fade = len(samples) / 2
	}
	for i := 0; i < fade; i++ {
		g := float32(i) / float32(fade)
		samples[i] *= g
		samples[len(samples)-1-i] *= g
	}
}

// DownmixAverage folds interleaved multi-channel samples to mono by
// averaging the channels of each frame. Trailing samples that do not form a
// complete frame are dropped.
func DownmixAverage(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
