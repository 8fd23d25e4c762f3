package pcm

import "math"

// HighPass is a stateful one-pole high-pass filter. At a ~20Hz cutoff it
// strips DC offset and low rumble from microphone input. State carries across
// Process calls so the filter can run on streaming blocks.
type HighPass struct {
	alpha float32
	prevX float32
	prevY float32
	prime bool
}

// NewHighPass builds a high-pass filter for the given cutoff and sample rate.
func NewHighPass(cutoffHz float64, sampleRate int) *HighPass {
	rc := 1.0 / (2 * math.Pi * cutoffHz)
	dt := 1.0 / float64(sampleRate)
	return &HighPass{alpha: float32(rc / (rc + dt))}
}

// Process filters the block in place and returns it.
func (f *HighPass) Process(samples []float32) []float32 {
	for i, x := range samples {
		if !f.prime {
			f.prime = true
			f.prevX = x
			f.prevY = 0
			samples[i] = 0
			continue
		}
		y := f.alpha * (f.prevY + x - f.prevX)
		f.prevX = x
		f.prevY = y
		samples[i] = y
	}
	return samples
}

// ProcessSample filters a single sample, for callers that stride through
// interleaved channels with one filter per channel.
func (f *HighPass) ProcessSample(x float32) float32 {
	if !f.prime {
		f.prime = true
		f.prevX = x
		f.prevY = 0
		return 0
	}
	y := f.alpha * (f.prevY + x - f.prevX)
	f.prevX = x
	f.prevY = y
	return y
}

// Reset clears filter memory.
func (f *HighPass) Reset() {
	f.prevX, f.prevY, f.prime = 0, 0, false
}

// LowPass is a stateful one-pole low-pass filter used as an anti-alias guard
// before downsampling (~7kHz cutoff for a 16kHz target rate).
type LowPass struct {
	alpha float32
	prevY float32
	prime bool
}

// NewLowPass builds a low-pass filter for the given cutoff and sample rate.
func NewLowPass(cutoffHz float64, sampleRate int) *LowPass {
	rc := 1.0 / (2 * math.Pi * cutoffHz)
	dt := 1.0 / float64(sampleRate)
	return &LowPass{alpha: float32(dt / (rc + dt))}
}

// Process filters the block in place and returns it.
func (f *LowPass) Process(samples []float32) []float32 {
	for i, x := range samples {
		if !f.prime {
			f.prime = true
			f.prevY = x
			continue
		}
		f.prevY += f.alpha * (x - f.prevY)
		samples[i] = f.prevY
	}
	return samples
}

// ProcessSample filters a single sample.
func (f *LowPass) ProcessSample(x float32) float32 {
	if !f.prime {
		f.prime = true
		f.prevY = x
		return x
	}
	f.prevY += f.alpha * (x - f.prevY)
	return f.prevY
}

// Reset clears filter memory.
func (f *LowPass) Reset() {
	f.prevY, f.prime = 0, false
}
