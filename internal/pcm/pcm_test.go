package pcm

import (
	"encoding/binary"
	"math"
	"testing"
)

func sineFloat(sr int, hz float64, durMs int) []float32 {
	n := sr * durMs / 1000
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*hz*float64(i)/float64(sr)))
	}
	return out
}

func TestResampleIdentity(t *testing.T) {
	for _, rate := range []int{8000, 16000, 44100, 48000} {
		in := sineFloat(rate, 440, 20)
		out := ResampleLinear(in, rate, rate)
		if len(out) != len(in) {
			t.Fatalf("rate %d: length changed %d -> %d", rate, len(in), len(out))
		}
		for i := range in {
			if out[i] != in[i] {
				t.Fatalf("rate %d: sample %d changed", rate, i)
			}
		}
	}
}

func TestResampleLength(t *testing.T) {
	cases := []struct {
		n, in, out, want int
	}{
		{960, 48000, 16000, 320},
		{320, 16000, 48000, 960},
		{441, 44100, 16000, 160},
		{0, 44100, 16000, 0},
	}
	for _, c := range cases {
		got := ResampleLinear(make([]float32, c.n), c.in, c.out)
		if len(got) != c.want {
			t.Errorf("resample %d samples %d->%d: got %d want %d", c.n, c.in, c.out, len(got), c.want)
		}
	}
}

func TestResampleUpThenValuesBounded(t *testing.T) {
	in := sineFloat(16000, 300, 40)
	out := ResampleLinear(in, 16000, 48000)
	for i, v := range out {
		if v > 1 || v < -1 {
			t.Fatalf("interpolated sample %d out of range: %f", i, v)
		}
	}
}

func TestCodecRoundTrip(t *testing.T) {
	src := make([]int16, 0, 256)
	for i := -128; i < 128; i++ {
		src = append(src, int16(i*257))
	}
	src = append(src, math.MinInt16, math.MaxInt16, 0, 1, -1)

	raw := make([]byte, len(src)*2)
	for i, s := range src {
		binary.LittleEndian.PutUint16(raw[2*i:2*i+2], uint16(s))
	}

	// Attenuation disabled: the decode/encode pair must reproduce inputs
	// within one quantization step.
	back := EncodeWithAttenuation(Decode(raw), 1.0)
	if len(back) != len(raw) {
		t.Fatalf("length mismatch: %d != %d", len(back), len(raw))
	}
	for i := range src {
		got := int16(binary.LittleEndian.Uint16(back[2*i : 2*i+2]))
		diff := int(got) - int(src[i])
		if diff < -1 || diff > 1 {
			t.Fatalf("sample %d: %d -> %d (diff %d)", i, src[i], got, diff)
		}
	}
}

func TestEncodeClampsOvershoot(t *testing.T) {
	raw := EncodeWithAttenuation([]float32{2.5, -2.5}, 1.0)
	hi := int16(binary.LittleEndian.Uint16(raw[0:2]))
	lo := int16(binary.LittleEndian.Uint16(raw[2:4]))
	if hi != math.MaxInt16 {
		t.Errorf("positive overshoot: got %d want %d", hi, math.MaxInt16)
	}
	if lo != math.MinInt16 {
		t.Errorf("negative overshoot: got %d want %d", lo, math.MinInt16)
	}
}

func TestEncodeAttenuationLeavesHeadroom(t *testing.T) {
	raw := Encode([]float32{1.0})
	v := int16(binary.LittleEndian.Uint16(raw))
	scaled := float32(DefaultAttenuation) * 32767
	want := int16(scaled)
	if v != want {
		t.Errorf("attenuated full-scale: got %d want %d", v, want)
	}
}

func TestApplyEdgeFade(t *testing.T) {
	sr := 16000
	buf := make([]float32, 320)
	for i := range buf {
		buf[i] = 1
	}
	ApplyEdgeFade(buf, sr)
	if buf[0] != 0 || buf[len(buf)-1] != 0 {
		t.Fatalf("edges not silenced: first=%f last=%f", buf[0], buf[len(buf)-1])
	}
	fade := sr * 2 / 1000
	if buf[fade] != 1 || buf[len(buf)-1-fade] != 1 {
		t.Fatalf("fade extends past 2ms window")
	}
	// Monotonic ramp in.
	for i := 1; i < fade; i++ {
		if buf[i] < buf[i-1] {
			t.Fatalf("ramp not monotonic at %d", i)
		}
	}
}

func TestApplyEdgeFadeTinyBuffer(t *testing.T) {
	buf := []float32{1, 1, 1}
	ApplyEdgeFade(buf, 16000) // must not panic on buffers shorter than 2x fade
	if buf[0] != 0 || buf[2] != 0 {
		t.Fatalf("tiny buffer edges not faded: %v", buf)
	}
}

func TestDownmixAverage(t *testing.T) {
	stereo := []float32{1, 0, 0.5, 0.5, -1, 1}
	mono := DownmixAverage(stereo, 2)
	want := []float32{0.5, 0.5, 0}
	if len(mono) != len(want) {
		t.Fatalf("length: got %d want %d", len(mono), len(want))
	}
	for i := range want {
		if mono[i] != want[i] {
			t.Errorf("frame %d: got %f want %f", i, mono[i], want[i])
		}
	}
}

func TestHighPassRemovesDC(t *testing.T) {
	f := NewHighPass(20, 16000)
	var out []float32
	// 500ms of constant DC offset.
	for i := 0; i < 25; i++ {
		block := make([]float32, 320)
		for j := range block {
			block[j] = 0.8
		}
		out = f.Process(block)
	}
	tail := out[len(out)-1]
	if tail > 0.05 || tail < -0.05 {
		t.Fatalf("DC not removed: tail=%f", tail)
	}
}

func TestLowPassAttenuatesHighFrequency(t *testing.T) {
	sr := 48000
	lp := NewLowPass(7000, sr)
	high := lp.Process(sineFloat(sr, 20000, 100))
	lp2 := NewLowPass(7000, sr)
	low := lp2.Process(sineFloat(sr, 300, 100))

	if rms(high[sr/100:]) >= rms(low[sr/100:]) {
		t.Fatalf("20kHz not attenuated below 300Hz: %f >= %f", rms(high), rms(low))
	}
}

func rms(s []float32) float64 {
	var sum float64
	for _, v := range s {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(s)))
}
