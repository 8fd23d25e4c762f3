// Package pcm converts between the wire format (16-bit little-endian integer
// PCM) and the processing format (normalized float32 samples), and provides
// the cheap rate conversion and boundary conditioning the realtime pipeline
// relies on.
package pcm

import "encoding/binary"

// DefaultAttenuation leaves headroom before quantization so filter overshoot
// upstream cannot clip on the wire.
const DefaultAttenuation = 0.85

// Decode converts little-endian int16 wire bytes to normalized float32
// samples in [-1, 1). A trailing odd byte is ignored.
func Decode(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[2*i : 2*i+2]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Encode quantizes normalized samples to little-endian int16 wire bytes with
// the default safety attenuation applied.
func Encode(samples []float32) []byte {
	return EncodeWithAttenuation(samples, DefaultAttenuation)
}

// EncodeWithAttenuation quantizes normalized samples to little-endian int16
// wire bytes. Samples are clamped to [-1, 1] first; positive values scale by
// 32767 and negative by 32768 so the negative rail cannot overflow.
func EncodeWithAttenuation(samples []float32, attenuation float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * attenuation
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		var q int16
		if v >= 0 {
			q = int16(v * 32767)
		} else {
			q = int16(v * 32768)
		}
		binary.LittleEndian.PutUint16(out[2*i:2*i+2], uint16(q))
	}
	return out
}
