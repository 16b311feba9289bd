package source

import "encoding/binary"

// convertU8 converts interleaved unsigned 8-bit I/Q pairs as produced by
// RTL-SDR dongles.
func convertU8(raw []byte) []complex64 {
	samples := make([]complex64, len(raw)/2)
	for i := range samples {
		re := (float32(raw[2*i]) - 127.5) / 127.5
		im := (float32(raw[2*i+1]) - 127.5) / 127.5
		samples[i] = complex(re, im)
	}
	return samples
}

// convertS8 converts interleaved signed 8-bit I/Q pairs as written by
// hackrf_transfer.
func convertS8(raw []byte) []complex64 {
	samples := make([]complex64, len(raw)/2)
	for i := range samples {
		re := float32(int8(raw[2*i])) / 128
		im := float32(int8(raw[2*i+1])) / 128
		samples[i] = complex(re, im)
	}
	return samples
}

// convertS16LE converts interleaved signed 16-bit little-endian I/Q pairs.
func convertS16LE(raw []byte) []complex64 {
	samples := make([]complex64, len(raw)/4)
	for i := range samples {
		re := int16(binary.LittleEndian.Uint16(raw[4*i:]))
		im := int16(binary.LittleEndian.Uint16(raw[4*i+2:]))
		samples[i] = complex(float32(re)/32768.0, float32(im)/32768.0)
	}
	return samples
}

// convertInts converts interleaved I/Q integers of the given bit depth. It
// returns nil for a bit depth outside 1..32.
func convertInts(data []int, bitDepth int) []complex64 {
	if bitDepth < 1 || bitDepth > 32 {
		return nil
	}
	scale := float32(int(1) << (bitDepth - 1))
	samples := make([]complex64, len(data)/2)
	for i := range samples {
		samples[i] = complex(float32(data[2*i])/scale, float32(data[2*i+1])/scale)
	}
	return samples
}
