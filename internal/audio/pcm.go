package audio

import "encoding/binary"

// EncodeLE packs samples as little-endian signed 16-bit PCM. The result is
// always a new slice of length 2*len(samples).
func EncodeLE(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(v))
	}
	return out
}

// DecodeLE is the inverse of EncodeLE. A trailing odd byte is ignored.
func DecodeLE(data []byte) []int16 {
	out := make([]int16, len(data)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
	}
	return out
}
