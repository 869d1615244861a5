package audio

import "encoding/binary"

const (
	normalizeScale = 32768.0
	storageScale   = 32767.0
)

// Amplify normalizes little-endian int16 PCM to [-1, 1), multiplies by gain,
// clips to [-1, 1] and converts back to int16 PCM for storage. A trailing
// odd byte is dropped. The input is not modified.
func Amplify(pcm []byte, gain float32) []byte {
	return FloatToPCM16(AmplifyFloat(pcm, gain))
}

// AmplifyFloat is the float stage of Amplify. Every returned sample is
// already clipped to [-1, 1].
func AmplifyFloat(pcm []byte, gain float32) []float32 {
	n := len(pcm) / BytesPerSample
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
		out[i] = clip(float32(sample) / normalizeScale * gain)
	}
	return out
}

// FloatToPCM16 scales samples by 32767 and truncates to int16 PCM.
// Samples outside [-1, 1] are clipped first so the conversion never wraps.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := int16(clip(s) * storageScale)
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(v))
	}
	return out
}

// PCM16ToInts widens int16 PCM to ints for encoders that expect them.
func PCM16ToInts(pcm []byte) []int {
	n := len(pcm) / BytesPerSample
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:])))
	}
	return out
}

func clip(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
