// Package audio holds the PCM parameters of the sensor stream, the
// amplitude transform, fixed-size windowing and the WAV/FLAC encoders.
package audio

const (
	SampleRate    = 16000
	BitsPerSample = 16
	Channels      = 1

	// BytesPerSample is the size of one mono 16-bit sample.
	BytesPerSample = BitsPerSample / 8 * Channels

	// WindowSeconds is the duration of one incremental transcription window.
	WindowSeconds = 3

	// WindowBytes is the fixed window length handed to the transcriber.
	WindowBytes = SampleRate * WindowSeconds * BytesPerSample

	// Gain is the amplification applied before clipping.
	Gain = 5.0
)

// BytesToDuration converts a PCM byte count to seconds of audio.
func BytesToDuration(n int) float64 {
	return float64(n/BytesPerSample) / float64(SampleRate)
}
