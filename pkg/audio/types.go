package audio

import "time"

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Frame is a single capture window of floating-point samples in [-1, 1],
// produced by an input device at a fixed cadence. Frames are ephemeral:
// the capture pipeline encodes and forwards them immediately.
type Frame struct {
	// Samples holds mono float32 samples in the range [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for model input).
	SampleRate int
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Chunk is a playable buffer of decoded audio: per-channel float32 samples
// at a known sample rate. Chunks are produced by the codec from inbound
// wire payloads and consumed by the playback scheduler.
type Chunk struct {
	// Data holds one sample slice per channel. All channels have equal length.
	Data [][]float32

	// SampleRate in Hz (e.g., 24000 for model output).
	SampleRate int
}

// Channels returns the channel count of the chunk.
func (c Chunk) Channels() int { return len(c.Data) }

// Duration returns the playback duration of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 || len(c.Data) == 0 {
		return 0
	}
	return time.Duration(len(c.Data[0])) * time.Second / time.Duration(c.SampleRate)
}
