// Package pcm converts between floating-point sample buffers and the wire
// encoding used by realtime dialog services: 16-bit little-endian PCM
// wrapped in base64, tagged with an audio/pcm MIME type.
//
// Encoding is lossless up to 16-bit quantisation (1/32768 amplitude error
// per sample) and never fails on well-formed input — out-of-range samples
// are clamped, not rejected. Decoding is split in two stages to mirror the
// wire format: [Decode] unwraps base64 into raw PCM bytes, and
// [DecodeAudioData] interprets those bytes as playable audio.
package pcm

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio"
)

// Blob is an opaque wire payload: base64-wrapped 16-bit PCM plus its
// declared MIME/encoding tag. Blobs are produced by [Encode] for outbound
// audio and received from the dialog transport for inbound audio.
type Blob struct {
	// MIMEType declares the encoding, e.g. "audio/pcm;rate=16000".
	MIMEType string

	// Data is the base64-encoded little-endian int16 PCM payload.
	Data string
}

// Rate parses the sample rate from the blob's MIME tag
// (e.g. "audio/pcm;rate=24000"). Returns 0 when no rate parameter is
// present.
func (b Blob) Rate() int {
	const marker = "rate="
	idx := strings.Index(b.MIMEType, marker)
	if idx < 0 {
		return 0
	}
	rest := b.MIMEType[idx+len(marker):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	rate, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0
	}
	return rate
}

// DecodeError reports a malformed inbound payload. Decode failures are
// local and non-fatal: the offending chunk is dropped and playback of
// subsequent chunks continues unaffected.
type DecodeError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pcm: %s: %v", e.Reason, e.Err)
	}
	return "pcm: " + e.Reason
}

// Unwrap returns the underlying cause, if any.
func (e *DecodeError) Unwrap() error { return e.Err }

// Encode converts float samples in [-1, 1] to a wire [Blob]. Each sample
// is clamped, scaled by 32767, rounded to int16, packed little-endian and
// base64-wrapped. The MIME tag records the given sample rate.
func Encode(samples []float32, sampleRate int) Blob {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		buf[i*2] = byte(v)
		buf[i*2+1] = byte(v >> 8)
	}
	return Blob{
		MIMEType: fmt.Sprintf("audio/pcm;rate=%d", sampleRate),
		Data:     base64.StdEncoding.EncodeToString(buf),
	}
}

// Decode unwraps the base64 layer of a wire payload and returns the raw
// PCM bytes. Returns a [*DecodeError] if data is not valid base64.
func Decode(data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64 payload", Err: err}
	}
	return raw, nil
}

// DecodeAudioData interprets raw bytes as little-endian int16 PCM and
// returns a playable [audio.Chunk] at the given sample rate and channel
// count. Samples are converted back to float32 via s/32768 and
// deinterleaved across channels in round-robin order when channels > 1.
//
// Returns a [*DecodeError] if the byte length is not a multiple of 2.
// Trailing samples that do not fill a complete multi-channel frame are
// dropped.
func DecodeAudioData(raw []byte, sampleRate, channels int) (audio.Chunk, error) {
	if len(raw)%2 != 0 {
		return audio.Chunk{}, &DecodeError{
			Reason: fmt.Sprintf("odd PCM byte count %d", len(raw)),
		}
	}
	if channels < 1 {
		channels = 1
	}

	total := len(raw) / 2
	perChannel := total / channels

	data := make([][]float32, channels)
	for ch := range data {
		data[ch] = make([]float32, perChannel)
	}

	for i := 0; i < perChannel*channels; i++ {
		s := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		data[i%channels][i/channels] = float32(s) / 32768
	}

	return audio.Chunk{Data: data, SampleRate: sampleRate}, nil
}
