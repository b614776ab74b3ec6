package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// DefaultTargetRate is the PCM output rate expected by the transcription service
const DefaultTargetRate = 16000

// base64ChunkSize is the number of raw bytes encoded per iteration when
// rendering transport payloads. It must be a multiple of 3 so concatenated
// chunks form a valid base64 stream. Multi-second frames can reach tens of
// thousands of samples; encoding in bounded chunks keeps each pass small.
const base64ChunkSize = 3072

// Chunk is an encoded audio frame ready for transport
type Chunk struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // Base64-encoded PCM16 little-endian
}

// EncodePCM16 converts float samples at sourceRate into 16-bit little-endian
// PCM at targetRate. Samples are pre-scaled by gain, then clamped to [-1, 1]
// and scaled to the signed 16-bit range.
//
// Resampling is nearest-below-index selection with no anti-aliasing filter.
// That is a deliberate lossy approximation: voice-bandwidth content dominates
// here and this path runs on every captured frame, so it trades fidelity for
// low CPU cost. Output length is ceil(len(samples) / (sourceRate/targetRate)).
//
// The function is pure and safe for concurrent use on independent inputs.
func EncodePCM16(samples []float32, sourceRate, targetRate int, gain float64) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty sample buffer")
	}
	if sourceRate <= 0 || targetRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: source=%d target=%d", sourceRate, targetRate)
	}
	if gain <= 0 {
		gain = 1.0
	}

	if sourceRate == targetRate {
		out := make([]byte, len(samples)*2)
		for i, s := range samples {
			putSample(out, i, scaleSample(s, gain))
		}
		return out, nil
	}

	ratio := float64(sourceRate) / float64(targetRate)
	outLen := int(math.Ceil(float64(len(samples)) / ratio))
	out := make([]byte, outLen*2)
	for i := 0; i < outLen; i++ {
		idx := int(float64(i) * ratio)
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		putSample(out, i, scaleSample(samples[idx], gain))
	}
	return out, nil
}

// EncodeFrame encodes float samples into a transport-ready chunk
func EncodeFrame(samples []float32, sourceRate, targetRate int, gain float64) (Chunk, error) {
	pcm, err := EncodePCM16(samples, sourceRate, targetRate, gain)
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{
		MimeType: MimeType(targetRate),
		Data:     EncodeBase64(pcm),
	}, nil
}

// EncodeBase64 renders bytes as standard base64, iterating in bounded chunks
// rather than a single pass over the whole buffer
func EncodeBase64(data []byte) string {
	var b strings.Builder
	b.Grow(base64.StdEncoding.EncodedLen(len(data)))
	for off := 0; off < len(data); off += base64ChunkSize {
		end := off + base64ChunkSize
		if end > len(data) {
			end = len(data)
		}
		b.WriteString(base64.StdEncoding.EncodeToString(data[off:end]))
	}
	return b.String()
}

// DecodeFloat32 interprets raw bytes as little-endian float32 samples, the
// format capture clients submit audio in
func DecodeFloat32(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("sample data length %d is not a multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// MimeType returns the PCM MIME declaration for the given sample rate
func MimeType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// RMS calculates the root mean square of float samples.
// Useful for detecting audio levels and silence.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// scaleSample applies gain, clamps to [-1, 1], and scales to int16 range.
// Gain is applied before the clamp so hot inputs saturate instead of wrapping.
func scaleSample(s float32, gain float64) int16 {
	v := float64(s) * gain
	if v > 1.0 {
		v = 1.0
	} else if v < -1.0 {
		v = -1.0
	}
	if v < 0 {
		return int16(v * 32768)
	}
	return int16(v * 32767)
}

func putSample(out []byte, i int, v int16) {
	out[i*2] = byte(v)
	out[i*2+1] = byte(uint16(v) >> 8)
}
