package audio

import (
	"bytes"
	"encoding/base64"
	"math"
	"testing"
)

func decodeSamples(t *testing.T, pcm []byte) []int16 {
	t.Helper()
	if len(pcm)%2 != 0 {
		t.Fatalf("PCM byte length must be even, got %d", len(pcm))
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

func TestEncodePCM16_SameRate(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 1, -1, 2, -2}

	pcm, err := EncodePCM16(in, 16000, 16000, 1.0)
	if err != nil {
		t.Fatalf("EncodePCM16 failed: %v", err)
	}

	got := decodeSamples(t, pcm)
	want := []int16{0, 16383, -16384, 32767, -32768, 32767, -32768}
	if len(got) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestEncodePCM16_OutputLength(t *testing.T) {
	tests := []struct {
		name       string
		n          int
		sourceRate int
		targetRate int
	}{
		{"48k to 16k", 4800, 48000, 16000},
		{"44.1k to 16k", 1000, 44100, 16000},
		{"24k to 16k", 2400, 24000, 16000},
		{"8k to 16k upsample", 800, 8000, 16000},
		{"single sample", 1, 48000, 16000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]float32, tt.n)
			for i := range in {
				in[i] = float32(math.Sin(float64(i) * 0.01))
			}

			pcm, err := EncodePCM16(in, tt.sourceRate, tt.targetRate, 1.0)
			if err != nil {
				t.Fatalf("EncodePCM16 failed: %v", err)
			}

			ratio := float64(tt.sourceRate) / float64(tt.targetRate)
			wantLen := int(math.Ceil(float64(tt.n) / ratio))
			if len(pcm) != wantLen*2 {
				t.Errorf("Expected %d output samples, got %d", wantLen, len(pcm)/2)
			}
		})
	}
}

func TestEncodePCM16_Deterministic(t *testing.T) {
	in := make([]float32, 4096)
	for i := range in {
		in[i] = float32(math.Sin(float64(i) * 0.02))
	}

	first, err := EncodePCM16(in, 44100, 16000, 1.4)
	if err != nil {
		t.Fatalf("EncodePCM16 failed: %v", err)
	}
	second, err := EncodePCM16(in, 44100, 16000, 1.4)
	if err != nil {
		t.Fatalf("EncodePCM16 failed: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("Identical input and rates produced different bytes")
	}
}

func TestEncodePCM16_GainAppliedBeforeClamp(t *testing.T) {
	// 0.9 * 1.4 = 1.26 which must clamp to full scale rather than wrap
	pcm, err := EncodePCM16([]float32{0.9, -0.9}, 16000, 16000, 1.4)
	if err != nil {
		t.Fatalf("EncodePCM16 failed: %v", err)
	}

	got := decodeSamples(t, pcm)
	if got[0] != 32767 {
		t.Errorf("Expected positive clip to 32767, got %d", got[0])
	}
	if got[1] != -32768 {
		t.Errorf("Expected negative clip to -32768, got %d", got[1])
	}
}

func TestEncodePCM16_EmptyInput(t *testing.T) {
	if _, err := EncodePCM16(nil, 16000, 16000, 1.0); err == nil {
		t.Error("Expected error for empty sample buffer")
	}
}

func TestEncodePCM16_InvalidRate(t *testing.T) {
	if _, err := EncodePCM16([]float32{0}, 0, 16000, 1.0); err == nil {
		t.Error("Expected error for zero source rate")
	}
}

func TestEncodeBase64_MatchesStdlib(t *testing.T) {
	// Multi-second buffer: well past the internal chunk size
	data := make([]byte, 200_000)
	for i := range data {
		data[i] = byte(i * 31)
	}

	got := EncodeBase64(data)
	want := base64.StdEncoding.EncodeToString(data)
	if got != want {
		t.Error("Chunked base64 output differs from single-pass encoding")
	}
}

func TestEncodeFrame(t *testing.T) {
	in := make([]float32, 4096)
	for i := range in {
		in[i] = float32(math.Sin(float64(i) * 0.05))
	}

	chunk, err := EncodeFrame(in, 48000, 16000, 1.4)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	if chunk.MimeType != "audio/pcm;rate=16000" {
		t.Errorf("Unexpected MIME type: %s", chunk.MimeType)
	}

	raw, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		t.Fatalf("Chunk data is not valid base64: %v", err)
	}
	wantSamples := int(math.Ceil(float64(len(in)) / 3.0)) // 48000/16000 = 3
	if len(raw) != wantSamples*2 {
		t.Errorf("Expected %d PCM samples, got %d", wantSamples, len(raw)/2)
	}
}

func TestRMS(t *testing.T) {
	if rms := RMS(nil); rms != 0 {
		t.Errorf("Expected RMS 0 for empty input, got %f", rms)
	}

	rms := RMS([]float32{0.5, -0.5, 0.5, -0.5})
	if math.Abs(rms-0.5) > 1e-9 {
		t.Errorf("Expected RMS 0.5, got %f", rms)
	}
}

func TestDecodeFloat32(t *testing.T) {
	in := []float32{0, 0.25, -1, 1}
	raw := make([]byte, 0, len(in)*4)
	for _, s := range in {
		bits := math.Float32bits(s)
		raw = append(raw, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	}

	got, err := DecodeFloat32(raw)
	if err != nil {
		t.Fatalf("DecodeFloat32 failed: %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("Expected %d samples, got %d", len(in), len(got))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("Sample %d: expected %f, got %f", i, in[i], got[i])
		}
	}

	if _, err := DecodeFloat32([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for truncated sample data")
	}
}
