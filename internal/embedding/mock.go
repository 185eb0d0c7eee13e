package embedding

import (
	"context"
	"math"
	"unicode/utf16"
)

const mockModel = "mock"

// Mock derives a unit vector from a hash of the text. Same text, same vector.
type Mock struct {
	dimensions int
}

func NewMock(dimensions int) *Mock {
	return &Mock{dimensions: dimensions}
}

func (m *Mock) Embed(_ context.Context, text string) ([]float32, error) {
	return m.vector(text), nil
}

func (m *Mock) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = m.vector(text)
	}
	return vectors, nil
}

func (m *Mock) Dimensions() int { return m.dimensions }

func (m *Mock) Model() string { return mockModel }

func (m *Mock) vector(text string) []float32 {
	seed := uint64(uint32(textHash(text)))
	values := make([]float64, m.dimensions)
	var norm float64
	for i := range values {
		seed = (seed*1103515245 + 12345) & 0x7fffffff
		v := float64(seed)/float64(0x7fffffff)*2 - 1
		values[i] = v
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, m.dimensions)
	for i, v := range values {
		if norm > 0 {
			v /= norm
		}
		out[i] = float32(v)
	}
	return out
}

// textHash is the 31-based polynomial rolling hash over UTF-16 code units with 32-bit wraparound
func textHash(text string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(text)) {
		h = h*31 + int32(c)
	}
	return h
}
