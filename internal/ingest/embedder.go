package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// DefaultEmbeddingDims matches the width of common sentence embedding models.
const DefaultEmbeddingDims = 384

// HashEmbedder produces deterministic bag-of-words vectors by hashing each
// token into a signed bucket and normalizing to unit length.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder builds a HashEmbedder with dims buckets.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultEmbeddingDims
	}
	return &HashEmbedder{dims: dims}
}

// Dims returns the vector width.
func (e *HashEmbedder) Dims() int {
	return e.dims
}

// Embed returns one vector per text. Texts without tokens map to the zero vector.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("embed canceled: %w", err)
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, e.dims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		bucket := binary.BigEndian.Uint32(sum[:4]) % uint32(e.dims)
		if sum[4]&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
