// Package local implements a dependency-free feature-hashing embedder. It is
// the default backend for development and tests, and keeps the pipeline
// functional when no external embedding service is configured.
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/waiterbildung/course-advisor/internal/domain"
)

const defaultDimensions = 256

// Provider hashes tokens into a fixed-size vector. Identical text always
// produces the identical vector, and related texts share hashed buckets, so
// cosine ranking over these vectors behaves sensibly for keyword overlap.
type Provider struct {
	dimensions int
}

// NewProvider creates a local provider with the given dimensionality.
// Non-positive values fall back to the default.
func NewProvider(dimensions int) *Provider {
	if dimensions <= 0 {
		dimensions = defaultDimensions
	}
	return &Provider{dimensions: dimensions}
}

// Name implements embedding.Provider.
func (p *Provider) Name() string { return "local" }

// Dimensions implements embedding.Provider.
func (p *Provider) Dimensions() int { return p.dimensions }

// Embed implements embedding.Provider. The vector is L2-normalized so cosine
// similarity reduces to a dot product.
func (p *Provider) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, &domain.ValidationError{Field: "text", Reason: "nothing to embed"}
	}

	vec := make([]float64, p.dimensions)
	for _, token := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()

		index := int(sum % uint64(p.dimensions))
		// One hash bit decides the sign, which spreads colliding tokens
		// instead of always stacking them.
		sign := 1.0
		if sum&(1<<63) != 0 {
			sign = -1.0
		}
		vec[index] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// tokenize keeps every alphanumeric run, including single letters, so
// interests like "C" or "R" still embed to something.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}
