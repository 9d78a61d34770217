// Package embedding defines the embedding provider contract and its
// configuration. Concrete providers live in subpackages.
package embedding

import (
	"context"
	"time"
)

// Provider turns text into a fixed-dimension vector. Implementations must be
// deterministic: the same text always yields the same vector.
type Provider interface {
	Name() string
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Config selects and configures the embedding provider.
type Config struct {
	// Provider is "local" or "openai".
	Provider string `env:"EMBEDDING_PROVIDER" envDefault:"local"`
	// Dimensions applies to the local provider; the OpenAI provider's
	// dimensionality is fixed by its model.
	Dimensions int          `env:"EMBEDDING_DIMENSIONS" envDefault:"256"`
	OpenAI     OpenAIConfig `envPrefix:"OPENAI_"`
}

// OpenAIConfig configures the OpenAI embeddings backend.
type OpenAIConfig struct {
	APIKey  string        `env:"API_KEY"`
	BaseURL string        `env:"BASE_URL" envDefault:"https://api.openai.com/v1"`
	Model   string        `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}
