// Package openai implements the embedding provider backed by the OpenAI
// embeddings API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/waiterbildung/course-advisor/internal/domain"
)

// text-embedding-3-small dimensionality.
const modelDimensions = 1536

// Config holds the connection settings for the OpenAI embeddings API.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Provider calls the OpenAI embeddings endpoint. Failures surface as
// EmbeddingUnavailableError so jobs retry instead of failing terminally.
type Provider struct {
	cfg    Config
	client *http.Client
}

// NewProvider creates an OpenAI embedding provider.
func NewProvider(cfg Config) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Name implements embedding.Provider.
func (p *Provider) Name() string { return "openai" }

// Dimensions implements embedding.Provider.
func (p *Provider) Dimensions() int { return modelDimensions }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed implements embedding.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &domain.ValidationError{Field: "text", Reason: "nothing to embed"}
	}

	body, err := json.Marshal(embedRequest{
		Model: p.cfg.Model,
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &domain.EmbeddingUnavailableError{Provider: p.Name(), Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.EmbeddingUnavailableError{
			Provider: p.Name(),
			Err:      fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &domain.EmbeddingUnavailableError{
			Provider: p.Name(),
			Err:      fmt.Errorf("decode response: %w", err),
		}
	}
	if decoded.Error != nil {
		return nil, &domain.EmbeddingUnavailableError{
			Provider: p.Name(),
			Err:      fmt.Errorf("api error: %s", decoded.Error.Message),
		}
	}
	if len(decoded.Data) == 0 || len(decoded.Data[0].Embedding) == 0 {
		return nil, &domain.EmbeddingUnavailableError{
			Provider: p.Name(),
			Err:      fmt.Errorf("empty embedding in response"),
		}
	}
	return decoded.Data[0].Embedding, nil
}
