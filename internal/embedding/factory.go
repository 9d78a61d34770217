package embedding

import (
	"fmt"

	"github.com/waiterbildung/course-advisor/internal/embedding/local"
	"github.com/waiterbildung/course-advisor/internal/embedding/openai"
)

// NewProvider constructs the configured embedding provider. Called once at
// service startup.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "local":
		return local.NewProvider(cfg.Dimensions), nil
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai embedding provider requires OPENAI_API_KEY")
		}
		return openai.NewProvider(openai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: cfg.OpenAI.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q: must be one of local, openai", cfg.Provider)
	}
}
