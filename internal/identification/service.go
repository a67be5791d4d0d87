package identification

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lehigh-university-libraries/herbarium/internal/gemini"
	"github.com/lehigh-university-libraries/herbarium/internal/ollama"
	"github.com/lehigh-university-libraries/herbarium/internal/openai"
	"github.com/lehigh-university-libraries/herbarium/internal/plantnet"
	"github.com/lehigh-university-libraries/herbarium/internal/providers"
)

// NewIdentifier returns the identifier for provider. An empty provider falls
// back to IDENTIFY_PROVIDER and then to plantnet.
func NewIdentifier(provider, model string) (providers.Identifier, error) {
	if provider == "" {
		provider = os.Getenv("IDENTIFY_PROVIDER")
		if provider == "" {
			provider = "plantnet"
		}
	}

	slog.Debug("Using identification provider", "provider", provider, "model", model)

	switch provider {
	case "plantnet":
		client, err := plantnet.NewFromEnv()
		if err != nil {
			return nil, err
		}
		return client, nil
	case "gemini":
		return gemini.New(model), nil
	case "openai":
		return openai.New(model), nil
	case "ollama":
		return ollama.New(model), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
