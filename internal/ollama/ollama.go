package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/lehigh-university-libraries/herbarium/internal/models"
	"github.com/lehigh-university-libraries/herbarium/internal/plantnet"
	"github.com/lehigh-university-libraries/herbarium/internal/providers"
)

const (
	DefaultURL   = "http://localhost:11434"
	DefaultModel = "llava"
)

// Ollama identifies plants with a vision model served by a local Ollama instance
type Ollama struct {
	URL         string
	Model       string
	Temperature float64
	HTTPClient  *http.Client
}

// New returns a new Ollama identifier
func New(model string) *Ollama {
	url := os.Getenv("OLLAMA_URL")
	if url == "" {
		url = DefaultURL
	}
	if model == "" {
		model = os.Getenv("OLLAMA_MODEL")
	}
	if model == "" {
		model = DefaultModel
	}
	return &Ollama{
		URL:         url,
		Model:       model,
		Temperature: 0.1,
		HTTPClient:  &http.Client{},
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images"`
	Format  string         `json:"format"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
}

// Identify sends the photo and prompt to Ollama and parses the answer
func (o *Ollama) Identify(ctx context.Context, img providers.Image) (*models.IdentificationResult, error) {
	requestBody, err := json.Marshal(generateRequest{
		Model:   o.Model,
		Prompt:  plantnet.VisionPrompt,
		Images:  []string{base64.StdEncoding.EncodeToString(img.Data)},
		Format:  "json",
		Stream:  false,
		Options: map[string]any{"temperature": o.Temperature},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.URL+"/api/generate", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, providers.NewNetworkFailure(fmt.Errorf("failed to create new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return nil, providers.NewNetworkFailure(fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &providers.Failure{
			Kind:    providers.ServiceReportedError,
			Message: serviceMessage(body),
			Err:     fmt.Errorf("received non-200 status code: %d", resp.StatusCode),
		}
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, providers.NewMalformedFailure("failed to decode response body: %v", err)
	}

	return plantnet.ParseModelOutput(response.Response)
}

// serviceMessage pulls the error text out of an Ollama error body
func serviceMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return ""
}
