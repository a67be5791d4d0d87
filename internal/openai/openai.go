package openai

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
	DefaultURL   = "https://api.openai.com/v1/chat/completions"
	DefaultModel = "gpt-4o-mini"
)

// OpenAI identifies plants with an OpenAI vision model
type OpenAI struct {
	URL         string
	Model       string
	Temperature float64
	HTTPClient  *http.Client
}

// New returns a new OpenAI identifier
func New(model string) *OpenAI {
	if model == "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{
		URL:         DefaultURL,
		Model:       model,
		Temperature: 0.1,
		HTTPClient:  &http.Client{},
	}
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// Identify sends the photo and prompt to the chat completions API and parses the answer
func (o *OpenAI) Identify(ctx context.Context, img providers.Image) (*models.IdentificationResult, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, providers.NewNetworkFailure(fmt.Errorf("OPENAI_API_KEY environment variable not set"))
	}

	dataURL := fmt.Sprintf("data:image/%s;base64,%s", img.Format(), base64.StdEncoding.EncodeToString(img.Data))
	requestBody, err := json.Marshal(map[string]any{
		"model": o.Model,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []contentPart{
					{Type: "text", Text: plantnet.VisionPrompt},
					{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
				},
			},
		},
		"response_format": map[string]string{"type": "json_object"},
		"temperature":     o.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.URL, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, providers.NewNetworkFailure(fmt.Errorf("failed to create new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

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
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, providers.NewMalformedFailure("failed to decode response body: %v", err)
	}

	if len(response.Choices) == 0 {
		return nil, providers.NewMalformedFailure("no choices returned from OpenAI")
	}

	return plantnet.ParseModelOutput(response.Choices[0].Message.Content)
}

func serviceMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		return e.Error.Message
	}
	return ""
}
