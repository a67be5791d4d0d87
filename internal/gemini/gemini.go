package gemini

import (
	"context"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/lehigh-university-libraries/herbarium/internal/models"
	"github.com/lehigh-university-libraries/herbarium/internal/plantnet"
	"github.com/lehigh-university-libraries/herbarium/internal/providers"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-1.5-flash"

// Gemini identifies plants with a Google Gemini vision model
type Gemini struct {
	Model       string
	Temperature float64
}

// New returns a new Gemini identifier
func New(model string) *Gemini {
	if model == "" {
		model = os.Getenv("GEMINI_MODEL")
	}
	if model == "" {
		model = DefaultModel
	}
	return &Gemini{Model: model, Temperature: 0.1}
}

// Identify sends the photo and prompt to Gemini and parses the answer
func (g *Gemini) Identify(ctx context.Context, img providers.Image) (*models.IdentificationResult, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, providers.NewNetworkFailure(fmt.Errorf("GEMINI_API_KEY environment variable not set"))
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, providers.NewNetworkFailure(fmt.Errorf("failed to create new gemini client: %w", err))
	}
	defer client.Close()

	model := client.GenerativeModel(g.Model)
	model.SetTemperature(float32(g.Temperature))
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.ImageData(img.Format(), img.Data), genai.Text(plantnet.VisionPrompt))
	if err != nil {
		return nil, providers.NewNetworkFailure(fmt.Errorf("failed to generate content: %w", err))
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	return plantnet.ParseModelOutput(text)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", providers.NewMalformedFailure("no candidates returned from Gemini")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", providers.NewMalformedFailure("empty content returned from Gemini")
	}

	if txt, ok := candidate.Content.Parts[0].(genai.Text); ok {
		return string(txt), nil
	}

	return "", providers.NewMalformedFailure("unexpected response format from Gemini")
}
