package plantnet

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/herbarium/internal/models"
	"github.com/lehigh-university-libraries/herbarium/internal/providers"
)

const (
	DefaultBaseURL = "https://my-api.plantnet.org"
	DefaultProject = "all"
)

// Client identifies plant species with the PlantNet API
type Client struct {
	BaseURL    string
	Project    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new PlantNet client
func NewClient(baseURL, project, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if project == "" {
		project = DefaultProject
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Project: project,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewFromEnv builds a client from PLANTNET_API_KEY, PLANTNET_URL and PLANTNET_PROJECT
func NewFromEnv() (*Client, error) {
	apiKey := os.Getenv("PLANTNET_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("PLANTNET_API_KEY environment variable not set")
	}
	return NewClient(os.Getenv("PLANTNET_URL"), os.Getenv("PLANTNET_PROJECT"), apiKey), nil
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/v2/identify/%s?api-key=%s", c.BaseURL, url.PathEscape(c.Project), url.QueryEscape(c.APIKey))
}

// Identify sends the image to PlantNet with organ auto-detection and returns
// the top-ranked species. Errors are always *providers.Failure.
func (c *Client) Identify(ctx context.Context, img providers.Image) (*models.IdentificationResult, error) {
	body, contentType, err := buildMultipart(img)
	if err != nil {
		return nil, providers.NewNetworkFailure(fmt.Errorf("failed to build request body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint(), body)
	if err != nil {
		return nil, providers.NewNetworkFailure(fmt.Errorf("failed to create new request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	slog.Debug("Sending identification request", "project", c.Project, "image", img.Name, "bytes", len(img.Data))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, providers.NewNetworkFailure(fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.NewNetworkFailure(fmt.Errorf("failed to read response body: %w", err))
	}

	result, err := ParseResponse(raw)
	if err != nil {
		slog.Warn("Identification failed", "status", resp.StatusCode, "error", err)
		return nil, err
	}

	slog.Info("Identified plant", "common_name", result.CommonName, "scientific_name", result.ScientificName, "score", result.Score)
	return result, nil
}

func buildMultipart(img providers.Image) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	name := img.Name
	if name == "" {
		name = "image.jpg"
	}
	part, err := w.CreateFormFile("images", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("organs", "auto"); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
