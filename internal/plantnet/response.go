package plantnet

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/lehigh-university-libraries/herbarium/internal/models"
	"github.com/lehigh-university-libraries/herbarium/internal/providers"
)

// identifyResponse mirrors the parts of the PlantNet payload we read.
// Pointers let us tell an absent field from a zero value.
type identifyResponse struct {
	Results *[]struct {
		Species *struct {
			ScientificNameWithoutAuthor *string   `json:"scientificNameWithoutAuthor"`
			CommonNames                 *[]string `json:"commonNames"`
			Family                      *struct {
				ScientificNameWithoutAuthor *string `json:"scientificNameWithoutAuthor"`
			} `json:"family"`
		} `json:"species"`
		Score *float64 `json:"score"`
	} `json:"results"`
}

// ParseResponse converts a PlantNet response body into a result or a *providers.Failure.
func ParseResponse(body []byte) (*models.IdentificationResult, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, providers.NewMalformedFailure("invalid JSON: %w", err)
	}
	if top == nil {
		return nil, providers.NewMalformedFailure("response is not an object")
	}

	if errVal, ok := top["error"]; ok {
		return nil, &providers.Failure{
			Kind:    providers.ServiceReportedError,
			Message: serviceMessage(top["message"], errVal),
		}
	}

	var resp identifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, providers.NewMalformedFailure("unexpected field type: %w", err)
	}
	if resp.Results == nil {
		return nil, providers.NewMalformedFailure("missing results")
	}
	if len(*resp.Results) == 0 {
		return nil, &providers.Failure{Kind: providers.NoMatch}
	}

	best := (*resp.Results)[0]
	switch {
	case best.Species == nil:
		return nil, providers.NewMalformedFailure("missing species")
	case best.Species.ScientificNameWithoutAuthor == nil:
		return nil, providers.NewMalformedFailure("missing species.scientificNameWithoutAuthor")
	case best.Species.CommonNames == nil:
		return nil, providers.NewMalformedFailure("missing species.commonNames")
	case len(*best.Species.CommonNames) == 0:
		return nil, providers.NewMalformedFailure("empty species.commonNames")
	case best.Species.Family == nil || best.Species.Family.ScientificNameWithoutAuthor == nil:
		return nil, providers.NewMalformedFailure("missing species.family.scientificNameWithoutAuthor")
	case best.Score == nil:
		return nil, providers.NewMalformedFailure("missing score")
	case *best.Score < 0 || *best.Score > 1:
		return nil, providers.NewMalformedFailure("score %v out of range", *best.Score)
	}

	return &models.IdentificationResult{
		CommonName:     (*best.Species.CommonNames)[0],
		ScientificName: *best.Species.ScientificNameWithoutAuthor,
		Family:         *best.Species.Family.ScientificNameWithoutAuthor,
		Score:          *best.Score,
	}, nil
}

func serviceMessage(message, errVal json.RawMessage) string {
	var msg string
	if err := json.Unmarshal(message, &msg); err == nil && msg != "" {
		return msg
	}
	if err := json.Unmarshal(errVal, &msg); err == nil && msg != "" {
		return msg
	}
	return strings.TrimSpace(string(bytes.Trim(errVal, `"`)))
}
