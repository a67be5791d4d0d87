package plantnet

import (
	"strings"

	"github.com/lehigh-university-libraries/herbarium/internal/models"
)

// VisionPrompt asks a vision model to answer in the PlantNet response shape
// so the same parser and failure rules apply to every provider.
const VisionPrompt = `You are a botanist. Identify the plant species in the attached photograph.

Respond with JSON only, using exactly this shape:
{"results":[{"species":{"commonNames":["<common name>"],"scientificNameWithoutAuthor":"<binomial name>","family":{"scientificNameWithoutAuthor":"<family>"}},"score":<confidence between 0 and 1>}]}

List the most likely species first. If the photo does not show a plant, respond with {"results":[]}.`

// ParseModelOutput parses a model's answer to VisionPrompt
func ParseModelOutput(text string) (*models.IdentificationResult, error) {
	return ParseResponse([]byte(stripCodeFence(text)))
}

// stripCodeFence removes a ```json fence models sometimes add despite being asked for JSON
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
