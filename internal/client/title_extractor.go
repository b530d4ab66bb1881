package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"meli-tracker-api/internal/matching"
)

// TitleExtractor extracts structured vehicle fields from a free-text listing
// title. Used as a fallback when the dictionary extractor finds no brand.
// Both GroqClient and OllamaClient implement this interface.
type TitleExtractor interface {
	ExtractVehicle(ctx context.Context, title string) (matching.TitleExtraction, error)
}

var _ TitleExtractor = (*GroqClient)(nil)
var _ TitleExtractor = (*OllamaClient)(nil)

// extractionSystemPrompt forces a bare JSON reply. Models tend to wrap JSON
// in prose or markdown fences when given any latitude.
const extractionSystemPrompt = `Extract vehicle data from a car listing title.
Reply with ONLY a JSON object, no explanation, no markdown:
{"brand":"","model":"","year":"","edition":"","engine":""}
Use lowercase values. Leave a field empty when the title does not state it.`

// parseExtraction pulls the JSON object out of an LLM reply and maps it onto
// a TitleExtraction. Replies with no parsable object are an error; the caller
// falls back to the dictionary extractor's partial result.
func parseExtraction(raw string) (matching.TitleExtraction, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return matching.TitleExtraction{}, fmt.Errorf("no JSON object in reply: %q", raw)
	}

	var payload struct {
		Brand   string `json:"brand"`
		Model   string `json:"model"`
		Year    string `json:"year"`
		Edition string `json:"edition"`
		Engine  string `json:"engine"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return matching.TitleExtraction{}, fmt.Errorf("failed to parse extraction reply: %w", err)
	}

	return matching.TitleExtraction{
		Brand:   matching.Normalize(payload.Brand),
		Model:   matching.Normalize(payload.Model),
		Year:    strings.TrimSpace(payload.Year),
		Edition: matching.Normalize(payload.Edition),
		Engine:  matching.Normalize(payload.Engine),
	}, nil
}
