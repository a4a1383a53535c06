package scanning

import (
	"encoding/json"
	"strings"
)

// rawEnhancement uses pointers so absent fields can be told apart from zero values
type rawEnhancement struct {
	Title        *string  `json:"title"`
	OCRContent   *string  `json:"ocrContent"`
	QualityScore *float64 `json:"qualityScore"`
}

// parseEnhancementJSON parses a model response. All three fields are
// required; a response missing any of them is a failure, not a partial result.
func parseEnhancementJSON(text string) (*Enhancement, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, failed("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, failed("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var raw rawEnhancement
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, failed("unmarshaling json: %w", err)
	}

	switch {
	case raw.Title == nil:
		return nil, failed("response missing required field %q", "title")
	case raw.OCRContent == nil:
		return nil, failed("response missing required field %q", "ocrContent")
	case raw.QualityScore == nil:
		return nil, failed("response missing required field %q", "qualityScore")
	}

	if strings.TrimSpace(*raw.Title) == "" {
		return nil, failed("response title is empty")
	}
	if *raw.QualityScore < 0 || *raw.QualityScore > 1 {
		return nil, failed("qualityScore %v out of range [0,1]", *raw.QualityScore)
	}

	return &Enhancement{
		Title:        *raw.Title,
		OCRContent:   *raw.OCRContent,
		QualityScore: *raw.QualityScore,
	}, nil
}
