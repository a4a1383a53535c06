package scanning

import (
	"context"
	"errors"
	"fmt"

	"github.com/zombor/quickscan/internal/capture"
)

var (
	// ErrUnavailable is returned without any network round-trip when the
	// backend has no credential or endpoint configured.
	ErrUnavailable = errors.New("enhancement unavailable")

	// ErrFailed covers transport, parsing and schema errors.
	ErrFailed = errors.New("enhancement failed")
)

// Enhancement contains the AI-derived annotations of a document image
type Enhancement struct {
	Title        string  `json:"title"`
	OCRContent   string  `json:"ocrContent"`
	QualityScore float64 `json:"qualityScore"`
}

// Enhancer defines the interface for document enhancement backends
type Enhancer interface {
	// Enhance sends one request for the image and returns the parsed annotations.
	// Errors wrap ErrUnavailable or ErrFailed.
	Enhance(ctx context.Context, img capture.Image) (*Enhancement, error)
	// Available reports whether a credential/endpoint is configured
	Available() bool
	// Close releases backend resources
	Close() error
}

func failed(format string, args ...any) error {
	return fmt.Errorf("%w: %w", ErrFailed, fmt.Errorf(format, args...))
}

// enhancementPrompt is the fixed extraction instruction sent with every image
const enhancementPrompt = `Analyze this document. Provide a professional title and extract all readable text via OCR.

Return ONLY valid JSON in this exact format:
{
  "title": "A professional and concise title for the document",
  "ocrContent": "The complete extracted text from the document image",
  "qualityScore": 0.0
}

Important:
- The title must be generated from the content, not copied from a filename
- ocrContent must contain all readable text, preserving line breaks; use "" if there is none
- qualityScore is the confidence of the scan as a number from 0 to 1
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
