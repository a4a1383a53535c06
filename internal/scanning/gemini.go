package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/zombor/quickscan/internal/capture"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini implements the Enhancer interface using Google Gemini
type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewGemini creates a new Gemini Enhancer instance. An empty API key is not
// an error: the returned enhancer reports every call as unavailable.
func NewGemini(apiKey string, modelName string, timeout time.Duration) (*Gemini, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if apiKey == "" || apiKey == "undefined" {
		return &Gemini{timeout: timeout}, nil
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = enhancementSchema()
	model.SetTemperature(0.2)

	return &Gemini{
		client:  client,
		model:   model,
		timeout: timeout,
	}, nil
}

func enhancementSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title": {
				Type:        genai.TypeString,
				Description: "A professional and concise title for the document",
			},
			"ocrContent": {
				Type:        genai.TypeString,
				Description: "The complete extracted text from the document image",
			},
			"qualityScore": {
				Type:        genai.TypeNumber,
				Description: "The confidence score of the scan from 0 to 1",
			},
		},
		Required: []string{"title", "ocrContent", "qualityScore"},
	}
}

// Available reports whether an API key was configured
func (g *Gemini) Available() bool {
	return g.client != nil
}

// Enhance sends the image to Gemini and parses the structured response
func (g *Gemini) Enhance(ctx context.Context, img capture.Image) (*Enhancement, error) {
	if !g.Available() {
		return nil, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	format, data, err := modelImage(img)
	if err != nil {
		return nil, failed("preparing image: %w", err)
	}

	// genai.ImageData expects just the format suffix (e.g. "png"), not the MIME type
	resp, err := g.model.GenerateContent(ctx,
		genai.ImageData(format, data),
		genai.Text(enhancementPrompt),
	)
	if err != nil {
		return nil, failed("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, failed("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	return parseEnhancementJSON(responseText.String())
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// modelImage returns the image in a format the vision models accept.
// JPEG and PNG go through untouched; everything else becomes PNG.
func modelImage(img capture.Image) (string, []byte, error) {
	switch img.ContentType {
	case "image/jpeg":
		return "jpeg", img.Data, nil
	case "image/png":
		return "png", img.Data, nil
	}
	data, err := capture.EncodePNG(img)
	if err != nil {
		return "", nil, err
	}
	return "png", data, nil
}
