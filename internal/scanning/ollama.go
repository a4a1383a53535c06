package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/quickscan/internal/capture"
)

// Ollama implements the Enhancer interface using a self-hosted Ollama server
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama Enhancer instance. Vision models with good
// OCR are recommended, e.g. qwen2.5vl or llava:1.6. An empty base URL leaves
// the enhancer unavailable.
func NewOllama(baseURL string, modelName string, timeout time.Duration) (*Ollama, error) {
	if modelName == "" {
		modelName = "llava"
	}
	if timeout <= 0 {
		// Vision models on local hardware are slow
		timeout = 120 * time.Second
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// ollamaFormat constrains the model output to the enhancement schema
var ollamaFormat = json.RawMessage(`{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "ocrContent": {"type": "string"},
    "qualityScore": {"type": "number"}
  },
  "required": ["title", "ocrContent", "qualityScore"]
}`)

// Available reports whether an endpoint was configured
func (o *Ollama) Available() bool {
	return o.baseURL != ""
}

// Enhance sends the image to Ollama's chat API and parses the response
func (o *Ollama) Enhance(ctx context.Context, img capture.Image) (*Enhancement, error) {
	if !o.Available() {
		return nil, ErrUnavailable
	}

	_, data, err := modelImage(img)
	if err != nil {
		return nil, failed("preparing image: %w", err)
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: ollamaFormat,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an expert at reading documents. You must carefully read all text in images and extract it accurately.",
			},
			{
				Role:    "user",
				Content: enhancementPrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(data)},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, failed("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, failed("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, failed("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, failed("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, failed("decoding response: %w", err)
	}

	return parseEnhancementJSON(chatResp.Message.Content)
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
