package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
	"github.com/jamesaphoenix/tx-sub011/internal/logging"
)

// HTTPEngine talks to a local Ollama-compatible embedding server. This is
// the one real backend the core ships; it is only exercised when the
// external embedding process is opted into via TX_EMBEDDINGS=1, keeping the
// model itself an external collaborator (spec.md §1).
type HTTPEngine struct {
	endpoint   string
	model      string
	dimensions int
	client     *http.Client
}

// NewHTTPEngine constructs an HTTPEngine, defaulting endpoint and model to
// the teacher's Ollama conventions.
func NewHTTPEngine(endpoint, model string, dimensions int) *HTTPEngine {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "embeddinggemma"
	}
	logging.Embedding("creating HTTP embedding engine: endpoint=%s model=%s", endpoint, model)
	return &HTTPEngine{
		endpoint:   endpoint,
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

type httpEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type httpEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed posts text to the configured Ollama-compatible /api/embeddings
// endpoint and returns the resulting vector.
func (e *HTTPEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "HTTPEngine.Embed")
	defer timer.Stop()

	body, err := json.Marshal(httpEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp *http.Response
	err = apitypes.Retry(ctx, apitypes.DefaultEmbeddingRetry, func() error {
		if req.Body, err = req.GetBody(); err != nil {
			return err
		}
		resp, err = e.client.Do(req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed request returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out httpEmbedResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return out.Embedding, nil
}

// Dimensions returns the engine's configured vector width.
func (e *HTTPEngine) Dimensions() int { return e.dimensions }
