package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/hyperjump/osusume/internal/config"
	"github.com/hyperjump/osusume/internal/models"
	"github.com/hyperjump/osusume/pkg/utils"
)

// HTTPProvider talks to an OpenAI-style embedding and generation API. It
// rate-limits itself client-side, validates returned vector dimensions, and
// wraps every failure in models.ErrExternalService so callers can apply
// their retry policy uniformly.
type HTTPProvider struct {
	baseURL string
	model   string
	apiKey  string
	dims    *config.EmbeddingConfig
	limiter *rate.Limiter
	client  *http.Client
}

// NewHTTPProvider creates a provider from the embedding config. The API key
// is read from the configured environment variable; a missing key is a
// startup error, not a per-call one.
func NewHTTPProvider(cfg *config.EmbeddingConfig) (*HTTPProvider, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable %s", cfg.APIKeyEnv)
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &HTTPProvider{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		apiKey:  apiKey,
		dims:    cfg,
		limiter: limiter,
		client:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type embedRequest struct {
	Model    string `json:"model"`
	Input    string `json:"input"`
	Modality string `json:"modality"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Context *ExplainRequest `json:"context"`
}

type generateResponse struct {
	Text  string    `json:"text"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Embed requests an embedding and validates its dimension against the
// configured one for the modality, so an over- or under-dimension response
// from the backend never reaches the store.
func (p *HTTPProvider) Embed(ctx context.Context, content string, modality models.Modality) ([]float32, error) {
	want, err := p.dims.Dim(modality)
	if err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := p.post(ctx, "/embeddings", embedRequest{
		Model:    p.model,
		Input:    content,
		Modality: string(modality),
	}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrExternalService, resp.Error.Message)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", models.ErrExternalService)
	}
	vec := resp.Data[0].Embedding
	if len(vec) != want {
		return nil, fmt.Errorf("%w: backend returned dim %d, expected %d",
			models.ErrExternalService, len(vec), want)
	}
	return vec, nil
}

// Explain requests a short explanation for the given context.
func (p *HTTPProvider) Explain(ctx context.Context, req ExplainRequest) (string, error) {
	var resp generateResponse
	if err := p.post(ctx, "/generate", generateRequest{Model: p.model, Context: &req}, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("%w: %s", models.ErrExternalService, resp.Error.Message)
	}
	return resp.Text, nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, body, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", models.ErrExternalService, err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrExternalService, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", models.ErrExternalService, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s",
			models.ErrExternalService, resp.StatusCode, utils.Truncate(string(data), 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: parse response: %v", models.ErrExternalService, err)
	}
	return nil
}
