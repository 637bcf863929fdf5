// Package embed implements the embedding capability: turning a
// CompanyRecord's aggregated text into a fixed-dimension vector for
// the similarity engine and vector store.
//
// Grounded on the same Client capability-interface style as
// internal/llmprovider.Client, but kept as its own package and its own
// rate-limit bucket since embedding quotas are independent of the
// chat-completion pool's budget.
package embed

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"researchengine/internal/config"
	"researchengine/internal/errkind"
)

// Client embeds a piece of text into a fixed-dimension vector.
type Client interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dim() int
}

// New constructs a Client for the configured embedding provider.
// provider "hash" yields a deterministic, network-free stub suitable
// for tests and offline development; "openai" calls the real
// embeddings endpoint.
func New(cfg *config.Config) Client {
	rps := float64(cfg.Embedding.Pool.RequestsPerMinute) / 60.0
	limiter := rate.NewLimiter(rate.Limit(rps), 1)

	switch cfg.Embedding.Provider {
	case "openai":
		return &openAIEmbedder{
			apiKey:  cfg.LLM.OpenAI.APIKey,
			baseURL: cfg.LLM.OpenAI.BaseURL,
			dim:     cfg.Embedding.Dim,
			http:    &http.Client{Timeout: 30 * time.Second},
			limiter: limiter,
		}
	default:
		return &HashEmbedder{dim: cfg.Embedding.Dim}
	}
}

// HashEmbedder is a deterministic, dependency-free embedder: it hashes
// the whole input text once with SHA-256, derives each dimension from a
// further SHA-256 of that digest plus the dimension index, and
// normalizes the vector to unit length. It
// produces stable, reproducible vectors for tests and for deployments
// that have not configured a real embedding provider, without ever
// making a network call.
type HashEmbedder struct {
	dim int
}

func (h *HashEmbedder) Dim() int { return h.dim }

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	dim := h.dim
	if dim <= 0 {
		dim = 256
	}
	vec := make([]float64, dim)
	sum := sha256.Sum256([]byte(text))

	for i := 0; i < dim; i++ {
		chunk := sha256.Sum256(append(sum[:], byte(i), byte(i>>8)))
		v := int64(binary.BigEndian.Uint64(chunk[:8]))
		vec[i] = float64(v) / float64(1<<63)
	}

	normalize(vec)
	return vec, nil
}

func normalize(vec []float64) {
	var sumSq float64
	for _, v := range vec {
		sumSq += v * v
	}
	if sumSq == 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i := range vec {
		vec[i] /= norm
	}
}

type openAIEmbedder struct {
	apiKey  string
	baseURL string
	dim     int
	http    *http.Client
	limiter *rate.Limiter
}

func (o *openAIEmbedder) Dim() int { return o.dim }

type openAIEmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (o *openAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, errkind.New(errkind.Internal, "embed_limiter_wait", "embedding", "rate limiter wait failed", err)
	}

	body := openAIEmbeddingRequest{Model: "text-embedding-3-small", Input: text}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	endpoint := o.baseURL
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	endpoint += "/embeddings"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, errkind.New(errkind.Transient, "embed_transport_error", "embedding", "embedding request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errkind.New(errkind.Quota, "embed_rate_limited", "embedding", "embedding provider rate limited", nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errkind.New(errkind.Transient, "embed_bad_status", "embedding", fmt.Sprintf("embedding provider returned %d", resp.StatusCode), nil)
	}

	var parsed openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errkind.New(errkind.Schema, "embed_decode_error", "embedding", "could not decode embedding response", err)
	}
	if len(parsed.Data) == 0 {
		return nil, errkind.New(errkind.Schema, "embed_empty_response", "embedding", "embedding provider returned no data", nil)
	}
	return parsed.Data[0].Embedding, nil
}
