// Package llmprovider implements the capability-typed LLM clients
// internal/llmpool drives: OpenAI, Anthropic, and Google, each exposing
// the same Complete contract so the pool can dispatch to any of them
// without knowing which provider is configured. Adapted from
// raito/internal/llm/llm.go, narrowed to a single chat-completion
// capability and extended with the tolerant JSON-extraction used by
// every phase that asks the model for structured output.
package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"researchengine/internal/config"
	"researchengine/internal/errkind"
)

// Provider identifies which backend a Client talks to.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

// Request is one chat-completion call: a system instruction plus a
// user prompt, with optional model and token-limit overrides. It
// carries no schema; any output format is requested in the prompt, and
// validation happens one level up, in internal/llmpool, through the
// caller-supplied Validator.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Model        string
	MaxTokens    int
}

// Response is the raw text the model returned.
type Response struct {
	Content string
}

// Client is the capability interface every provider implements,
// mirroring raito/internal/llm's Client shape but named Complete rather
// than ExtractFields since this module's callers need general chat
// completion, not only field extraction.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Name() Provider
}

// New constructs a Client for the configured default provider.
func New(cfg *config.Config) (Client, error) {
	switch Provider(cfg.LLM.DefaultProvider) {
	case ProviderOpenAI:
		oc := cfg.LLM.OpenAI
		if oc.APIKey == "" || oc.Model == "" {
			return nil, errkind.New(errkind.Permanent, "llm_provider_misconfigured", "", "openai provider is not fully configured", nil)
		}
		return &openAIClient{apiKey: oc.APIKey, baseURL: oc.BaseURL, model: oc.Model, http: &http.Client{Timeout: 60 * time.Second}}, nil
	case ProviderAnthropic:
		ac := cfg.LLM.Anthropic
		if ac.APIKey == "" || ac.Model == "" {
			return nil, errkind.New(errkind.Permanent, "llm_provider_misconfigured", "", "anthropic provider is not fully configured", nil)
		}
		return &anthropicClient{apiKey: ac.APIKey, model: ac.Model, http: &http.Client{Timeout: 60 * time.Second}}, nil
	case ProviderGoogle:
		gc := cfg.LLM.Google
		if gc.APIKey == "" || gc.Model == "" {
			return nil, errkind.New(errkind.Permanent, "llm_provider_misconfigured", "", "google provider is not fully configured", nil)
		}
		return &googleClient{apiKey: gc.APIKey, model: gc.Model, http: &http.Client{Timeout: 60 * time.Second}}, nil
	default:
		return nil, errkind.New(errkind.Permanent, "llm_provider_unknown", "", fmt.Sprintf("unsupported llm provider: %s", cfg.LLM.DefaultProvider), nil)
	}
}

// ParseJSONObject attempts to parse a JSON object out of content,
// first as the whole string, then by locating the outermost {...}
// block — tolerant of models that wrap JSON in prose or code fences.
// Ported in spirit from raito/internal/llm's parseJSONFields.
func ParseJSONObject(content string, out any) error {
	if err := json.Unmarshal([]byte(content), out); err == nil {
		return nil
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return errors.New("no JSON object found in content")
	}
	return json.Unmarshal([]byte(content[start:end+1]), out)
}

func classifyHTTPErr(providerName string, resp *http.Response, err error) error {
	if err != nil {
		return errkind.New(errkind.Transient, "llm_transport_error", "", providerName+" request failed: "+err.Error(), err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return errkind.New(errkind.Quota, "llm_rate_limited", "", providerName+" rate limited", nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errkind.New(errkind.Permanent, "llm_auth_error", "", providerName+" auth rejected", nil)
	case resp.StatusCode >= 500:
		return errkind.New(errkind.Transient, "llm_server_error", "", fmt.Sprintf("%s returned %d", providerName, resp.StatusCode), nil)
	default:
		return errkind.New(errkind.Permanent, "llm_bad_request", "", fmt.Sprintf("%s returned %d", providerName, resp.StatusCode), nil)
	}
}

type openAIClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

func (c *openAIClient) Name() Provider { return ProviderOpenAI }

type openAIChatRequest struct {
	Model          string              `json:"model"`
	Messages       []openAIChatMessage `json:"messages"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *openAIRespFormat   `json:"response_format,omitempty"`
}

type openAIRespFormat struct {
	Type string `json:"type"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
}

func (c *openAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	body := openAIChatRequest{
		Model: model,
		Messages: []openAIChatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Temperature:    0.0,
		ResponseFormat: &openAIRespFormat{Type: "json_object"},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, err
	}

	endpoint := c.baseURL
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	endpoint += "/chat/completions"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, classifyHTTPErr("openai", nil, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, classifyHTTPErr("openai", resp, nil)
	}

	var parsed openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, errkind.New(errkind.Schema, "llm_decode_error", "", "failed to decode openai response", err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, errkind.New(errkind.Schema, "llm_empty_response", "", "openai returned no choices", nil)
	}
	return Response{Content: parsed.Choices[0].Message.Content}, nil
}

type anthropicClient struct {
	apiKey string
	model  string
	http   *http.Client
}

func (c *anthropicClient) Name() Provider { return ProviderAnthropic }

type anthropicMessagesRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string                 `json:"role"`
	Content []anthropicTextContent `json:"content"`
}

type anthropicTextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicMessagesResponse struct {
	Content []anthropicTextContent `json:"content"`
}

func (c *anthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	body := anthropicMessagesRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.SystemPrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: []anthropicTextContent{{Type: "text", Text: req.UserPrompt}}},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, classifyHTTPErr("anthropic", nil, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, classifyHTTPErr("anthropic", resp, nil)
	}

	var parsed anthropicMessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, errkind.New(errkind.Schema, "llm_decode_error", "", "failed to decode anthropic response", err)
	}
	if len(parsed.Content) == 0 {
		return Response{}, errkind.New(errkind.Schema, "llm_empty_response", "", "anthropic returned no content", nil)
	}
	return Response{Content: parsed.Content[0].Text}, nil
}

type googleClient struct {
	apiKey string
	model  string
	http   *http.Client
}

func (c *googleClient) Name() Provider { return ProviderGoogle }

type googleGenerateContentRequest struct {
	Contents         []googleContent         `json:"contents"`
	SystemInstruction *googleContent         `json:"systemInstruction,omitempty"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text,omitempty"`
}

type googleGenerateContentResponse struct {
	Candidates []struct {
		Content googleContent `json:"content"`
	} `json:"candidates"`
}

func (c *googleClient) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	body := googleGenerateContentRequest{
		Contents: []googleContent{{Parts: []googlePart{{Text: req.UserPrompt}}}},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &googleContent{Parts: []googlePart{{Text: req.SystemPrompt}}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, err
	}

	endpoint := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", model, url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, classifyHTTPErr("google", nil, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, classifyHTTPErr("google", resp, nil)
	}

	var parsed googleGenerateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, errkind.New(errkind.Schema, "llm_decode_error", "", "failed to decode google response", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return Response{}, errkind.New(errkind.Schema, "llm_empty_response", "", "google returned no candidates", nil)
	}
	var sb strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return Response{Content: sb.String()}, nil
}
