package organizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	DefaultOpenAIEndpoint    = "https://api.openai.com/v1"
	DefaultAnthropicEndpoint = "https://api.anthropic.com"
	anthropicVersion         = "2023-06-01"
	anthropicMaxTokens       = 4096
	maxErrorBody             = 512
)

type OpenAIProvider struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func NewOpenAIProvider(endpoint, apiKey, model string, client *http.Client) *OpenAIProvider {
	if endpoint == "" {
		endpoint = DefaultOpenAIEndpoint
	}
	return &OpenAIProvider{endpoint: strings.TrimRight(endpoint, "/"), apiKey: apiKey, model: model, client: client}
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (p *OpenAIProvider) Send(ctx context.Context, req PlanRequest) (RawResponse, error) {
	body := map[string]any{
		"model": p.model,
		"messages": []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		"response_format": map[string]string{"type": "json_object"},
	}
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}

	var out struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := postJSON(ctx, p.client, p.Name(), p.endpoint+"/chat/completions", headers, body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", &ProviderUnavailableError{Provider: p.Name(), Err: errors.New("response contained no message")}
	}
	return RawResponse(out.Choices[0].Message.Content), nil
}

type AnthropicProvider struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func NewAnthropicProvider(endpoint, apiKey, model string, client *http.Client) *AnthropicProvider {
	if endpoint == "" {
		endpoint = DefaultAnthropicEndpoint
	}
	return &AnthropicProvider{endpoint: strings.TrimRight(endpoint, "/"), apiKey: apiKey, model: model, client: client}
}

func (p *AnthropicProvider) Name() string { return ProviderAnthropic }

func (p *AnthropicProvider) Send(ctx context.Context, req PlanRequest) (RawResponse, error) {
	body := map[string]any{
		"model":      p.model,
		"max_tokens": anthropicMaxTokens,
		"system":     req.System,
		"messages":   []chatMessage{{Role: "user", Content: req.User}},
	}
	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}

	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := postJSON(ctx, p.client, p.Name(), p.endpoint+"/v1/messages", headers, body, &out); err != nil {
		return "", err
	}
	for _, block := range out.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return RawResponse(block.Text), nil
		}
	}
	return "", &ProviderUnavailableError{Provider: p.Name(), Err: errors.New("response contained no text")}
}

func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &ProviderUnavailableError{Provider: provider, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &ProviderUnavailableError{Provider: provider, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &ProviderTimeoutError{Provider: provider, Err: err}
		}
		return &ProviderUnavailableError{Provider: provider, Transient: ctx.Err() == nil, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ProviderUnavailableError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Transient:  transientStatus(resp.StatusCode),
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(snippet))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &ProviderTimeoutError{Provider: provider, Err: err}
		}
		return &ProviderUnavailableError{Provider: provider, Transient: true, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// transientStatus treats rate limiting and server errors as retryable;
// authentication and malformed requests are not.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
