package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider talks to any OpenAI-compatible /chat/completions endpoint
// (OpenAI, OpenRouter, vLLM, LM Studio).
type OpenAIProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client
}

type openAIChatResp struct {
	Created int64 `json:"created"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func NewOpenAIProvider(baseURL, apiKey, model string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// requestBody merges caller parameters under the fields this adapter owns.
func (p *OpenAIProvider) requestBody(model string, req ChatRequest) map[string]any {
	body := make(map[string]any, len(req.Parameters)+3)
	for k, v := range req.Parameters {
		body[k] = v
	}
	msgs := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, Message{Role: m.Role, Content: m.Content})
	}
	body["model"] = model
	body["messages"] = msgs
	body["stream"] = false
	return body
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*Completion, error) {
	if p.Client == nil {
		return nil, errors.New("openai: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = strings.TrimSpace(p.Model)
	}
	if model == "" {
		return nil, errors.New("openai: model is required")
	}

	b, err := json.Marshal(p.requestBody(model, req))
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		httpReq.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		httpReq.Header.Set("X-Title", p.AppName)
	}

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		apiErr := &APIError{Provider: "openai", StatusCode: resp.StatusCode}
		var decoded openAIChatResp
		if json.Unmarshal(body, &decoded) == nil && decoded.Error != nil {
			apiErr.Type = decoded.Error.Type
			apiErr.Message = decoded.Error.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}

	var decoded openAIChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, &APIError{Provider: "openai", StatusCode: resp.StatusCode, Type: decoded.Error.Type, Message: decoded.Error.Message}
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("openai: empty response")
	}

	out := &Completion{
		Created:      decoded.Created,
		Content:      decoded.Choices[0].Message.Content,
		FinishReason: decoded.Choices[0].FinishReason,
	}
	if decoded.Usage != nil {
		out.PromptTokens = decoded.Usage.PromptTokens
		out.CompletionTokens = decoded.Usage.CompletionTokens
	}
	return out, nil
}
