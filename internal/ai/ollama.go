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

type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaChatReq struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResp struct {
	CreatedAt       string  `json:"created_at"`
	Message         Message `json:"message"`
	DoneReason      string  `json:"done_reason"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error,omitempty"`
}

// ollamaOptions renames the OpenAI-style parameter names Ollama spells differently.
func ollamaOptions(params map[string]any) map[string]any {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		switch k {
		case "max_tokens":
			out["num_predict"] = v
		default:
			out[k] = v
		}
	}
	return out
}

func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*Completion, error) {
	if p.Client == nil {
		return nil, errors.New("ollama: http client is nil")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.Model
	}

	reqBody := ollamaChatReq{
		Model:    model,
		Stream:   false,
		Messages: append([]Message(nil), req.Messages...),
		Options:  ollamaOptions(req.Parameters),
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/chat", strings.TrimRight(p.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		var decoded ollamaChatResp
		if json.Unmarshal(body, &decoded) == nil && decoded.Error != "" {
			msg = decoded.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Provider: "ollama", StatusCode: resp.StatusCode, Message: msg}
	}

	var decoded ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	if decoded.Error != "" {
		return nil, errors.New("ollama: " + decoded.Error)
	}

	created := time.Now().Unix()
	if t, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt); err == nil {
		created = t.Unix()
	}
	return &Completion{
		Created:          created,
		Content:          decoded.Message.Content,
		FinishReason:     decoded.DoneReason,
		PromptTokens:     decoded.PromptEvalCount,
		CompletionTokens: decoded.EvalCount,
	}, nil
}
