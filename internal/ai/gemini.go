package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider adapts the Gemini generative API to Provider. One client
// serves every model; the model comes from each request.
type GeminiProvider struct {
	client *genai.Client
	Model  string
	now    func() time.Time
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	if model == "" {
		model = "gemini-1.5-flash-latest"
	}
	return &GeminiProvider{client: client, Model: model, now: time.Now}, nil
}

func (p *GeminiProvider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *GeminiProvider) Chat(ctx context.Context, req ChatRequest) (*Completion, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("gemini: no messages")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != RoleUser {
		return nil, fmt.Errorf("gemini: last message has role %q, want user", last.Role)
	}

	name := strings.TrimSpace(req.Model)
	if name == "" {
		name = p.Model
	}
	model := p.client.GenerativeModel(name)
	applyGeminiParameters(model, req.Parameters)

	var history []*genai.Content
	for _, m := range req.Messages[:len(req.Messages)-1] {
		switch m.Role {
		case RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(m.Content)}}
			}
		case RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}

	cs := model.StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return nil, fmt.Errorf("gemini: send message: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("gemini: empty response")
	}

	cand := resp.Candidates[0]
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	out := &Completion{
		Created:      p.now().Unix(),
		Content:      text.String(),
		FinishReason: geminiFinishReason(cand.FinishReason),
	}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func applyGeminiParameters(model *genai.GenerativeModel, params map[string]any) {
	if v, ok := floatParam(params, "temperature"); ok {
		model.SetTemperature(float32(v))
	}
	if v, ok := floatParam(params, "top_p"); ok {
		model.SetTopP(float32(v))
	}
	if v, ok := floatParam(params, "max_tokens"); ok {
		model.SetMaxOutputTokens(int32(v))
	}
}

func floatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// geminiFinishReason maps Gemini's enum onto the OpenAI vocabulary stored in Request.finish_reason.
func geminiFinishReason(r genai.FinishReason) string {
	switch r {
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return "content_filter"
	case genai.FinishReasonUnspecified:
		return ""
	default:
		return "other"
	}
}
