package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mpataki/stride/internal/logging"
)

// OpenAI is a Client backed by an OpenAI-compatible chat completions API.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type OpenAIOptions struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewOpenAI(opts OpenAIOptions) *OpenAI {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	if opts.Model == "" {
		opts.Model = "gpt-4.1"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &OpenAI{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		model:   opts.Model,
		client:  &http.Client{Timeout: opts.Timeout},
		logger:  opts.Logger,
	}
}

func (o *OpenAI) Classify(ctx context.Context, query string) (Intent, error) {
	resp, err := o.complete(ctx, classifyPrompt(query))
	if err != nil {
		return Intent{}, err
	}

	answer := strings.ToLower(strings.TrimSpace(resp))
	intent := Intent{}
	switch {
	case strings.Contains(answer, "both"):
		intent.NeedsData = true
		intent.NeedsChart = true
	case strings.Contains(answer, "chart"):
		intent.NeedsChart = true
	default:
		// Ambiguous answers default to a data answer.
		intent.NeedsData = true
	}
	return intent, nil
}

func (o *OpenAI) Enhance(ctx context.Context, query, schema, sample string, wantsChart bool) (string, error) {
	return o.complete(ctx, enhancePrompt(query, schema, sample, wantsChart))
}

func (o *OpenAI) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	resp, err := o.complete(ctx, generatePrompt(req))
	if err != nil {
		return "", err
	}
	code := StripCodeFence(resp)
	if strings.TrimSpace(code) == "" {
		return "", ErrEmptyResponse
	}
	return code, nil
}

func (o *OpenAI) Synthesize(ctx context.Context, req SynthesizeRequest) (string, error) {
	return o.complete(ctx, synthesizePrompt(req))
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (o *OpenAI) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    o.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	o.logger.Debug("oracle call",
		"model", o.model,
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"prompt_len", len(prompt))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrRateLimited
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEmptyResponse, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}

	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
