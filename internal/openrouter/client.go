package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/research"
)

const maxErrorBodyBytes = 8 * 1024

var (
	ErrMissingAPIKey = errors.New("openrouter api key is not configured")
	ErrEmptyResponse = errors.New("openrouter returned no content")
)

// APIError is a non-2xx answer from OpenRouter.
type APIError struct {
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	return fmt.Sprintf("openrouter returned %d: %s", e.StatusCode, e.Body)
}

func (e APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
	ReasoningTokens  int `json:"reasoningTokens,omitempty"`
}

type ReasoningConfig struct {
	Effort string `json:"effort,omitempty"`
}

type StreamRequest struct {
	Model     string
	Messages  []research.Message
	Reasoning *ReasoningConfig
}

type streamAPIRequest struct {
	Model         string             `json:"model"`
	Messages      []research.Message `json:"messages"`
	Reasoning     *ReasoningConfig   `json:"reasoning,omitempty"`
	Stream        bool               `json:"stream"`
	StreamOptions *streamOptions     `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type streamAPIUsage struct {
	PromptTokens            int `json:"prompt_tokens"`
	CompletionTokens        int `json:"completion_tokens"`
	TotalTokens             int `json:"total_tokens"`
	CompletionTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`
}

type streamAPIResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *streamAPIUsage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client talks to the OpenRouter chat completions API and serves as the
// research text generator.
type Client struct {
	apiKey          string
	baseURL         string
	model           string
	reasoningEffort string
	httpClient      *http.Client
	logger          *zap.Logger
}

func NewClient(cfg config.Config, httpClient *http.Client, logger *zap.Logger) Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return Client{
		apiKey:          strings.TrimSpace(cfg.OpenRouterAPIKey),
		baseURL:         strings.TrimRight(strings.TrimSpace(cfg.OpenRouterBaseURL), "/"),
		model:           strings.TrimSpace(cfg.LLMModel),
		reasoningEffort: strings.TrimSpace(cfg.LLMReasoningEffort),
		httpClient:      httpClient,
		logger:          logger,
	}
}

func (c Client) Generate(ctx context.Context, messages []research.Message) (string, error) {
	return c.GenerateStream(ctx, messages, nil)
}

// GenerateStream streams one completion with the configured model, passing
// each content delta to onDelta, and returns the full text.
func (c Client) GenerateStream(ctx context.Context, messages []research.Message, onDelta func(string) error) (string, error) {
	req := StreamRequest{Model: c.model, Messages: messages}
	if c.reasoningEffort != "" {
		req.Reasoning = &ReasoningConfig{Effort: c.reasoningEffort}
	}

	var out strings.Builder
	usage, err := c.Stream(ctx, req, func(delta string) error {
		out.WriteString(delta)
		if onDelta != nil {
			return onDelta(delta)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	c.logger.Debug("openrouter completion",
		zap.String("model", req.Model),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
	)
	if strings.TrimSpace(out.String()) == "" {
		return "", ErrEmptyResponse
	}
	return out.String(), nil
}

// Stream posts a streaming chat completion and calls onDelta for every content
// delta. The usage of the final chunk is returned when the upstream sends it.
func (c Client) Stream(ctx context.Context, req StreamRequest, onDelta func(string) error) (Usage, error) {
	if c.apiKey == "" {
		return Usage{}, ErrMissingAPIKey
	}
	if strings.TrimSpace(req.Model) == "" {
		return Usage{}, errors.New("model is required")
	}
	if len(req.Messages) == 0 {
		return Usage{}, errors.New("messages are required")
	}

	var reasoning *ReasoningConfig
	if req.Reasoning != nil && strings.TrimSpace(req.Reasoning.Effort) != "" {
		reasoning = &ReasoningConfig{Effort: strings.TrimSpace(req.Reasoning.Effort)}
	}

	payload, err := json.Marshal(streamAPIRequest{
		Model:         strings.TrimSpace(req.Model),
		Messages:      req.Messages,
		Reasoning:     reasoning,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return Usage{}, fmt.Errorf("marshal openrouter request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Usage{}, fmt.Errorf("build openrouter request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Usage{}, fmt.Errorf("request openrouter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return Usage{}, APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var usage Usage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return usage, nil
		}

		var parsed streamAPIResponse
		if err := json.Unmarshal([]byte(data), &parsed); err != nil {
			continue
		}
		if parsed.Error != nil && strings.TrimSpace(parsed.Error.Message) != "" {
			return usage, errors.New(strings.TrimSpace(parsed.Error.Message))
		}
		if parsed.Usage != nil {
			usage = Usage{
				PromptTokens:     parsed.Usage.PromptTokens,
				CompletionTokens: parsed.Usage.CompletionTokens,
				TotalTokens:      parsed.Usage.TotalTokens,
			}
			if parsed.Usage.CompletionTokensDetails != nil {
				usage.ReasoningTokens = parsed.Usage.CompletionTokensDetails.ReasoningTokens
			}
		}

		for _, choice := range parsed.Choices {
			if choice.Delta.Content == "" || onDelta == nil {
				continue
			}
			if err := onDelta(choice.Delta.Content); err != nil {
				return usage, err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return usage, fmt.Errorf("read openrouter stream: %w", err)
	}
	return usage, nil
}
