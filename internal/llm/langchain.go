package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"

	"deepresearch/backend/internal/research"
)

var ErrEmptyCompletion = errors.New("model returned no content")

// LangChain adapts any langchaingo model to the research generator
// interfaces.
type LangChain struct {
	model  llms.Model
	logger *zap.Logger
}

func NewLangChain(model llms.Model, logger *zap.Logger) LangChain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return LangChain{model: model, logger: logger}
}

// NewOpenAI builds a generator for any OpenAI-compatible chat endpoint.
func NewOpenAI(apiKey, model, baseURL string, httpClient *http.Client, logger *zap.Logger) (LangChain, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, openai.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}
	if httpClient != nil {
		opts = append(opts, openai.WithHTTPClient(httpClient))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return LangChain{}, fmt.Errorf("init openai client: %w", err)
	}
	return NewLangChain(client, logger), nil
}

func (g LangChain) Generate(ctx context.Context, messages []research.Message) (string, error) {
	return g.GenerateStream(ctx, messages, nil)
}

func (g LangChain) GenerateStream(ctx context.Context, messages []research.Message, onDelta func(string) error) (string, error) {
	var options []llms.CallOption
	if onDelta != nil {
		options = append(options, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return onDelta(string(chunk))
		}))
	}

	resp, err := g.model.GenerateContent(ctx, toMessageContent(messages), options...)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	choice := resp.Choices[0]
	if strings.TrimSpace(choice.Content) == "" {
		return "", ErrEmptyCompletion
	}
	g.logger.Debug("langchain completion", zap.String("stop_reason", choice.StopReason), zap.Int("chars", len(choice.Content)))
	return choice.Content, nil
}

func toMessageContent(messages []research.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, message := range messages {
		role := schema.ChatMessageTypeHuman
		switch strings.ToLower(strings.TrimSpace(message.Role)) {
		case "system":
			role = schema.ChatMessageTypeSystem
		case "assistant":
			role = schema.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, message.Content))
	}
	return out
}
