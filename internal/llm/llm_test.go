package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/openrouter"
	"deepresearch/backend/internal/research"
)

type stubModel struct {
	chunks []string
	err    error
	got    []llms.MessageContent
}

func (m *stubModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.got = messages
	if m.err != nil {
		return nil, m.err
	}
	var opts llms.CallOptions
	for _, option := range options {
		option(&opts)
	}
	for _, chunk := range m.chunks {
		if opts.StreamingFunc != nil {
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: strings.Join(m.chunks, ""), StopReason: "stop"}}}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestLangChainMapsRolesAndStreams(t *testing.T) {
	model := &stubModel{chunks: []string{"Hel", "lo"}}
	gen := NewLangChain(model, nil)

	var deltas []string
	text, err := gen.GenerateStream(context.Background(), []research.Message{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: "question"},
		{Role: "assistant", Content: "earlier answer"},
	}, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)

	require.Len(t, model.got, 3)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.got[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, model.got[1].Role)
	assert.Equal(t, schema.ChatMessageTypeAI, model.got[2].Role)
}

func TestLangChainEmptyCompletion(t *testing.T) {
	gen := NewLangChain(&stubModel{chunks: []string{"  "}}, nil)
	_, err := gen.Generate(context.Background(), []research.Message{{Role: "user", Content: "q"}})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestOpenAIGeneratorAgainstCompatibleServer(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test","choices":[{"index":0,"message":{"role":"assistant","content":"compatible answer"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	}))
	defer server.Close()

	gen, err := NewOpenAI("sk-test", "gpt-test", server.URL, server.Client(), nil)
	require.NoError(t, err)

	text, err := gen.Generate(context.Background(), []research.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "compatible answer", text)
	assert.Contains(t, body, `"model":"gpt-test"`)
}

type flakyGenerator struct {
	failures int32
	err      error
	calls    atomic.Int32
	deltas   []string
}

func (f *flakyGenerator) Generate(ctx context.Context, messages []research.Message) (string, error) {
	return f.GenerateStream(ctx, messages, nil)
}

func (f *flakyGenerator) GenerateStream(_ context.Context, _ []research.Message, onDelta func(string) error) (string, error) {
	call := f.calls.Add(1)
	if onDelta != nil {
		for _, delta := range f.deltas {
			if err := onDelta(delta); err != nil {
				return "", err
			}
		}
	}
	if call <= f.failures {
		return "", f.err
	}
	return "ok", nil
}

func shrinkBackoff(t *testing.T) {
	t.Helper()
	previous := backoffBase
	backoffBase = time.Millisecond
	t.Cleanup(func() { backoffBase = previous })
}

func TestWithRetryRecoversFromTransientFailures(t *testing.T) {
	shrinkBackoff(t)
	inner := &flakyGenerator{failures: 2, err: openrouter.APIError{StatusCode: http.StatusBadGateway}}

	text, err := WithRetry(inner, 2, nil).Generate(context.Background(), []research.Message{{Role: "user", Content: "q"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.EqualValues(t, 3, inner.calls.Load())
}

func TestWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	shrinkBackoff(t)
	boom := errors.New("connection reset")
	inner := &flakyGenerator{failures: 10, err: boom}

	_, err := WithRetry(inner, 2, nil).Generate(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 3, inner.calls.Load())
}

func TestWithRetrySkipsPermanentErrors(t *testing.T) {
	shrinkBackoff(t)
	inner := &flakyGenerator{failures: 10, err: openrouter.APIError{StatusCode: http.StatusUnauthorized}}

	_, err := WithRetry(inner, 3, nil).Generate(context.Background(), nil)
	var apiErr openrouter.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestWithRetryDoesNotRepeatStartedStreams(t *testing.T) {
	shrinkBackoff(t)
	inner := &flakyGenerator{failures: 10, err: errors.New("stream broke"), deltas: []string{"partial"}}

	var got []string
	_, err := WithRetry(inner, 3, nil).GenerateStream(context.Background(), nil, func(delta string) error {
		got = append(got, delta)
		return nil
	})
	assert.Error(t, err)
	assert.EqualValues(t, 1, inner.calls.Load())
	assert.Equal(t, []string{"partial"}, got)
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	previous := backoffBase
	backoffBase = time.Hour
	t.Cleanup(func() { backoffBase = previous })

	ctx, cancel := context.WithCancel(context.Background())
	inner := &flakyGenerator{failures: 10, err: errors.New("flaky")}
	done := make(chan error, 1)
	go func() {
		_, err := WithRetry(inner, 3, nil).Generate(ctx, nil)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestWithRetryDisabled(t *testing.T) {
	inner := &flakyGenerator{}
	assert.Same(t, inner, WithRetry(inner, 0, nil))
}

func TestNewSelectsProvider(t *testing.T) {
	_, err := New(config.Config{LLMProvider: ProviderOpenRouter}, nil, nil)
	assert.ErrorIs(t, err, openrouter.ErrMissingAPIKey)

	_, err = New(config.Config{LLMProvider: ProviderOpenAI, LLMModel: "gpt-test"}, nil, nil)
	assert.ErrorContains(t, err, "OPENAI_API_KEY")

	_, err = New(config.Config{LLMProvider: "bard"}, nil, nil)
	assert.ErrorContains(t, err, "unknown llm provider")

	gen, err := New(config.Config{LLMProvider: ProviderOpenRouter, OpenRouterAPIKey: "k", LLMModel: "m", LLMMaxRetries: 2}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, Retrying{}, gen)

	gen, err = New(config.Config{LLMProvider: ProviderOpenAI, OpenAIAPIKey: "k", LLMModel: "m"}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, LangChain{}, gen)
}
