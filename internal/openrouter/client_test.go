package openrouter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/research"
)

func newTestClient(serverURL string, httpClient *http.Client) Client {
	return NewClient(config.Config{
		OpenRouterAPIKey:   "test-key",
		OpenRouterBaseURL:  serverURL,
		LLMModel:           "openrouter/free",
		LLMReasoningEffort: "low",
	}, httpClient, nil)
}

func TestGenerateStreamStreamsDeltas(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %q", got)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		rawBody := string(body)
		for _, want := range []string{`"model":"openrouter/free"`, `"stream":true`, `"effort":"low"`, `"role":"system"`} {
			if !strings.Contains(rawBody, want) {
				t.Errorf("request body missing %s: %s", want, rawBody)
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(": keep-alive\n\n"))
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: not-json\n\n"))
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"choices\":[],\"usage\":{\"prompt_tokens\":12,\"completion_tokens\":2,\"total_tokens\":14}}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.Client())
	var deltas []string
	text, err := client.GenerateStream(context.Background(), []research.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("generate stream: %v", err)
	}
	if text != "Hello world" {
		t.Fatalf("unexpected text %q", text)
	}
	if len(deltas) != 2 {
		t.Fatalf("expected two deltas, got %v", deltas)
	}
}

func TestStreamReturnsUsage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":7,\"total_tokens\":12,\"completion_tokens_details\":{\"reasoning_tokens\":3}}}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	usage, err := newTestClient(server.URL, server.Client()).Stream(context.Background(), StreamRequest{
		Model:    "some/model",
		Messages: []research.Message{{Role: "user", Content: "hi"}},
	}, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if usage.TotalTokens != 12 || usage.ReasoningTokens != 3 {
		t.Fatalf("unexpected usage %+v", usage)
	}
}

func TestGenerateStopsWhenDeltaHandlerFails(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n"))
	}))
	defer server.Close()

	stop := errors.New("client went away")
	_, err := newTestClient(server.URL, server.Client()).GenerateStream(context.Background(),
		[]research.Message{{Role: "user", Content: "hi"}},
		func(string) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func TestGenerateReportsEmptyAndInStreamErrors(t *testing.T) {
	t.Parallel()

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer empty.Close()
	if _, err := newTestClient(empty.URL, empty.Client()).Generate(context.Background(), []research.Message{{Role: "user", Content: "hi"}}); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("data: {\"error\":{\"message\":\"provider overloaded\"}}\n\n"))
	}))
	defer failing.Close()
	_, err := newTestClient(failing.URL, failing.Client()).Generate(context.Background(), []research.Message{{Role: "user", Content: "hi"}})
	if err == nil || !strings.Contains(err.Error(), "provider overloaded") {
		t.Fatalf("expected in-stream error, got %v", err)
	}
}

func TestStreamReturnsAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, server.Client()).Generate(context.Background(), []research.Message{{Role: "user", Content: "hi"}})
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || !apiErr.Temporary() {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestStreamReturnsMissingKeyError(t *testing.T) {
	t.Parallel()

	client := NewClient(config.Config{OpenRouterBaseURL: "https://openrouter.ai/api/v1", LLMModel: "m"}, nil, nil)
	if _, err := client.Generate(context.Background(), []research.Message{{Role: "user", Content: "hi"}}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestListModelsParsesCatalog(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/user" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[
		  {"id":"z/model","name":"Zed","context_length":0,"top_provider":{"context_length":32000},"pricing":{"prompt":"0.000002","completion":0.000004},"supported_parameters":["Reasoning"]},
		  {"id":"a/free","name":"","context_length":8000,"pricing":{"prompt":"0","completion":"0"}},
		  {"id":"  ","name":"blank"}
		]}`))
	}))
	defer server.Close()

	models, err := newTestClient(server.URL, server.Client()).ListModels(context.Background())
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %+v", models)
	}
	if models[0].ID != "a/free" || models[0].Name != "a/free" || !models[0].Free {
		t.Fatalf("unexpected first model %+v", models[0])
	}
	zed := models[1]
	if zed.ContextWindow != 32000 || zed.PromptPriceMicrosUSD != 2 || zed.CompletionPriceMicrosUSD != 4 || !zed.SupportsReasoning || zed.Free {
		t.Fatalf("unexpected second model %+v", zed)
	}
}

func TestListModelsFallsBackWhenUserEndpointIsUnavailable(t *testing.T) {
	t.Parallel()

	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/models/user" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"a/model"}]}`))
	}))
	defer server.Close()

	models, err := newTestClient(server.URL, server.Client()).ListModels(context.Background())
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(models) != 1 || len(paths) != 2 || paths[1] != "/models" {
		t.Fatalf("expected fallback to /models, got %v / %+v", paths, models)
	}
}

func TestListModelsReturnsUpstreamError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL, server.Client()).ListModels(context.Background()); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected upstream error, got %v", err)
	}
}
