package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

type Model struct {
	ID                       string `json:"id"`
	Name                     string `json:"name"`
	ContextWindow            int    `json:"contextWindow"`
	PromptPriceMicrosUSD     int    `json:"promptPriceMicrosUsd"`
	CompletionPriceMicrosUSD int    `json:"completionPriceMicrosUsd"`
	SupportsReasoning        bool   `json:"supportsReasoning"`
	Free                     bool   `json:"free"`
}

type listModelsAPIResponse struct {
	Data []struct {
		ID                  string   `json:"id"`
		Name                string   `json:"name"`
		ContextLength       int      `json:"context_length"`
		SupportedParameters []string `json:"supported_parameters"`
		Pricing             struct {
			Prompt     json.RawMessage `json:"prompt"`
			Completion json.RawMessage `json:"completion"`
		} `json:"pricing"`
		TopProvider struct {
			ContextLength int `json:"context_length"`
		} `json:"top_provider"`
	} `json:"data"`
}

// ListModels returns the catalog visible to the API key, sorted by id. The
// per-user endpoint is tried first; deployments without it fall back to the
// public catalog.
func (c Client) ListModels(ctx context.Context) ([]Model, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	models, err := c.listModelsFromPath(ctx, "/models/user")
	var apiErr APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusMethodNotAllowed) {
		return c.listModelsFromPath(ctx, "/models")
	}
	return models, err
}

func (c Client) listModelsFromPath(ctx context.Context, path string) ([]Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build openrouter models request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request openrouter models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed listModelsAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode openrouter models response: %w", err)
	}

	models := make([]Model, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			continue
		}
		model := Model{
			ID:                       id,
			Name:                     strings.TrimSpace(item.Name),
			ContextWindow:            item.ContextLength,
			PromptPriceMicrosUSD:     priceMicros(item.Pricing.Prompt),
			CompletionPriceMicrosUSD: priceMicros(item.Pricing.Completion),
		}
		if model.Name == "" {
			model.Name = id
		}
		if model.ContextWindow <= 0 {
			model.ContextWindow = item.TopProvider.ContextLength
		}
		for _, parameter := range item.SupportedParameters {
			switch strings.ToLower(strings.TrimSpace(parameter)) {
			case "reasoning", "reasoning_effort":
				model.SupportsReasoning = true
			}
		}
		model.Free = model.PromptPriceMicrosUSD == 0 && model.CompletionPriceMicrosUSD == 0
		models = append(models, model)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// priceMicros converts a per-token USD price, sent as a string or a number,
// into micro-dollars.
func priceMicros(raw json.RawMessage) int {
	value := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if value == "" || value == "null" {
		return 0
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return 0
	}
	return int(math.Round(parsed * 1_000_000))
}
