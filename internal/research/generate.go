package research

import (
	"context"
	"errors"
	"strings"
	"time"
)

var errEmptyGeneration = errors.New("generator returned empty text")

// generateText runs one generation call bounded by timeout. When onDelta is set
// and gen can stream, deltas are forwarded as they arrive.
func generateText(ctx context.Context, gen TextGenerator, timeout time.Duration, messages []Message, onDelta func(string) error) (string, error) {
	if gen == nil {
		return "", errors.New("text generator unavailable")
	}
	callCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	var (
		text string
		err  error
	)
	if streamer, ok := gen.(StreamingTextGenerator); ok && onDelta != nil {
		text, err = streamer.GenerateStream(callCtx, messages, onDelta)
	} else {
		text, err = gen.Generate(callCtx, messages)
	}
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errEmptyGeneration
	}
	return text, nil
}

func systemAndUser(system, user string) []Message {
	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}
