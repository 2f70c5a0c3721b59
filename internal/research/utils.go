package research

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

func trimToRunes(raw string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(raw) <= limit {
		return raw
	}
	return string([]rune(raw)[:limit])
}

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

func collapseWhitespace(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

func dedupeQueries(queries []string) []string {
	if len(queries) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, query := range queries {
		normalized := collapseWhitespace(query)
		if normalized == "" {
			continue
		}
		key := strings.ToLower(normalized)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// extractJSONBlock returns the outermost {...} span of raw, tolerating code
// fences and prose around it.
func extractJSONBlock(raw string) string {
	return extractDelimited(raw, "{", "}")
}

func extractJSONArray(raw string) string {
	return extractDelimited(raw, "[", "]")
}

func extractDelimited(raw, open, closing string) string {
	value := strings.TrimSpace(raw)
	if strings.HasPrefix(value, open) && strings.HasSuffix(value, closing) {
		return value
	}
	start := strings.Index(value, open)
	end := strings.LastIndex(value, closing)
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return strings.TrimSpace(value[start : end+1])
}

func clampInt(value, minValue, maxValue int) int {
	if minValue > maxValue {
		minValue = maxValue
	}
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}
	return value
}

func clampUnit(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func intOrDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
