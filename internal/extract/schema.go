// Package extract produces the base metric set from document text, combining
// per-segment model extraction with deterministic pattern matching.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"

	"github.com/meridianlabs/valuation-engine/internal/valuation"
)

// DecodeMetricSet parses a model response into a MetricSet, tolerating the
// usual failure modes of model output. Strategies are tried in order:
// strict JSON, the outermost brace-delimited substring, automated JSON
// repair, and finally lenient HJSON parsing. The decoded set is normalized
// before return.
func DecodeMetricSet(raw string) (*valuation.MetricSet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty response")
	}

	candidates := []string{raw}
	if sub := braceSubstring(raw); sub != "" && sub != raw {
		candidates = append(candidates, sub)
	}

	for _, candidate := range candidates {
		var m valuation.MetricSet
		if err := json.Unmarshal([]byte(candidate), &m); err == nil {
			m.Normalize()
			return &m, nil
		}
	}

	for _, candidate := range candidates {
		repaired, err := jsonrepair.RepairJSON(candidate)
		if err != nil {
			continue
		}
		var m valuation.MetricSet
		if err := json.Unmarshal([]byte(repaired), &m); err == nil {
			m.Normalize()
			return &m, nil
		}
	}

	for _, candidate := range candidates {
		var m valuation.MetricSet
		if err := hjson.Unmarshal([]byte(candidate), &m); err == nil {
			m.Normalize()
			return &m, nil
		}
	}

	return nil, fmt.Errorf("response is not parseable as metric JSON")
}

// braceSubstring returns the substring from the first '{' to the last '}',
// which strips prose wrapped around a JSON object.
func braceSubstring(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
