package utils

import (
	"fmt"
	"slices"
	"strings"
)

// ParsePairs parses KEY=VALUE strings into a map. Later pairs override
// earlier ones; a value may itself contain '='.
func ParsePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)

		if !ok || key == "" {
			return nil, fmt.Errorf("invalid pair %q, expected KEY=VALUE", pair)
		}

		out[key] = value
	}

	return out, nil
}

// FormatPairs renders a map as sorted KEY=VALUE strings
func FormatPairs(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}

	slices.Sort(out)

	return out
}
