package serving

import (
	"fmt"
	"sort"
	"strings"
)

// ExtractText pulls human-readable text out of a raw invocation response.
//
// The response shape is heterogeneous: output may live under "output",
// "outputs", or "predictions", and items may be message objects with
// output_text content blocks, objects carrying a direct text field, or plain
// strings. All text fragments found are concatenated in encounter order,
// separated by blank lines. An empty or unrecognized response degrades to a
// diagnostic string instead of an error.
func ExtractText(raw map[string]any) string {
	output := firstPresent(raw, "output", "outputs", "predictions")
	items, _ := output.([]any)
	if len(items) == 0 {
		return fmt.Sprintf("No response parsed. Raw response keys: %v", sortedKeys(raw))
	}

	var textParts []string
	for _, item := range items {
		switch value := item.(type) {
		case map[string]any:
			if value["type"] == "message" {
				blocks, _ := value["content"].([]any)
				for _, block := range blocks {
					blockMap, ok := block.(map[string]any)
					if !ok {
						continue
					}
					if blockMap["type"] == "output_text" {
						if text, ok := blockMap["text"].(string); ok {
							textParts = append(textParts, text)
						}
					}
				}
			} else if text, ok := value["text"].(string); ok {
				textParts = append(textParts, text)
			}
		case string:
			textParts = append(textParts, value)
		}
	}

	if len(textParts) > 0 {
		return strings.Join(textParts, "\n\n")
	}
	return fmt.Sprint(items)
}

func firstPresent(raw map[string]any, keys ...string) any {
	for _, key := range keys {
		if value, ok := raw[key]; ok && value != nil {
			return value
		}
	}
	return nil
}

func sortedKeys(raw map[string]any) []string {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
