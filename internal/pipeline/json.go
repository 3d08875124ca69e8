package pipeline

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNoJSONArray = errors.New("model response contains no JSON array")

// extractJSONArray returns the outermost JSON array in a model response,
// tolerating markdown fences and prose around it.
func extractJSONArray(text string) (string, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return "", errNoJSONArray
	}
	return text[start : end+1], nil
}

// decodeJSONArray extracts and unmarshals the array in text into out.
func decodeJSONArray(text string, out any) error {
	raw, err := extractJSONArray(text)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}
