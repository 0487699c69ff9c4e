package store

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// marshalDoc serializes a document for a doc column.
func marshalDoc(kind string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", kind, err)
	}
	return string(data), nil
}

// unmarshalDoc parses a doc column into v.
func unmarshalDoc(kind, data string, v any) error {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", kind, err)
	}
	return nil
}
