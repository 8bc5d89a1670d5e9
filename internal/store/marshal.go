package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/lazyjit/internal/canon"
)

// marshalSymbols converts a symbol list to canonical JSON TEXT.
func marshalSymbols(names []string) (string, error) {
	if names == nil {
		names = []string{}
	}
	data, err := canon.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("marshal symbols: %w", err)
	}
	return string(data), nil
}

// unmarshalSymbols parses a stored symbol list. Never returns nil on success.
func unmarshalSymbols(data string) ([]string, error) {
	names := []string{}
	if data == "" || data == "[]" {
		return names, nil
	}
	if err := json.Unmarshal([]byte(data), &names); err != nil {
		return nil, fmt.Errorf("unmarshal symbols: %w", err)
	}
	return names, nil
}

// marshalAddresses converts a name-to-address map to canonical JSON TEXT.
func marshalAddresses(m map[string]uint64) (string, error) {
	obj := make(map[string]any, len(m))
	for k, v := range m {
		obj[k] = v
	}
	data, err := canon.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("marshal addresses: %w", err)
	}
	return string(data), nil
}

// unmarshalAddresses parses a stored address map.
func unmarshalAddresses(data string) (map[string]uint64, error) {
	m := map[string]uint64{}
	if data == "" || data == "{}" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal addresses: %w", err)
	}
	return m, nil
}
