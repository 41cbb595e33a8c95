package utils

import (
	"encoding/json"
)

// Unmarshal JSON to generic struct
func UnmarshalFromJSON[T any](data []byte, output *T) error {
	return json.Unmarshal(data, output)
}

// MarshalOrNull marshals to JSON bytes, mapping nil-ish inputs to JSON null.
// Used for opaque payload columns (filters, metadata, layout).
func MarshalOrNull(v any) []byte {
	if v == nil {
		return []byte("null")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return data
}
