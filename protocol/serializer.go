package protocol

import "encoding/json"

// Serializer defines the contract for serializing and deserializing commands and stored records.
// This allows a deployment to swap JSON for a denser format without touching the dark pool.
type Serializer interface {
	// Marshal serializes a Go struct into bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into a Go struct.
	// v must be a pointer to the target struct.
	Unmarshal(data []byte, v any) error
}

// DefaultJSONSerializer implements Serializer with encoding/json.
type DefaultJSONSerializer struct{}

func (DefaultJSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (DefaultJSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
