package projection

import "encoding/json"

// Codec encodes projection values for storage in the cache.
type Codec[T any] interface {
	// MediaType returns the media type of the encoded data.
	MediaType() string

	// Marshal returns the binary representation of v.
	Marshal(v T) ([]byte, error)

	// Unmarshal decodes data produced by Marshal().
	Unmarshal(data []byte) (T, error)
}

// JSONCodec is a Codec that encodes values as JSON.
type JSONCodec[T any] struct{}

// MediaType returns "application/json".
func (JSONCodec[T]) MediaType() string {
	return "application/json"
}

// Marshal returns the JSON representation of v.
func (JSONCodec[T]) Marshal(v T) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes JSON data.
func (JSONCodec[T]) Unmarshal(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
