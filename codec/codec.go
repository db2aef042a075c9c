// Package codec defines payload (de)serialization at the backend boundary.
// The store core never inspects payload contents; a Codec[V] turns the
// caller's value type into the raw bytes a backend persists and back.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
