// Package serializer converts queue values to and from message bodies.
package serializer

// Serializer must round trip every value it accepts: Load(Dump(v)) equals v.
type Serializer[T any] interface {
	Dump(v T) ([]byte, error)
	Load(data []byte) (T, error)
}

// Raw is the "none" serializer: bodies pass through unmodified.
type Raw struct{}

func (Raw) Dump(v []byte) ([]byte, error) {
	return v, nil
}

func (Raw) Load(data []byte) ([]byte, error) {
	return data, nil
}
