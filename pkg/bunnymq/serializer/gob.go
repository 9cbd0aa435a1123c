package serializer

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Gob keeps Go types that JSON flattens, such as maps with non-string keys.
type Gob[T any] struct{}

func (Gob[T]) Dump(v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gob.Encode: %w", err)
	}

	return buf.Bytes(), nil
}

func (Gob[T]) Load(data []byte) (T, error) {
	var v T
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return v, fmt.Errorf("gob.Decode: %w", err)
	}

	return v, nil
}
