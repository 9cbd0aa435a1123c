package serializer

import (
	"encoding/json"
	"fmt"
)

type JSON[T any] struct{}

func (JSON[T]) Dump(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}

	return data, nil
}

func (JSON[T]) Load(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("json.Unmarshal: %w", err)
	}

	return v, nil
}
