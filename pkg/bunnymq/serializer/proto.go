package serializer

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Proto serializes generated protobuf messages, T being the pointer type
// (e.g. *pb.Event).
type Proto[T proto.Message] struct{}

func (Proto[T]) Dump(v T) ([]byte, error) {
	data, err := proto.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("proto.Marshal: %w", err)
	}

	return data, nil
}

func (Proto[T]) Load(data []byte) (T, error) {
	var zero T
	v, ok := zero.ProtoReflect().New().Interface().(T)
	if !ok {
		return zero, fmt.Errorf("proto: cannot allocate %T", zero)
	}

	if err := proto.Unmarshal(data, v); err != nil {
		return zero, fmt.Errorf("proto.Unmarshal: %w", err)
	}

	return v, nil
}
