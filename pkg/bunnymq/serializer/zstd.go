package serializer

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Zstd compresses the output of another serializer.
type Zstd[T any] struct {
	inner   Serializer[T]
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewZstd[T any](inner Serializer[T]) (*Zstd[T], error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd.NewWriter: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("zstd.NewReader: %w", err)
	}

	return &Zstd[T]{
		inner:   inner,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func (z *Zstd[T]) Dump(v T) ([]byte, error) {
	data, err := z.inner.Dump(v)
	if err != nil {
		return nil, err
	}

	return z.encoder.EncodeAll(data, nil), nil
}

func (z *Zstd[T]) Load(data []byte) (T, error) {
	raw, err := z.decoder.DecodeAll(data, nil)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("decoder.DecodeAll: %w", err)
	}

	return z.inner.Load(raw)
}

func (z *Zstd[T]) Close() error {
	z.decoder.Close()
	return z.encoder.Close()
}
