package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type job struct {
	ID      int
	Name    string
	Retries map[int]string
}

func TestJSON(t *testing.T) {
	s := JSON[job]{}
	want := job{ID: 1, Name: "resize", Retries: map[int]string{1: "timeout"}}

	data, err := s.Dump(want)
	require.NoError(t, err)
	got, err := s.Load(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = s.Load([]byte("{"))
	assert.Error(t, err)
}

func TestGob(t *testing.T) {
	s := Gob[job]{}
	want := job{ID: 2, Name: "thumbnail", Retries: map[int]string{3: "oom"}}

	data, err := s.Dump(want)
	require.NoError(t, err)
	got, err := s.Load(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = s.Load([]byte{0x01})
	assert.Error(t, err)
}

func TestProto(t *testing.T) {
	s := Proto[*wrapperspb.StringValue]{}
	want := wrapperspb.String("hello")

	data, err := s.Dump(want)
	require.NoError(t, err)
	got, err := s.Load(data)
	require.NoError(t, err)
	assert.True(t, proto.Equal(want, got))

	_, err = s.Load([]byte{0xff, 0xff})
	assert.Error(t, err)
}

func TestRaw(t *testing.T) {
	s := Raw{}
	body := []byte{0x00, 0x01, 0xfe}

	data, err := s.Dump(body)
	require.NoError(t, err)
	assert.Equal(t, body, data)

	got, err := s.Load(data)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestZstd(t *testing.T) {
	s, err := NewZstd[job](JSON[job]{})
	require.NoError(t, err)
	defer s.Close()

	want := job{ID: 3, Name: string(make([]byte, 4096))}

	data, err := s.Dump(want)
	require.NoError(t, err)
	assert.Less(t, len(data), 4096)

	got, err := s.Load(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = s.Load([]byte("not zstd"))
	assert.Error(t, err)
}

func TestZstd_InnerError(t *testing.T) {
	s, err := NewZstd[any](JSON[any]{})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Dump(make(chan int))
	assert.Error(t, err)
}
