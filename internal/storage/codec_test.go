package storage

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStream(t *testing.T) {
	records := []Record{
		{Key: "alpha", Value: []byte("one")},
		{Key: "beta", Tombstone: true},
		{Key: "", Value: []byte{}},
		{Key: "gamma", Value: bytes.Repeat([]byte("x"), 100000)},
	}

	var buf bytes.Buffer
	w := NewRecordWriter(&buf)
	for _, rec := range records {
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())
	assert.Equal(t, len(records), w.Count())

	r := NewStreamReader(&buf)
	for _, want := range records {
		got, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, want.Key, got.Key)
		assert.Equal(t, want.Tombstone, got.Tombstone)
		assert.Equal(t, len(want.Value), len(got.Value))
	}
	_, err := r.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestRecordStream_Truncated(t *testing.T) {
	var buf bytes.Buffer
	w := NewRecordWriter(&buf)
	require.NoError(t, w.Write(Record{Key: "alpha", Value: []byte("one")}))
	require.NoError(t, w.Close())

	r := NewStreamReader(bytes.NewReader(buf.Bytes()[:buf.Len()-2]))
	_, err := r.Next()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}
