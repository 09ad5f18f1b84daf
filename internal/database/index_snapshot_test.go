package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	idx := NewEmbeddingIndex(IndexOptions{Dimension: 3})
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, idx.Add(i*3, []float32{float32(i), float32(-i), 0.5}))
	}
	idx.buildTime = time.Unix(1700000000, 42).UTC()

	data, err := encodeSnapshot(idx.snapshotView())
	require.NoError(t, err)
	assert.Equal(t, snapshotMagic, string(data[:4]))

	snap, err := decodeSnapshot(data, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(30), snap.MaxFaceID)
	assert.Equal(t, idx.buildTime, snap.BuildTime)
	assert.Equal(t, idx.vectors, snap.Vectors)
	assert.Equal(t, 10, snap.Graph.Len())
}

func TestSnapshotEmpty(t *testing.T) {
	idx := NewEmbeddingIndex(IndexOptions{Dimension: 16})
	data, err := encodeSnapshot(idx.snapshotView())
	require.NoError(t, err)

	snap, err := decodeSnapshot(data, 16)
	require.NoError(t, err)
	assert.Empty(t, snap.Vectors)
	assert.True(t, snap.BuildTime.IsZero())
}

func TestSnapshotCorruption(t *testing.T) {
	idx := NewEmbeddingIndex(IndexOptions{Dimension: 2})
	require.NoError(t, idx.Add(1, []float32{1, 2}))
	require.NoError(t, idx.Add(2, []float32{3, 4}))
	data, err := encodeSnapshot(idx.snapshotView())
	require.NoError(t, err)

	badVersion := append([]byte(nil), data...)
	badVersion[4] = 99

	badMetric := append([]byte(nil), data...)
	badMetric[7] = 'x'

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("XXXX"), data[4:]...)},
		{"bad version", badVersion},
		{"bad metric", badMetric},
		{"header only", data[:20]},
		{"truncated body", data[:len(data)-5]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeSnapshot(tt.data, 2)
			assert.ErrorIs(t, err, ErrCorruptIndex)
		})
	}
}
