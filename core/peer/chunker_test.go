package peer

import (
	"bytes"
	"testing"

	"github.com/pyropy/dbs/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		chunkSize int
		want      []int
	}{
		{name: "empty file", size: 0, chunkSize: 10, want: []int{0}},
		{name: "short file", size: 7, chunkSize: 10, want: []int{7}},
		{name: "exact multiple ends with empty chunk", size: 20, chunkSize: 10, want: []int{10, 10, 0}},
		{name: "remainder", size: 25, chunkSize: 10, want: []int{10, 10, 5}},
		{name: "max chunk size", size: model.MaxChunkSize, chunkSize: model.MaxChunkSize, want: []int{model.MaxChunkSize, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := bytes.Repeat([]byte{0xab}, tt.size)

			chunks, err := SplitChunks("f1", data, tt.chunkSize, 2)
			require.NoError(t, err)
			require.Len(t, chunks, len(tt.want))

			var joined []byte
			for i, c := range chunks {
				assert.Equal(t, i, c.ID.ChunkNo)
				assert.Equal(t, "f1", c.ID.FileID)
				assert.Equal(t, 2, c.ReplicationDegree)
				assert.Len(t, c.Data, tt.want[i])
				joined = append(joined, c.Data...)
			}
			assert.Equal(t, len(data), len(joined))
		})
	}
}

func TestSplitChunksRejectsOversizedChunks(t *testing.T) {
	_, err := SplitChunks("f1", []byte("abc"), model.MaxChunkSize+1, 1)
	assert.ErrorIs(t, err, model.ErrChunkTooLarge)

	_, err = SplitChunks("f1", []byte("abc"), 0, 1)
	assert.ErrorIs(t, err, model.ErrChunkTooLarge)
}
