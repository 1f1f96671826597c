package peer

import (
	"fmt"

	"github.com/pyropy/dbs/core/model"
)

// SplitChunks cuts data into chunks of chunkSize bytes. The last chunk is
// always shorter than chunkSize, so a file whose size is a multiple of the
// chunk size ends with an empty chunk.
func SplitChunks(fileID string, data []byte, chunkSize, replicationDegree int) ([]model.Chunk, error) {
	if chunkSize <= 0 || chunkSize > model.MaxChunkSize {
		return nil, fmt.Errorf("%w: chunk size %d", model.ErrChunkTooLarge, chunkSize)
	}

	n := len(data)/chunkSize + 1
	chunks := make([]model.Chunk, 0, n)

	for i := 0; i < n; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}

		chunk, err := model.NewChunk(fileID, i, replicationDegree, data[start:end])
		if err != nil {
			return nil, err
		}

		chunks = append(chunks, chunk)
	}

	return chunks, nil
}
