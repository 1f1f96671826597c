package model

import (
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// FileMetadata is kept by the peer that initiated the backup of a file.
type FileMetadata struct {
	FileID            string
	Path              string
	Size              int64
	NumChunks         int
	ReplicationDegree int
	BackedUpAt        time.Time
}

type FilePath = string

func NewFileMetadata(path, fileID string, size int64, numChunks, replicationDegree int) FileMetadata {
	return FileMetadata{
		FileID:            fileID,
		Path:              path,
		Size:              size,
		NumChunks:         numChunks,
		ReplicationDegree: replicationDegree,
		BackedUpAt:        time.Now(),
	}
}

// NewFileID derives the file identifier from the file path and contents as a
// CIDv1 with the raw codec and a sha2-256 multihash.
func NewFileID(path string, content []byte) (string, error) {
	buf := make([]byte, 0, len(path)+1+len(content))
	buf = append(buf, path...)
	buf = append(buf, 0)
	buf = append(buf, content...)

	sum, err := multihash.Sum(buf, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}

	return cid.NewCidV1(cid.Raw, sum).String(), nil
}
