package model

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pyropy/dbs/lib/utils"
)

// MaxChunkSize is the largest chunk body that fits a single datagram
// together with its header.
const MaxChunkSize = 64000

// MaxReplicationDegree is the largest replication degree a PUTCHUNK may carry.
const MaxReplicationDegree = 9

var (
	ErrChunkTooLarge            = errors.New("chunk data exceeds max chunk size")
	ErrInvalidReplicationDegree = errors.New("invalid replication degree")
	ErrInvalidChunkNo           = errors.New("invalid chunk number")
	ErrEmptyFileID              = errors.New("file id is empty")
	ErrInvalidFileID            = errors.New("invalid file id")
)

// ValidateFileID checks that a file id is a single plain token. File ids name
// directories and datastore keys, so path separators and dot segments are
// rejected.
func ValidateFileID(fileID string) error {
	if fileID == "" {
		return ErrEmptyFileID
	}

	if fileID == "." || fileID == ".." || strings.ContainsAny(fileID, "/\\") {
		return fmt.Errorf("%w: %q", ErrInvalidFileID, fileID)
	}

	for _, r := range fileID {
		if r <= ' ' || r == 0x7f {
			return fmt.Errorf("%w: %q", ErrInvalidFileID, fileID)
		}
	}

	return nil
}

// ChunkID addresses one chunk system-wide.
type ChunkID struct {
	FileID  string
	ChunkNo int
}

func (id ChunkID) String() string {
	return fmt.Sprintf("%s#%d", id.FileID, id.ChunkNo)
}

type Chunk struct {
	ID                ChunkID
	ReplicationDegree int
	Data              []byte
}

// NewChunk validates the identity and size of a chunk. Data longer than
// MaxChunkSize is rejected, never truncated.
func NewChunk(fileID string, chunkNo, replicationDegree int, data []byte) (Chunk, error) {
	if err := ValidateFileID(fileID); err != nil {
		return Chunk{}, err
	}

	if chunkNo < 0 {
		return Chunk{}, fmt.Errorf("%w: %d", ErrInvalidChunkNo, chunkNo)
	}

	if replicationDegree < 0 || replicationDegree > MaxReplicationDegree {
		return Chunk{}, fmt.Errorf("%w: %d", ErrInvalidReplicationDegree, replicationDegree)
	}

	if len(data) > MaxChunkSize {
		return Chunk{}, fmt.Errorf("%w: %d > %d", ErrChunkTooLarge, len(data), MaxChunkSize)
	}

	return Chunk{
		ID:                ChunkID{FileID: fileID, ChunkNo: chunkNo},
		ReplicationDegree: replicationDegree,
		Data:              data,
	}, nil
}

// PeerAddress identifies a peer by the source address of its datagrams.
type PeerAddress struct {
	IP   string
	Port int
}

func NewPeerAddress(addr *net.UDPAddr) PeerAddress {
	return PeerAddress{IP: addr.IP.String(), Port: addr.Port}
}

func (p PeerAddress) String() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

// ChunkMetadata describes a locally stored chunk. Mirrors never contains the
// local peer; local possession is implied by the chunk being in the store.
type ChunkMetadata struct {
	ID                ChunkID
	ReplicationDegree int
	Size              int
	Checksum          uint32
	Mirrors           []PeerAddress
	StoredAt          time.Time
}

// CurrentReplication counts the known mirrors plus the local copy.
func (m ChunkMetadata) CurrentReplication() int {
	return len(m.Mirrors) + 1
}

func (m ChunkMetadata) UnderReplicated() bool {
	return m.CurrentReplication() < m.ReplicationDegree
}

// AddMirror adds p to the mirror set. It reports whether the set changed.
func (m *ChunkMetadata) AddMirror(p PeerAddress) bool {
	if utils.Contains(m.Mirrors, p) {
		return false
	}

	m.Mirrors = append(m.Mirrors, p)
	return true
}

// RemoveMirror removes p from the mirror set. It reports whether the set changed.
func (m *ChunkMetadata) RemoveMirror(p PeerAddress) bool {
	if !utils.Contains(m.Mirrors, p) {
		return false
	}

	m.Mirrors = utils.Remove(m.Mirrors, p)
	return true
}
