package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pyropy/dbs/core/model"
)

// Version is the protocol version written into every header.
const Version = "1.0"

// MaxDatagramSize is the largest UDP payload over IPv4.
const MaxDatagramSize = 65507

// CRLF terminates header lines. A blank line ends the header.
const CRLF = "\r\n"

var headerTerminator = []byte(CRLF + CRLF)

// MessageType identifies the subprotocol message carried by a datagram.
type MessageType string

const (
	PutChunk MessageType = "PUTCHUNK"
	Stored   MessageType = "STORED"
	GetChunk MessageType = "GETCHUNK"
	Chunk    MessageType = "CHUNK"
	Delete   MessageType = "DELETE"
	Removed  MessageType = "REMOVED"
)

var (
	ErrMissingTerminator  = errors.New("header terminator not found")
	ErrMalformedHeader    = errors.New("malformed header")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
)

// ParseMessageType maps a header token onto the closed set of message types.
func ParseMessageType(s string) (MessageType, error) {
	switch t := MessageType(s); t {
	case PutChunk, Stored, GetChunk, Chunk, Delete, Removed:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMessageType, s)
	}
}

// HasBody reports whether messages of type t carry chunk bytes after the header.
func (t MessageType) HasBody() bool {
	return t == PutChunk || t == Chunk
}

// Message is a decoded datagram.
type Message struct {
	Type              MessageType
	Version           string
	FileID            string
	ChunkNo           int
	ReplicationDegree int
	Body              []byte
}

func (m *Message) ChunkID() model.ChunkID {
	return model.ChunkID{FileID: m.FileID, ChunkNo: m.ChunkNo}
}

// Marshal encodes the message as header fields separated by spaces, the
// header terminator and, for PUTCHUNK and CHUNK, the raw body.
func (m *Message) Marshal() []byte {
	version := m.Version
	if version == "" {
		version = Version
	}

	fields := []string{string(m.Type), version, m.FileID}
	if m.Type != Delete {
		fields = append(fields, strconv.Itoa(m.ChunkNo))
	}

	if m.Type == PutChunk {
		fields = append(fields, strconv.Itoa(m.ReplicationDegree))
	}

	header := strings.Join(fields, " ")

	var buf bytes.Buffer
	buf.Grow(len(header) + len(headerTerminator) + len(m.Body))
	buf.WriteString(header)
	buf.Write(headerTerminator)
	if m.Type.HasBody() {
		buf.Write(m.Body)
	}

	return buf.Bytes()
}

// Parse splits a datagram into header and body and validates the header
// fields for the message type. The header length is not fixed; the body is
// whatever follows the first blank line.
func Parse(datagram []byte) (*Message, error) {
	idx := bytes.Index(datagram, headerTerminator)
	if idx < 0 {
		return nil, ErrMissingTerminator
	}

	// Only the first header line is defined; later lines are ignored.
	header := string(datagram[:idx])
	if nl := strings.Index(header, CRLF); nl >= 0 {
		header = header[:nl]
	}

	tokens := strings.Fields(header)
	if len(tokens) < 3 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedHeader, header)
	}

	msgType, err := ParseMessageType(tokens[0])
	if err != nil {
		return nil, err
	}

	if err := checkVersion(tokens[1]); err != nil {
		return nil, err
	}

	if err := model.ValidateFileID(tokens[2]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	msg := &Message{
		Type:    msgType,
		Version: tokens[1],
		FileID:  tokens[2],
	}

	want := 4
	switch msgType {
	case PutChunk:
		want = 5
	case Delete:
		want = 3
	}

	if len(tokens) < want {
		return nil, fmt.Errorf("%w: %s needs %d fields, got %d", ErrMalformedHeader, msgType, want, len(tokens))
	}

	if want >= 4 {
		msg.ChunkNo, err = strconv.Atoi(tokens[3])
		if err != nil || msg.ChunkNo < 0 {
			return nil, fmt.Errorf("%w: chunk number %q", ErrMalformedHeader, tokens[3])
		}
	}

	if msgType == PutChunk {
		msg.ReplicationDegree, err = strconv.Atoi(tokens[4])
		if err != nil || msg.ReplicationDegree < 0 || msg.ReplicationDegree > model.MaxReplicationDegree {
			return nil, fmt.Errorf("%w: replication degree %q", ErrMalformedHeader, tokens[4])
		}
	}

	if msgType.HasBody() {
		msg.Body = datagram[idx+len(headerTerminator):]
	}

	return msg, nil
}

// checkVersion accepts any 1.x version.
func checkVersion(v string) error {
	major, minor, ok := strings.Cut(v, ".")
	if !ok || major != "1" {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, v)
	}

	if _, err := strconv.Atoi(minor); err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, v)
	}

	return nil
}

func NewPutChunk(chunk model.Chunk) *Message {
	return &Message{
		Type:              PutChunk,
		Version:           Version,
		FileID:            chunk.ID.FileID,
		ChunkNo:           chunk.ID.ChunkNo,
		ReplicationDegree: chunk.ReplicationDegree,
		Body:              chunk.Data,
	}
}

func NewStored(id model.ChunkID) *Message {
	return &Message{Type: Stored, Version: Version, FileID: id.FileID, ChunkNo: id.ChunkNo}
}

func NewGetChunk(id model.ChunkID) *Message {
	return &Message{Type: GetChunk, Version: Version, FileID: id.FileID, ChunkNo: id.ChunkNo}
}

func NewChunk(id model.ChunkID, data []byte) *Message {
	return &Message{Type: Chunk, Version: Version, FileID: id.FileID, ChunkNo: id.ChunkNo, Body: data}
}

func NewDelete(fileID string) *Message {
	return &Message{Type: Delete, Version: Version, FileID: fileID}
}

func NewRemoved(id model.ChunkID) *Message {
	return &Message{Type: Removed, Version: Version, FileID: id.FileID, ChunkNo: id.ChunkNo}
}
