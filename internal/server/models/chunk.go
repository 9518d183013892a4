package models

import "time"

// UploadChunk is one received piece of an upload group. Chunks are never
// mutated after they are enqueued.
type UploadChunk struct {
	UploadID string
	UserID   string

	FileSeq  int
	ChunkSeq int

	BlobPath  string
	FileName  string
	Title     string
	MediaType string
	Locale    string

	IsLast bool

	// BlockID is set when the chunk was staged at receipt; Payload is then nil.
	BlockID string
	// BlockList is the client-declared ordered block list carried by the chunk.
	BlockList []string

	// Payload holds the bytes of a buffered chunk.
	Payload []byte

	EnqueuedAt time.Time
}

// Staged reports whether the chunk's bytes already live in the block store.
func (c *UploadChunk) Staged() bool { return c.BlockID != "" }
