// Package models defines the server-side data models.
package models

import "time"

// Status is the lifecycle state of an AudioRecord.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further reconciliation is needed.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone, StatusFailed:
		return true
	}
	return false
}

// AudioRecord is the durable per-user metadata for one logical upload.
type AudioRecord struct {
	ID       string
	UserID   string
	UserName string
	FileName string
	Title    string
	Locale   string

	// JobID is the transcription job id, empty until submission succeeds.
	JobID  string
	Status Status

	// DownloadLink caches the transcript result URL once fetched.
	DownloadLink string
	ErrorMessage string

	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time

	// Version is incremented by every update and guards read-modify-write.
	Version int64
}
