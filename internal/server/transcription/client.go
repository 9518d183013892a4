// Package transcription talks to the external asynchronous speech-to-text
// service: submit a job, poll it, fetch and download its result, delete it.
package transcription

import (
	"context"

	"github.com/dmitrijs2005/gophscribe/internal/server/models"
)

// State is the job state reported by the service.
type State string

const (
	StateNotStarted State = "NotStarted"
	StateRunning    State = "Running"
	StateSucceeded  State = "Succeeded"
	StateFailed     State = "Failed"
)

// JobStatus is the result of one poll.
type JobStatus struct {
	State State
	Error string
}

// Client is the transcription service boundary.
type Client interface {
	Submit(ctx context.Context, displayName, locale, contentURL string) (string, error)
	Poll(ctx context.Context, jobID string) (JobStatus, error)
	ResultLink(ctx context.Context, jobID string) (string, error)
	DownloadResult(ctx context.Context, url string) (string, error)
	Delete(ctx context.Context, jobID string) error
}

// MapState converts a service state into a record status. Unknown states are
// treated as failures.
func MapState(s State) models.Status {
	switch s {
	case StateNotStarted, StateRunning:
		return models.StatusInProgress
	case StateSucceeded:
		return models.StatusDone
	default:
		return models.StatusFailed
	}
}
