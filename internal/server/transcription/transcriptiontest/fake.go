// Package transcriptiontest provides an in-memory transcription.Client for
// tests of the packages built on top of it.
package transcriptiontest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/gophscribe/internal/common"
	"github.com/dmitrijs2005/gophscribe/internal/server/transcription"
)

type Submission struct {
	JobID       string
	DisplayName string
	Locale      string
	ContentURL  string
}

// Fake records submissions and serves canned job states. Unknown job ids
// yield common.ErrorNotFound.
type Fake struct {
	mu sync.Mutex

	Submissions []Submission
	States      map[string]transcription.JobStatus
	Links       map[string]string
	Results     map[string]string
	Deleted     []string
	Polls       int

	// Hook errors returned by the next calls when set.
	SubmitErr error
	PollErr   map[string]error
	DeleteErr error

	// Block makes Submit wait for ctx to end.
	Block bool
}

func New() *Fake {
	return &Fake{
		States:  make(map[string]transcription.JobStatus),
		Links:   make(map[string]string),
		Results: make(map[string]string),
		PollErr: make(map[string]error),
	}
}

func (f *Fake) Submit(ctx context.Context, displayName, locale, contentURL string) (string, error) {
	f.mu.Lock()
	block, err := f.Block, f.SubmitErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("job-%d", len(f.Submissions)+1)
	f.Submissions = append(f.Submissions, Submission{id, displayName, locale, contentURL})
	f.States[id] = transcription.JobStatus{State: transcription.StateNotStarted}
	return id, nil
}

func (f *Fake) Poll(ctx context.Context, jobID string) (transcription.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Polls++
	if err := f.PollErr[jobID]; err != nil {
		return transcription.JobStatus{}, err
	}
	st, ok := f.States[jobID]
	if !ok {
		return transcription.JobStatus{}, fmt.Errorf("job %s: %w", jobID, common.ErrorNotFound)
	}
	return st, nil
}

func (f *Fake) ResultLink(ctx context.Context, jobID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.Links[jobID]
	if !ok {
		return "", fmt.Errorf("results of %s: %w", jobID, common.ErrorNotFound)
	}
	return link, nil
}

func (f *Fake) DownloadResult(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.Results[url]
	if !ok {
		return "", fmt.Errorf("result %s: %w", url, common.ErrorNotFound)
	}
	return text, nil
}

func (f *Fake) Delete(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.Deleted = append(f.Deleted, jobID)
	delete(f.States, jobID)
	return nil
}

// SetState replaces the state served for jobID.
func (f *Fake) SetState(jobID string, st transcription.State, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.States[jobID] = transcription.JobStatus{State: st, Error: msg}
}

func (f *Fake) SubmitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Submissions)
}

var _ transcription.Client = (*Fake)(nil)
