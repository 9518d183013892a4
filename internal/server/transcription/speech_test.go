package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/dmitrijs2005/gophscribe/internal/common"
	"github.com/dmitrijs2005/gophscribe/internal/logging"
	"github.com/dmitrijs2005/gophscribe/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) (*SpeechClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewSpeechClient(SpeechConfig{Key: "secret", BaseURL: srv.URL + "/speechtotext/v3.1", RetryMax: 2}, logging.Nop())
	require.NoError(t, err)
	c.http.RetryWaitMin, c.http.RetryWaitMax = 0, 0
	return c, srv
}

func TestSubmit_SendsContractAndParsesJobID(t *testing.T) {
	var got createRequest
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/speechtotext/v3.1/transcriptions", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get(subscriptionKeyHeader))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"self":"https://westus.api/speechtotext/v3.1/transcriptions/9f2c-11","status":"NotStarted"}`)
	}))

	id, err := c.Submit(context.Background(), "meeting.mp3", "ja-JP", "https://blob/input/u1/meeting.mp3?sig")
	require.NoError(t, err)
	assert.Equal(t, "9f2c-11", id)

	assert.Equal(t, "meeting.mp3", got.DisplayName)
	assert.Equal(t, "ja-JP", got.Locale)
	assert.Equal(t, []string{"https://blob/input/u1/meeting.mp3?sig"}, got.ContentURLs)
	assert.True(t, got.Properties.DiarizationEnabled)
	assert.Equal(t, "Automatic", got.Properties.PunctuationMode)
	assert.Equal(t, 1, got.Properties.Diarization.Speakers.MinCount)
	assert.Equal(t, 10, got.Properties.Diarization.Speakers.MaxCount)
}

func TestSubmit_IsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.Submit(context.Background(), "a.mp3", "en-US", "https://blob/a")
	assert.ErrorIs(t, err, common.ErrExternalJob)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPoll_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"status":"Running"}`)
	}))

	st, err := c.Poll(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPoll_FailedCarriesErrorMessage(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/speechtotext/v3.1/transcriptions/job-2", r.URL.Path)
		fmt.Fprint(w, `{"status":"Failed","properties":{"error":{"code":"InvalidData","message":"x"}}}`)
	}))

	st, err := c.Poll(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, JobStatus{State: StateFailed, Error: "x"}, st)
}

func TestPoll_NotFound(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler())

	_, err := c.Poll(context.Background(), "gone")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestResultLinkAndDownload(t *testing.T) {
	var resultURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/speechtotext/v3.1/transcriptions/job-3/files", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"values":[{"kind":"TranscriptionReport","links":{"contentUrl":"x"}},{"kind":"Transcription","links":{"contentUrl":%q}}]}`, resultURL)
	})
	mux.HandleFunc("/results/job-3.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(subscriptionKeyHeader))
		fmt.Fprint(w, `{"combinedRecognizedPhrases":[{"display":"Hello world."},{"display":"ignored"}]}`)
	})
	c, srv := newTestClient(t, mux)
	resultURL = srv.URL + "/results/job-3.json"

	link, err := c.ResultLink(context.Background(), "job-3")
	require.NoError(t, err)
	assert.Equal(t, resultURL, link)

	text, err := c.DownloadResult(context.Background(), link)
	require.NoError(t, err)
	assert.Equal(t, "Hello world.", text)
}

func TestResultLink_NoTranscriptionFile(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"values":[]}`)
	}))

	_, err := c.ResultLink(context.Background(), "job-4")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDelete_AcceptsNoContent(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	require.NoError(t, c.Delete(context.Background(), "job-5"))
}

func TestDelete_UnexpectedStatus(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "job is running")
	}))
	err := c.Delete(context.Background(), "job-6")
	assert.ErrorIs(t, err, common.ErrExternalJob)
	assert.ErrorContains(t, err, "job is running")
}

func TestNewSpeechClient_Validation(t *testing.T) {
	_, err := NewSpeechClient(SpeechConfig{Region: "westus"}, logging.Nop())
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = NewSpeechClient(SpeechConfig{Key: "k"}, logging.Nop())
	assert.ErrorIs(t, err, common.ErrValidation)

	c, err := NewSpeechClient(SpeechConfig{Key: "k", Region: "westus"}, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, "https://westus.api.cognitive.microsoft.com/speechtotext/v3.1/transcriptions/j1", c.endpoint("transcriptions", "j1"))
}

func TestMapState(t *testing.T) {
	tests := []struct {
		in   State
		want models.Status
	}{
		{StateNotStarted, models.StatusInProgress},
		{StateRunning, models.StatusInProgress},
		{StateSucceeded, models.StatusDone},
		{StateFailed, models.StatusFailed},
		{State("Paused"), models.StatusFailed},
		{State(""), models.StatusFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapState(tt.in), string(tt.in))
	}
}
