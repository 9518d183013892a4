package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/logging"
	"github.com/dmitrijs2005/gophscribe/internal/server/auth"
	"github.com/dmitrijs2005/gophscribe/internal/server/blobstore"
	"github.com/dmitrijs2005/gophscribe/internal/server/coordinator"
	"github.com/dmitrijs2005/gophscribe/internal/server/models"
	"github.com/dmitrijs2005/gophscribe/internal/server/queue"
	"github.com/dmitrijs2005/gophscribe/internal/server/reconciler"
	"github.com/dmitrijs2005/gophscribe/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophscribe/internal/server/services"
	"github.com/dmitrijs2005/gophscribe/internal/server/transcription"
	"github.com/dmitrijs2005/gophscribe/internal/server/transcription/transcriptiontest"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

type testServer struct {
	router http.Handler
	coord  *coordinator.Coordinator
	q      *queue.UploadQueue
	repos  *repomanager.InMemoryRepositoryManager
	blobs  *blobstore.MemoryStore
	jobs   *transcriptiontest.Fake
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &testServer{
		q:     queue.New(),
		repos: repomanager.NewInMemoryRepositoryManager(),
		blobs: blobstore.NewMemoryStore(0, ""),
		jobs:  transcriptiontest.New(),
	}
	s.coord = coordinator.New(coordinator.Deps{
		Queue: s.q, Blobs: s.blobs, Jobs: s.jobs, Repos: s.repos,
	}, coordinator.Config{})
	sweeper := reconciler.New(s.repos.Records(), s.jobs, logging.Nop(), time.Hour, time.Second)
	svc := services.NewAudioService(s.repos, s.blobs, s.jobs, sweeper, logging.Nop(), time.Second)

	if opts.SecretKey == nil {
		opts.SecretKey = secret
	}
	s.router = NewHandler(s.coord, svc, logging.Nop(), opts).Router()
	return s
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.GenerateToken(userID, secret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

type form struct {
	fields   map[string]string
	fileName string
	data     []byte
}

func (f form) request(t *testing.T, target, authz string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range f.fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if f.fileName != "" {
		part, err := w.CreateFormFile("file", f.fileName)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	return req
}

func stagedForm(userID, id string, n int, last bool, list []string, data string) form {
	flag := "0"
	if last {
		flag = "1"
	}
	return form{
		fields: map[string]string{
			"id":         id,
			"fileNumber": strconv.Itoa(n),
			"blobPath":   "input/" + userID + "/talk.mp3",
			"fileType":   "audio/mpeg",
			"locale":     "en-US",
			"latestflag": flag,
			"blockId":    blobstore.BlockID(n),
			"blockList":  strings.Join(list, ","),
		},
		fileName: "talk.mp3",
		data:     []byte(data),
	}
}

func do(s *testServer, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealthzNeedsNoToken(t *testing.T) {
	s := newTestServer(t, Options{})
	w := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	s := newTestServer(t, Options{})
	w := do(s, httptest.NewRequest(http.MethodGet, "/api/audio", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStagedUploadEndToEnd(t *testing.T) {
	s := newTestServer(t, Options{})
	authz := bearer(t, "u1")
	b0, b1 := blobstore.BlockID(0), blobstore.BlockID(1)

	w := do(s, stagedForm("u1", "up1", 0, false, []string{b0}, "hello ").request(t, "/api/audio/upload", authz))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())

	w = do(s, stagedForm("u1", "up1", 1, true, []string{b0, b1}, "world").request(t, "/api/audio/upload", authz))
	require.Equal(t, http.StatusOK, w.Code)

	out, err := s.coord.TryProcess(context.Background(), "up1")
	require.NoError(t, err)
	require.Equal(t, coordinator.Committed, out)

	got, err := s.blobs.Download(context.Background(), "input/u1/talk.mp3")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	// listing reconciles the finished job
	s.jobs.SetState("job-1", transcription.StateSucceeded, "")
	req := httptest.NewRequest(http.MethodGet, "/api/audio", nil)
	req.Header.Set("Authorization", authz)
	w = do(s, req)
	require.Equal(t, http.StatusOK, w.Code)

	var list []recordResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "up1", list[0].ID)
	assert.Equal(t, "done", list[0].Status)
	assert.Equal(t, "job-1", list[0].JobID)

	s.jobs.Links["job-1"] = "https://r/1"
	s.jobs.Results["https://r/1"] = "hello world"
	req = httptest.NewRequest(http.MethodGet, "/api/audio/up1/transcript", nil)
	req.Header.Set("Authorization", authz)
	w = do(s, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello world", w.Body.String())
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))

	req = httptest.NewRequest(http.MethodDelete, "/api/audio/up1", nil)
	req.Header.Set("Authorization", authz)
	w = do(s, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, s.blobs.Exists("input/u1/talk.mp3"))
}

func TestUploadRejectsForeignBlobPath(t *testing.T) {
	s := newTestServer(t, Options{})
	f := stagedForm("u2", "up1", 0, true, nil, "x")

	w := do(s, f.request(t, "/api/audio/upload", bearer(t, "u1")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, 0, s.q.Len())
}

func TestUploadValidation(t *testing.T) {
	s := newTestServer(t, Options{})
	authz := bearer(t, "u1")

	cases := map[string]func(f *form){
		"no file":          func(f *form) { f.fileName = "" },
		"bad extension":    func(f *form) { f.fileName = "notes.exe" },
		"bad file number":  func(f *form) { f.fields["fileNumber"] = "x" },
		"bad latest flag":  func(f *form) { f.fields["latestflag"] = "maybe" },
		"missing block id": func(f *form) { f.fields["blockId"] = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := stagedForm("u1", "up1", 0, true, nil, "x")
			mutate(&f)
			w := do(s, f.request(t, "/api/audio/upload", authz))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	s := newTestServer(t, Options{MaxRequestBytes: 1024})
	f := stagedForm("u1", "up1", 0, true, nil, strings.Repeat("x", 4096))

	w := do(s, f.request(t, "/api/audio/upload", bearer(t, "u1")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBufferedUpload(t *testing.T) {
	s := newTestServer(t, Options{})
	f := form{
		fields: map[string]string{
			"id": "up9", "fileNumber": "0", "blobPath": "input/u1/clip.mp4",
			"fileType": "video/mp4", "locale": "ja-JP", "latestflag": "1",
		},
		fileName: "clip.mp4",
		data:     []byte("movie"),
	}

	w := do(s, f.request(t, "/api/audio/upload/mp4", bearer(t, "u1")))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, s.q.IsComplete("up9"))

	out, err := s.coord.TryProcess(context.Background(), "up9")
	require.NoError(t, err)
	assert.Equal(t, coordinator.Committed, out)
}

func TestCreateRecord(t *testing.T) {
	s := newTestServer(t, Options{})
	authz := bearer(t, "u1")

	req := httptest.NewRequest(http.MethodPost, "/api/audio/records",
		strings.NewReader(`{"title":"Standup","fileName":"standup.m4a","locale":"en-GB"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authz)
	w := do(s, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	rec, err := s.repos.Records().Get(context.Background(), body.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, "u1", rec.UserID)

	req = httptest.NewRequest(http.MethodPost, "/api/audio/records", strings.NewReader(`{"fileName":"x.txt"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authz)
	assert.Equal(t, http.StatusBadRequest, do(s, req).Code)
}

func TestTranscriptAndDeleteErrors(t *testing.T) {
	s := newTestServer(t, Options{})
	authz := bearer(t, "u1")
	require.NoError(t, s.repos.Records().Create(context.Background(), &models.AudioRecord{ID: "r1", UserID: "u1", FileName: "a.mp3"}))

	req := httptest.NewRequest(http.MethodGet, "/api/audio/r1/transcript", nil)
	req.Header.Set("Authorization", authz)
	assert.Equal(t, http.StatusBadRequest, do(s, req).Code, "pending record has no transcript")

	req = httptest.NewRequest(http.MethodDelete, "/api/audio/nope", nil)
	req.Header.Set("Authorization", authz)
	assert.Equal(t, http.StatusNotFound, do(s, req).Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/audio/r1", nil)
	req.Header.Set("Authorization", bearer(t, "u2"))
	assert.Equal(t, http.StatusNotFound, do(s, req).Code, "records of other users are invisible")
}

func TestParseFlagAndSplitList(t *testing.T) {
	for in, want := range map[string]bool{"": false, "0": false, "1": true, "true": true, "false": false} {
		got, err := parseFlag(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	assert.Equal(t, []string{"a", "b"}, splitList("a, ,b,"))
	assert.Nil(t, splitList(""))
}
