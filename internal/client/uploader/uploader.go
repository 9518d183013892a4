// Package uploader sends a local media file to the gophscribe server, either
// as a sequence of staged chunks or as one buffered request.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/chunking"
	"github.com/dmitrijs2005/gophscribe/internal/logging"
	"github.com/dmitrijs2005/gophscribe/internal/server/blobstore"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	stagedRoute   = "api/audio/upload"
	bufferedRoute = "api/audio/upload/mp4"
)

type Options struct {
	ServerURL string
	Token     string
	ChunkSize int64
	RetryMax  int
	Timeout   time.Duration
	// Progress receives a one-line progress report per chunk when set.
	Progress io.Writer
}

// Upload describes one file to send.
type Upload struct {
	Path     string
	UploadID string // generated when empty
	UserID   string
	Title    string
	Locale   string
	// MediaType is derived from the file extension when empty.
	MediaType string
	// Buffered sends the whole file in one request to the transcoding route.
	Buffered bool
	// FromChunk resumes an interrupted staged upload: chunks before it were
	// already accepted under UploadID and are not sent again.
	FromChunk int
}

type Uploader struct {
	client    *retryablehttp.Client
	base      *url.URL
	token     string
	chunkSize int64
	progress  io.Writer
	logger    logging.Logger
}

func New(o Options, logger logging.Logger) (*Uploader, error) {
	base, err := url.Parse(o.ServerURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", o.ServerURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if o.ChunkSize <= 0 {
		return nil, chunking.ErrInvalidChunkSize
	}

	logger = logger.With("module", "uploader")
	c := retryablehttp.NewClient()
	c.RetryMax = o.RetryMax
	c.Logger = leveledLogger{logger}
	if o.Timeout > 0 {
		c.HTTPClient.Timeout = o.Timeout
	}

	return &Uploader{
		client:    c,
		base:      base,
		token:     o.Token,
		chunkSize: o.ChunkSize,
		progress:  o.Progress,
		logger:    logger,
	}, nil
}

// Upload sends up and returns the upload id the server tracks it under.
func (u *Uploader) Upload(ctx context.Context, up Upload) (string, error) {
	f, err := os.Open(up.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", err
	}
	if st.Size() == 0 {
		return "", fmt.Errorf("%s is empty", up.Path)
	}

	fileName := filepath.Base(up.Path)
	blobPath, err := blobstore.BlobPath(up.UserID, fileName)
	if err != nil {
		return "", err
	}
	if up.FromChunk != 0 && (up.Buffered || up.UploadID == "") {
		return "", fmt.Errorf("resuming needs the upload id of a staged upload")
	}
	if up.UploadID == "" {
		up.UploadID = uuid.NewString()
	}
	if up.MediaType == "" {
		up.MediaType = mediaType(fileName)
	}

	log := u.logger.With("upload_id", up.UploadID, "file", fileName)
	fields := map[string]string{
		"id":       up.UploadID,
		"blobPath": blobPath,
		"title":    up.Title,
		"fileType": up.MediaType,
		"locale":   up.Locale,
	}

	if up.Buffered {
		data, err := io.ReadAll(f)
		if err != nil {
			return "", err
		}
		fields["fileNumber"] = fileNumber(0)
		fields["latestflag"] = "1"
		if err := u.post(ctx, bufferedRoute, fields, fileName, data); err != nil {
			return "", err
		}
		u.report(fileName, 1, 1)
		log.Info(ctx, "buffered upload sent", "bytes", len(data))
		return up.UploadID, nil
	}

	n, err := chunking.Count(st.Size(), u.chunkSize)
	if err != nil {
		return "", err
	}
	if up.FromChunk < 0 || up.FromChunk >= n {
		return "", fmt.Errorf("resume chunk %d out of [0,%d)", up.FromChunk, n)
	}
	blockList := make([]string, 0, n)
	for i := range up.FromChunk {
		blockList = append(blockList, blobstore.BlockID(i))
	}
	for i := up.FromChunk; i < n; i++ {
		r, err := chunking.RangeAt(st.Size(), u.chunkSize, i)
		if err != nil {
			return "", err
		}
		data, err := chunking.ReadRange(f, r)
		if err != nil {
			return "", err
		}
		blockID := blobstore.BlockID(i)
		blockList = append(blockList, blockID)

		fields["fileNumber"] = fileNumber(i)
		fields["blockId"] = blockID
		fields["blockList"] = strings.Join(blockList, ",")
		fields["latestflag"] = "0"
		if i == n-1 {
			fields["latestflag"] = "1"
		}

		if err := u.post(ctx, stagedRoute, fields, fileName, data); err != nil {
			return "", fmt.Errorf("chunk %d: %w", i, err)
		}
		u.report(fileName, i+1, n)
	}
	log.Info(ctx, "upload sent", "chunks", n-up.FromChunk, "bytes", st.Size())
	return up.UploadID, nil
}

func (u *Uploader) post(ctx context.Context, route string, fields map[string]string, fileName string, data []byte) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, u.base.JoinPath(route).String(), body.Bytes())
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server answered %s", resp.Status)
	}
	return nil
}

func (u *Uploader) report(fileName string, done, total int) {
	if u.progress == nil {
		return
	}
	end := ""
	if done == total {
		end = "\n"
	}
	fmt.Fprintf(u.progress, "\r%s: %d/%d chunks (%d%%)%s", fileName, done, total, done*100/total, end)
}

// fileNumber zero-pads chunk ordinals so they sort lexically as well.
func fileNumber(i int) string { return fmt.Sprintf("%05d", i) }

var mediaTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".webm": "audio/webm",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
}

func mediaType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		mt, _, _ := mime.ParseMediaType(t)
		return mt
	}
	return "application/octet-stream"
}

type leveledLogger struct {
	log logging.Logger
}

func (l leveledLogger) Error(msg string, kv ...any) { l.log.Warn(context.Background(), msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.log.Debug(context.Background(), msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.log.Debug(context.Background(), msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.log.Warn(context.Background(), msg, kv...) }
