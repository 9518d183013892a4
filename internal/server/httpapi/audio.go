package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/common"
	"github.com/dmitrijs2005/gophscribe/internal/server/auth"
	"github.com/dmitrijs2005/gophscribe/internal/server/models"
	"github.com/gin-gonic/gin"
)

var mediaExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".aac": true, ".flac": true, ".ogg": true,
	".opus": true, ".wma": true, ".webm": true, ".mp4": true, ".mov": true, ".mkv": true,
}

type recordResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	FileName     string    `json:"fileName"`
	Locale       string    `json:"locale"`
	Status       string    `json:"status"`
	JobID        string    `json:"transcriptionId,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toResponse(r *models.AudioRecord) recordResponse {
	return recordResponse{
		ID:           r.ID,
		Title:        r.Title,
		FileName:     r.FileName,
		Locale:       r.Locale,
		Status:       string(r.Status),
		JobID:        r.JobID,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
	}
}

type createRecordRequest struct {
	Title    string `json:"title"`
	FileName string `json:"fileName" binding:"required"`
	Locale   string `json:"locale"`
}

func (h *Handler) uploadStaged(c *gin.Context) {
	ch, data, err := h.readChunk(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	ch.Payload = data
	if err := h.ingress.ReceiveChunk(c.Request.Context(), ch); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) uploadBuffered(c *gin.Context) {
	ch, data, err := h.readChunk(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.ingress.ReceiveBuffered(c.Request.Context(), ch, data); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// readChunk decodes the multipart upload form shared by both upload routes.
func (h *Handler) readChunk(c *gin.Context) (*models.UploadChunk, []byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxRequestBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		return nil, nil, invalid("file: %v", err)
	}
	fileName := path.Base(fh.Filename)
	if !mediaExtensions[strings.ToLower(path.Ext(fileName))] {
		return nil, nil, invalid("unsupported file type %q", fileName)
	}

	seq, err := strconv.Atoi(c.PostForm("fileNumber"))
	if err != nil {
		return nil, nil, invalid("fileNumber: %v", err)
	}
	last, err := parseFlag(c.PostForm("latestflag"))
	if err != nil {
		return nil, nil, invalid("latestflag: %v", err)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, nil, invalid("open file part: %v", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("read file part: %w", err)
	}

	ch := &models.UploadChunk{
		UploadID:  c.PostForm("id"),
		UserID:    auth.UserID(c),
		FileSeq:   seq,
		BlobPath:  c.PostForm("blobPath"),
		FileName:  fileName,
		Title:     c.PostForm("title"),
		MediaType: c.PostForm("fileType"),
		Locale:    c.PostForm("locale"),
		IsLast:    last,
		BlockID:   c.PostForm("blockId"),
		BlockList: splitList(c.PostForm("blockList")),
	}
	return ch, data, nil
}

func (h *Handler) createRecord(c *gin.Context) {
	var req createRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, invalid("%v", err))
		return
	}
	if !mediaExtensions[strings.ToLower(path.Ext(req.FileName))] {
		h.fail(c, invalid("unsupported file type %q", req.FileName))
		return
	}
	rec, err := h.records.CreateRecord(c.Request.Context(), auth.UserID(c), req.Title, req.FileName, req.Locale)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": rec.ID})
}

func (h *Handler) list(c *gin.Context) {
	recs, err := h.records.List(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]recordResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, toResponse(r))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) transcript(c *gin.Context) {
	text, err := h.records.Transcript(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.records.Delete(c.Request.Context(), auth.UserID(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// fail answers with an empty body: 400 for rejected input, 404 for unknown
// records, 500 for everything else.
func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)

	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, common.ErrValidation), errors.As(err, &tooLarge):
		c.Status(http.StatusBadRequest)
	case errors.Is(err, common.ErrorNotFound):
		c.Status(http.StatusNotFound)
	default:
		c.Status(http.StatusInternalServerError)
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrValidation, fmt.Sprintf(format, args...))
}

func parseFlag(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n != 0, nil
	}
	return strconv.ParseBool(s)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
