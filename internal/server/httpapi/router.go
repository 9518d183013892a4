// Package httpapi exposes the upload and record endpoints over gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/logging"
	"github.com/dmitrijs2005/gophscribe/internal/server/auth"
	"github.com/dmitrijs2005/gophscribe/internal/server/models"
	"github.com/gin-gonic/gin"
)

// Ingress receives upload chunks.
type Ingress interface {
	ReceiveChunk(ctx context.Context, ch *models.UploadChunk) error
	ReceiveBuffered(ctx context.Context, meta *models.UploadChunk, data []byte) error
}

// Records serves the record endpoints.
type Records interface {
	CreateRecord(ctx context.Context, userID, title, fileName, locale string) (*models.AudioRecord, error)
	List(ctx context.Context, userID string) ([]*models.AudioRecord, error)
	Transcript(ctx context.Context, userID, id string) (string, error)
	Delete(ctx context.Context, userID, id string) error
}

type Options struct {
	SecretKey []byte
	// MaxRequestBytes caps one upload request body.
	MaxRequestBytes int64
	// MaxMemory is the part of a multipart body kept in memory before
	// spilling to temporary files.
	MaxMemory int64
}

type Handler struct {
	ingress Ingress
	records Records
	logger  logging.Logger
	opts    Options
}

func NewHandler(ingress Ingress, records Records, logger logging.Logger, opts Options) *Handler {
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = 110 << 20
	}
	if opts.MaxMemory <= 0 {
		opts.MaxMemory = 32 << 20
	}
	return &Handler{ingress: ingress, records: records, logger: logger.With("module", "http"), opts: opts}
}

// Router builds the gin engine. Everything but /healthz needs a bearer token.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = h.opts.MaxMemory
	r.Use(gin.Recovery(), requestLogger(h.logger))

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api", auth.Middleware(h.opts.SecretKey))
	api.POST("/audio/upload", h.uploadStaged)
	api.POST("/audio/upload/mp4", h.uploadBuffered)
	api.POST("/audio/records", h.createRecord)
	api.GET("/audio", h.list)
	api.GET("/audio/:id/transcript", h.transcript)
	api.DELETE("/audio/:id", h.delete)

	return r
}

func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		args := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		}
		if len(c.Errors) > 0 {
			args = append(args, "error", c.Errors.String())
		}
		ctx := c.Request.Context()
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error(ctx, "request", args...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn(ctx, "request", args...)
		default:
			logger.Debug(ctx, "request", args...)
		}
	}
}
