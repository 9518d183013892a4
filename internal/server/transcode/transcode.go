// Package transcode converts uploaded media into the audio format submitted
// for transcription.
package transcode

import (
	"context"
	"strings"
)

// Transcoder turns media bytes into audio bytes. It returns the new media
// type alongside the data.
type Transcoder interface {
	Transcode(ctx context.Context, data []byte, mediaType string) ([]byte, string, error)
}

// Passthrough returns its input unchanged.
type Passthrough struct{}

func (Passthrough) Transcode(_ context.Context, data []byte, mediaType string) ([]byte, string, error) {
	return data, mediaType, nil
}

// NeedsTranscode reports whether mediaType is a container that must be
// converted before submission.
func NeedsTranscode(mediaType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return strings.HasPrefix(mt, "video/") || mt == "audio/mp4" || mt == "audio/x-m4a"
}
