package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/dmitrijs2005/gophscribe/internal/filex"
	"github.com/dmitrijs2005/gophscribe/internal/logging"
)

const (
	OutputMediaType   = "audio/wav"
	DefaultSampleRate = 16000
)

// execCommandContext is a seam for tests.
var execCommandContext = exec.CommandContext

// FFmpeg converts video containers to 16 kHz mono WAV with the ffmpeg binary.
// Audio types that need no conversion are returned unchanged.
type FFmpeg struct {
	binary     string
	scratchDir string
	sampleRate int
	logger     logging.Logger
}

// NewFFmpeg prepares the scratch directory. An empty binary means "ffmpeg"
// from PATH.
func NewFFmpeg(binary, scratchDir string, logger logging.Logger) (*FFmpeg, error) {
	if binary == "" {
		binary = "ffmpeg"
	}
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	dir, err := filex.EnsureDir(scratchDir)
	if err != nil {
		return nil, err
	}
	return &FFmpeg{
		binary:     binary,
		scratchDir: dir,
		sampleRate: DefaultSampleRate,
		logger:     logger,
	}, nil
}

func (f *FFmpeg) Transcode(ctx context.Context, data []byte, mediaType string) ([]byte, string, error) {
	if !NeedsTranscode(mediaType) {
		return data, mediaType, nil
	}

	in, err := filex.WriteTemp(f.scratchDir, "in-*", data)
	if err != nil {
		return nil, "", err
	}
	defer os.Remove(in)

	out, err := filex.TempPath(f.scratchDir, "out-*.wav")
	if err != nil {
		return nil, "", err
	}
	defer os.Remove(out)

	var stderr bytes.Buffer
	cmd := execCommandContext(ctx, f.binary,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", in,
		"-vn", "-ac", "1", "-ar", strconv.Itoa(f.sampleRate),
		"-f", "wav", out)
	cmd.Stderr = &stderr

	f.logger.Debug(ctx, "ffmpeg start", "input", in, "bytes", len(data), "media_type", mediaType)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, "", fmt.Errorf("ffmpeg: %w", ctx.Err())
		}
		return nil, "", fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	wav, err := os.ReadFile(out)
	if err != nil {
		return nil, "", fmt.Errorf("read ffmpeg output: %w", err)
	}
	if len(wav) == 0 {
		return nil, "", fmt.Errorf("ffmpeg produced no output")
	}
	return wav, OutputMediaType, nil
}
