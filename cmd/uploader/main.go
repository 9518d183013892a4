package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/gophscribe/internal/client/config"
	"github.com/dmitrijs2005/gophscribe/internal/client/uploader"
	"github.com/dmitrijs2005/gophscribe/internal/flagx"
	"github.com/dmitrijs2005/gophscribe/internal/logging"
)

type uploadFlags struct {
	file     string
	id       string
	title    string
	locale   string
	buffered bool
	from     int
	verbose  bool
}

func parseUploadFlags(args []string) (uploadFlags, error) {
	var f uploadFlags
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&f.file, "f", "", "media file to upload")
	fs.StringVar(&f.id, "id", "", "upload id, generated when empty")
	fs.StringVar(&f.title, "title", "", "record title")
	fs.StringVar(&f.locale, "locale", "en-US", "spoken language")
	fs.BoolVar(&f.buffered, "mp4", false, "send the whole file to the transcoding route")
	fs.IntVar(&f.from, "from", 0, "resume a staged upload at this chunk index (needs -id)")
	fs.BoolVar(&f.verbose, "v", false, "debug logging")

	if err := fs.Parse(flagx.FilterArgs(args, []string{"-f", "-id", "-title", "-locale", "-mp4", "-from", "-v"})); err != nil {
		return f, err
	}
	if f.file == "" {
		return f, fmt.Errorf("-f is required")
	}
	return f, nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	uf, err := parseUploadFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}

	level := slog.LevelInfo
	if uf.verbose {
		level = slog.LevelDebug
	}
	logger := logging.New(os.Stderr, "text", level)

	token, userID, err := uploader.Credentials(cfg.Token, cfg.SecretKey, cfg.UserID, cfg.TokenTTL.D())
	if err != nil {
		log.Fatalf("%v", err)
	}

	u, err := uploader.New(uploader.Options{
		ServerURL: cfg.ServerURL,
		Token:     token,
		ChunkSize: int64(cfg.ChunkSize),
		RetryMax:  cfg.RetryMax,
		Timeout:   cfg.Timeout.D(),
		Progress:  uploader.ProgressWriter(os.Stderr),
	}, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id, err := u.Upload(ctx, uploader.Upload{
		Path:      uf.file,
		UploadID:  uf.id,
		UserID:    userID,
		Title:     uf.title,
		Locale:    uf.locale,
		Buffered:  uf.buffered,
		FromChunk: uf.from,
	})
	if err != nil {
		stop()
		log.Fatalf("upload failed: %v", err)
	}
	fmt.Println(id)
}
