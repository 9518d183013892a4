// Package server wires the upload pipeline together: repositories, blob
// storage, the transcription client, the processing gate, the coordinator,
// the reconciler and the HTTP and gRPC health endpoints. It handles graceful
// shutdown on SIGINT/SIGTERM.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/logging"
	"github.com/dmitrijs2005/gophscribe/internal/server/blobstore"
	"github.com/dmitrijs2005/gophscribe/internal/server/config"
	"github.com/dmitrijs2005/gophscribe/internal/server/coordinator"
	"github.com/dmitrijs2005/gophscribe/internal/server/httpapi"
	"github.com/dmitrijs2005/gophscribe/internal/server/lease"
	"github.com/dmitrijs2005/gophscribe/internal/server/queue"
	"github.com/dmitrijs2005/gophscribe/internal/server/reconciler"
	"github.com/dmitrijs2005/gophscribe/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophscribe/internal/server/services"
	"github.com/dmitrijs2005/gophscribe/internal/server/transcode"
	"github.com/dmitrijs2005/gophscribe/internal/server/transcription"
	"github.com/gin-gonic/gin"

	gs "github.com/dmitrijs2005/gophscribe/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config      *config.Config
	logger      logging.Logger
	repos       repomanager.RepositoryManager
	coordinator *coordinator.Coordinator
	reconciler  *reconciler.Reconciler
	health      *gs.HealthServer
	http        *http.Server
	closers     []func() error
}

// NewApp builds every component from c. Anything misconfigured fails here,
// before the first request is accepted.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stdout, c.LogFormat, level)
	app := &App{config: c, logger: logger}

	if err := app.initRepositories(ctx); err != nil {
		return nil, err
	}

	blobs, err := app.newBlobStore(ctx)
	if err != nil {
		return nil, app.fail(err)
	}

	jobs, err := transcription.NewSpeechClient(transcription.SpeechConfig{
		Region:     c.Speech.Region,
		Key:        c.Speech.Key,
		BaseURL:    c.Speech.BaseURL,
		RetryMax:   c.Speech.RetryMax,
		Timeout:    c.Speech.Timeout.D(),
		MinSpeaker: c.Speech.MinSpeakers,
		MaxSpeaker: c.Speech.MaxSpeakers,
	}, logger)
	if err != nil {
		return nil, app.fail(fmt.Errorf("speech client: %w", err))
	}

	gate, err := app.newGate(ctx)
	if err != nil {
		return nil, app.fail(err)
	}

	var transcoder transcode.Transcoder = transcode.Passthrough{}
	if c.FFmpeg.Binary != "" {
		ff, err := transcode.NewFFmpeg(c.FFmpeg.Binary, c.FFmpeg.ScratchDir, logger)
		if err != nil {
			return nil, app.fail(fmt.Errorf("ffmpeg: %w", err))
		}
		transcoder = ff
	}

	cc := c.Coordinator
	app.coordinator = coordinator.New(coordinator.Deps{
		Queue:      queue.New(),
		Blobs:      blobs,
		Jobs:       jobs,
		Repos:      app.repos,
		Gate:       gate,
		Transcoder: transcoder,
		Logger:     logger,
	}, coordinator.Config{
		Interval:     cc.Interval.D(),
		CallTimeout:  cc.CallTimeout.D(),
		GapTimeout:   cc.GapTimeout.D(),
		StaleAfter:   cc.StaleAfter.D(),
		SubChunkSize: int64(cc.SubChunkSize),
		BlockSize:    int64(cc.BlockSize),
	})

	app.reconciler = reconciler.New(app.repos.Records(), jobs, logger, c.ReconcileInterval.D(), cc.CallTimeout.D())
	svc := services.NewAudioService(app.repos, blobs, jobs, app.reconciler, logger, cc.CallTimeout.D())

	gin.SetMode(gin.ReleaseMode)
	handler := httpapi.NewHandler(app.coordinator, svc, logger, httpapi.Options{
		SecretKey:       []byte(c.SecretKey),
		MaxRequestBytes: int64(c.MaxRequestSize),
	})
	app.http = &http.Server{
		Addr:              c.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if c.GRPCAddr != "" {
		app.health = gs.NewHealthServer(c.GRPCAddr, logger)
	}
	return app, nil
}

func (app *App) initRepositories(ctx context.Context) error {
	if strings.EqualFold(app.config.DatabaseDSN, "memory") {
		app.logger.Warn(ctx, "using in-memory repositories, records are lost on restart")
		app.repos = repomanager.NewInMemoryRepositoryManager()
		return nil
	}

	pm, err := repomanager.NewPostgresRepositoryManager(app.config.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}
	app.repos = pm
	app.closers = append(app.closers, pm.Close)

	if err := pm.RunMigrations(ctx); err != nil {
		return app.fail(fmt.Errorf("migrations: %w", err))
	}
	return nil
}

func (app *App) newBlobStore(ctx context.Context) (blobstore.Store, error) {
	sc := app.config.Storage
	if !strings.EqualFold(sc.Backend, "s3") {
		return blobstore.NewMemoryStore(int64(sc.MaxBlockSize), ""), nil
	}
	store, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
		Region:       sc.Region,
		Endpoint:     sc.Endpoint,
		AccessKey:    sc.AccessKey,
		SecretKey:    sc.SecretKey,
		Bucket:       sc.Bucket,
		UsePathStyle: sc.UsePathStyle,
		MaxBlockSize: int64(sc.MaxBlockSize),
		URLTTL:       sc.URLTTL.D(),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 init error: %w", err)
	}
	return store, nil
}

func (app *App) newGate(ctx context.Context) (lease.Gate, error) {
	gc := app.config.Gate
	switch strings.ToLower(gc.Type) {
	case "keyed":
		return lease.NewKeyed(gc.TTL.D()), nil
	case "redis":
		client, err := lease.NewRedisClient(ctx, gc.RedisAddr, gc.RedisUsername, gc.RedisPassword, gc.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("redis init error: %w", err)
		}
		app.closers = append(app.closers, client.Close)
		return lease.NewRedis(client, gc.Prefix, gc.TTL.D(), app.logger), nil
	default:
		return lease.NewGlobal(), nil
	}
}

// fail releases what was opened so far and returns err.
func (app *App) fail(err error) error {
	app.close()
	return err
}

func (app *App) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Warn(context.Background(), "close failed", "error", err)
		}
	}
	app.closers = nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	app.logger.Info(ctx, "Starting HTTP server", "address", app.http.Addr)
	if err := app.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "http server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.health.Run(ctx); err != nil {
		app.logger.Error(ctx, "grpc server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) shutdown(ctx context.Context) {
	<-ctx.Done()
	app.logger.Info(ctx, "Shutting down...")
	if app.health != nil {
		app.health.SetServing(false)
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := app.http.Shutdown(sctx); err != nil {
		app.logger.Warn(ctx, "http shutdown incomplete", "error", err)
	}
}

// Run restores pending uploads from the journal and serves until ctx is
// cancelled or a signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	if n, err := app.coordinator.Restore(ctx); err != nil {
		app.logger.Error(ctx, "restore from journal failed", "error", err)
	} else if n > 0 {
		app.logger.Info(ctx, "restored journaled chunks", "count", n)
	}

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() {
		if err := app.coordinator.Run(ctx); err != nil {
			app.logger.Error(ctx, "coordinator stopped", "error", err)
		}
	})
	run(func() {
		if err := app.reconciler.Run(ctx); err != nil {
			app.logger.Error(ctx, "reconciler stopped", "error", err)
		}
	})
	run(func() { app.startHTTPServer(ctx, cancelFunc) })
	if app.health != nil {
		run(func() { app.startGRPCServer(ctx, cancelFunc) })
	}
	run(func() { app.shutdown(ctx) })

	wg.Wait()
	app.close()
	app.logger.Info(context.Background(), "Stopped")
}
