// main package for the narration-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/getsentry/sentry-go"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/narration-service/internal/audio"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/httpapi"
	"github.com/book-expert/narration-service/internal/objectstore"
	"github.com/book-expert/narration-service/internal/tts"
	"github.com/book-expert/narration-service/internal/tts/ttsutils"
	"github.com/book-expert/narration-service/internal/worker"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	sentryFlushWait   = 2 * time.Second
	tracesSampleRate  = 0.2
)

var errMissingBaseURL = errors.New("tts_engine.base_url is required")

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "narration-service-bootstrap.log")
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.TTSEngine.BaseURL == "" {
		bootstrapLog.Error("No speech engine configured.")

		return errMissingBaseURL
	}

	// 3. Initialize the final logger based on the loaded configuration
	dirErr := ttsutils.EnsureDir(cfg.Paths.BaseLogsDir)
	if dirErr != nil {
		bootstrapLog.Error("Failed to prepare log directory: %v", dirErr)

		return fmt.Errorf("failed to prepare log directory: %w", dirErr)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, "narration-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return runService(cfg, finalLog)
}

func runService(cfg *config.Config, log *logger.Logger) error {
	// Error monitoring is optional; an empty DSN leaves Sentry disabled.
	if cfg.Sentry.DSN != "" {
		sentryErr := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			EnableTracing:    true,
			TracesSampleRate: tracesSampleRate,
			Environment:      environment(),
		})
		if sentryErr != nil {
			log.Warn("Sentry init failed: %v", sentryErr)
		} else {
			defer sentry.Flush(sentryFlushWait)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, client := buildEngine(cfg, log)
	jobTimeout := time.Duration(cfg.Synthesis.JobTimeoutSeconds) * time.Second

	store, natsConnection, err := startWorker(ctx, cfg, engine, jobTimeout, log)
	if err != nil {
		return err
	}

	if natsConnection != nil {
		defer natsConnection.Close()
	}

	server := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           httpapi.NewRouter(engine, client, store, jobTimeout, log),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.System("Narration service listening on %s", cfg.HTTP.ListenAddr)

		serveErr := server.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Error("HTTP server stopped: %v", serveErr)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := server.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		return fmt.Errorf("failed to shut down http server: %w", shutdownErr)
	}

	return nil
}

// buildEngine assembles the narration pipeline from the configuration. The
// returned client doubles as the health prober for the HTTP surface.
func buildEngine(cfg *config.Config, log *logger.Logger) (*tts.Engine, *tts.HTTPClient) {
	client := tts.NewHTTPClient(
		cfg.TTSEngine.BaseURL,
		time.Duration(cfg.TTSEngine.TimeoutSeconds)*time.Second,
		tts.NewEnvCredentialSource(""),
	)

	transcoder := audio.NewFFmpegTranscoder(cfg.Audio.FFmpegPath, cfg.Audio.MP3BitrateKbps, log)

	engine := tts.NewEngine(client, transcoder, tts.EngineOptions{
		Synthesis: tts.Options{
			Mode:             cfg.Synthesis.Mode,
			Concurrency:      cfg.Synthesis.Concurrency,
			InterChunkDelay:  time.Duration(cfg.Synthesis.InterChunkDelayMS) * time.Millisecond,
			MaxAttempts:      cfg.Synthesis.MaxAttempts,
			RetryBackoff:     time.Duration(cfg.Synthesis.RetryBackoffMS) * time.Millisecond,
			RateLimitBackoff: time.Duration(cfg.Synthesis.RateLimitBackoffMS) * time.Millisecond,
		},
		MaxChunkChars:       cfg.Synthesis.MaxChunkChars,
		DefaultVoice:        cfg.TTSEngine.Voice,
		DefaultExaggeration: cfg.TTSEngine.Exaggeration,
	}, log)

	return engine, client
}

// startWorker connects to NATS and launches the request/reply worker. An
// empty NATS URL disables both the worker and artifact persistence.
func startWorker(
	ctx context.Context,
	cfg *config.Config,
	engine *tts.Engine,
	jobTimeout time.Duration,
	log *logger.Logger,
) (core.ObjectStore, *nats.Conn, error) {
	if cfg.NATS.URL == "" {
		log.Info("NATS is not configured; running with the HTTP surface only.")

		return nil, nil, nil
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.ObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, nil, err
	}

	natsWorker, err := worker.NewNatsWorker(
		natsConnection, cfg.NATS.NarrationRequestedSubject, store, engine, jobTimeout, log,
	)
	if err != nil {
		natsConnection.Close()

		return nil, nil, err
	}

	go func() {
		log.System("Worker listening for jobs on subject: %s", cfg.NATS.NarrationRequestedSubject)

		runErr := natsWorker.Run(ctx)
		if runErr != nil {
			log.Error("Worker stopped: %v", runErr)
		}
	}()

	return store, natsConnection, nil
}

func environment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}

	return "development"
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
