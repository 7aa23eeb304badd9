package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fankserver/meetcap/internal/config"
	"github.com/fankserver/meetcap/internal/control"
	"github.com/fankserver/meetcap/internal/session"
	"github.com/fankserver/meetcap/internal/storage"
	"github.com/fankserver/meetcap/internal/transcription"
	"github.com/fankserver/meetcap/internal/vectorization"
)

var configPath string

func init() {
	flag.StringVar(&configPath, "config", "meetcap.yaml", "path to the structured configuration document")
	flag.Parse()
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.WithError(err).Error("Invalid configuration")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	transcriptionProvider, err := buildTranscriptionProvider(cfg)
	if err != nil {
		logrus.WithError(err).Error("Failed to build transcription provider")
		os.Exit(2)
	}
	logrus.WithField("provider", transcriptionProvider.Name()).Info("Transcription provider ready")

	embeddingProvider, err := buildEmbeddingProvider(cfg)
	if err != nil {
		logrus.WithError(err).Error("Failed to build embedding provider")
		os.Exit(2)
	}
	logrus.WithField("provider", embeddingProvider.Name()).Info("Embedding provider ready")

	store, err := storage.Open(storage.Config{
		DSN:            cfg.DatabaseDSN,
		BatchSize:      cfg.DatabaseBatchSize,
		FlushInterval:  2 * time.Second,
		SaveRawAudio:   cfg.SaveRawAudio,
		AudioRetention: time.Duration(cfg.AudioRetentionHours) * time.Hour,
		MigrationsPath: cfg.DatabaseMigrationsPath,
	})
	if err != nil {
		logrus.WithError(err).Error("Failed to open storage backend")
		os.Exit(3)
	}
	logrus.Info("Storage backend ready")

	vectorIndex, err := storage.NewVectorIndex(cfg.OpenSearchAddresses, cfg.OpenSearchUsername, cfg.OpenSearchPassword, cfg.OpenSearchIndex)
	if err != nil {
		logrus.WithError(err).Error("Failed to connect to the vector index")
		os.Exit(3)
	}
	if err := vectorIndex.EnsureIndex(ctx, embeddingProvider.Dimension()); err != nil {
		logrus.WithError(err).Error("Failed to ensure the vector index exists")
		os.Exit(3)
	}
	logrus.Info("Vector index ready")

	manager := session.NewManager()
	deps := session.Deps{
		TranscriptionProvider: transcriptionProvider,
		EmbeddingProvider:     embeddingProvider,
		Store:                 store,
		VectorIndex:           vectorIndex,
	}

	controlServer := control.NewServer(manager, store, vectorIndex, embeddingProvider, cfg, deps)

	logrus.Info("meetcap control server starting. Press CTRL-C to exit.")
	if err := controlServer.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Error("Control server exited with an error")
		os.Exit(3)
	}

	logrus.Info("Shutting down gracefully...")
}

func buildTranscriptionProvider(cfg config.Config) (transcription.Provider, error) {
	registry := transcription.NewRegistry()
	registry.Register(transcription.NewMockProvider())
	registry.Register(transcription.NewHTTPProvider(cfg.TranscriptionEndpoint, cfg.TranscriptionAPIKey, int(cfg.TranscriptionTimeoutSeconds)))
	if cfg.TranscriptionModelPath != "" {
		whisper, err := transcription.NewWhisperProvider(cfg.TranscriptionModelPath)
		if err != nil {
			return nil, err
		}
		registry.Register(whisper)
	}
	return registry.Get(cfg.TranscriptionProvider)
}

func buildEmbeddingProvider(cfg config.Config) (vectorization.Provider, error) {
	registry := vectorization.NewRegistry()
	registry.Register(vectorization.NewMockProvider(cfg.EmbeddingDimension))
	registry.Register(vectorization.NewHTTPProvider(cfg.EmbeddingEndpoint, cfg.EmbeddingAPIKey, cfg.EmbeddingDimension))
	return registry.Get(cfg.EmbeddingProvider)
}
