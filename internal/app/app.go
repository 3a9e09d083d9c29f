// Package app wires configuration into a running tutor: storage, oracle,
// prompt catalog, orchestrator and transcript logger.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Jean-snt/ZAITH-CHIPI/internal/config"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/oracle"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/store"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/transcript"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/tutor"
)

// App holds the long-lived dependencies shared by the server and the CLI.
type App struct {
	Config     *config.Config
	Repo       store.Repository
	Oracle     *oracle.Client
	Service    *tutor.Service
	Transcript transcript.Logger

	closers []func() error
}

// Build constructs every dependency named by cfg. On error, anything already
// opened is closed.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a = &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	a.Repo, err = OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Repo.Close)

	if err := a.Repo.Ping(ctx); err != nil {
		return nil, fmt.Errorf("storage health check: %w", err)
	}

	catalog, err := tutor.LoadCatalog(cfg.PromptsPath)
	if err != nil {
		return nil, err
	}

	backend, closeBackend, err := OpenBackend(ctx, cfg.Oracle, logger)
	if err != nil {
		return nil, err
	}
	if closeBackend != nil {
		a.closers = append(a.closers, closeBackend)
	}

	a.Oracle = oracle.New(backend, oracle.Options{
		Timeout:      cfg.Oracle.Timeout,
		MaxRetries:   cfg.Oracle.MaxRetries,
		Instructions: catalog.Extraction(),
		Logger:       logger,
	})

	flow, err := tutor.ParseFlow(cfg.ExerciseFlow)
	if err != nil {
		return nil, err
	}

	a.Transcript, err = transcript.New(transcript.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("conversation logger: %w", err)
	}
	a.closers = append(a.closers, a.Transcript.Close)

	orch := tutor.NewOrchestrator(a.Oracle, catalog, flow, logger)
	a.Service = tutor.NewService(a.Repo, orch, a.Transcript, logger)

	logger.Info("Tutor ready",
		"storage", cfg.StorageBackend,
		"oracle", cfg.Oracle.Provider,
		"exercise_flow", string(flow),
	)
	return a, nil
}

// Close releases dependencies in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenStore opens the repository selected by cfg.StorageBackend.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		return store.NewMemory(), nil
	case config.StorageFirestore:
		repo, err := store.NewFirestore(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, fmt.Errorf("open firestore: %w", err)
		}
		return repo, nil
	case config.StorageSQLite:
		repo, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// OpenBackend builds the oracle backend selected by cfg.Provider. The
// returned close func may be nil.
func OpenBackend(ctx context.Context, cfg config.OracleConfig, logger *slog.Logger) (oracle.Backend, func() error, error) {
	switch cfg.Provider {
	case config.OracleMock:
		return oracle.NewMockBackend(), nil, nil
	case config.OracleGemini:
		b, err := oracle.NewGeminiBackend(ctx, oracle.GeminiConfig{
			APIKey:   cfg.GeminiAPIKey,
			Project:  cfg.GCPProject,
			Location: cfg.GCPLocation,
			Model:    cfg.GeminiModel,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("gemini oracle: %w", err)
		}
		return b, nil, nil
	case config.OracleAzure:
		b, err := oracle.NewAzureBackend(cfg.AzureEndpoint, cfg.AzureKey, cfg.AzureDeployment)
		if err != nil {
			return nil, nil, fmt.Errorf("azure oracle: %w", err)
		}
		return b, nil, nil
	case config.OracleGRPC:
		gcfg := oracle.DefaultGRPCConfig(cfg.GRPCAddr)
		if cfg.GRPCConnectLimit > 0 {
			gcfg.ConnectTimeout = cfg.GRPCConnectLimit
		}
		b, err := oracle.NewGRPCBackend(gcfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("grpc oracle: %w", err)
		}
		return b, func() error { b.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
}
