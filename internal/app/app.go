// Package app assembles the pipeline and its stores from configuration for
// both binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/davidahmann/antibody/internal/alert"
	"github.com/davidahmann/antibody/internal/classifier"
	"github.com/davidahmann/antibody/internal/config"
	"github.com/davidahmann/antibody/internal/decision"
	"github.com/davidahmann/antibody/internal/events"
	"github.com/davidahmann/antibody/internal/ledger"
	"github.com/davidahmann/antibody/internal/memory"
	"github.com/davidahmann/antibody/internal/pipeline"
	"github.com/davidahmann/antibody/internal/registry"
	"github.com/davidahmann/antibody/internal/storage"
	"github.com/davidahmann/antibody/internal/storage/pgstore"
	"github.com/davidahmann/antibody/internal/storage/sqlstore"
)

// Stores groups the backends a driver provides. File storage keeps ledger
// entries and alerts in process only.
type Stores struct {
	History storage.HistoryStore
	Ledger  storage.LedgerStore
	Alerts  storage.AlertStore
	// Durable reports whether ledger entries and alerts survive a restart.
	Durable bool
}

func (s Stores) Close() error {
	if s.History == nil {
		return nil
	}
	return s.History.Close()
}

func OpenStores(cfg config.StorageConfig) (Stores, error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		mem := storage.NewInMemoryStore()
		return Stores{History: mem, Ledger: mem, Alerts: mem}, nil
	case config.DriverFile:
		fs, err := storage.NewFileStore(cfg.MemoryPath, cfg.ThreatsPath)
		if err != nil {
			return Stores{}, err
		}
		mem := storage.NewInMemoryStore()
		return Stores{History: fs, Ledger: mem, Alerts: mem}, nil
	case config.DriverSQLite:
		st, err := sqlstore.OpenSQLite(cfg.DSN)
		if err != nil {
			return Stores{}, fmt.Errorf("open sqlite: %w", err)
		}
		return Stores{History: st, Ledger: st, Alerts: st, Durable: true}, nil
	case config.DriverPostgres:
		st, err := pgstore.OpenPostgres(cfg.DSN)
		if err != nil {
			return Stores{}, fmt.Errorf("open postgres: %w", err)
		}
		return Stores{History: st, Ledger: st, Alerts: st, Durable: true}, nil
	default:
		return Stores{}, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Stores     Stores
	Classifier *classifier.Classifier
	Memory     *memory.Store
	Registry   *registry.Registry
	Engine     *decision.Engine
	Ledger     *ledger.Logger
	Outbox     *alert.Outbox
	Pipeline   *pipeline.Pipeline
}

// Options adjust assembly for callers that need extra event sinks or a
// forced mode.
type Options struct {
	Events events.Sink
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cls, err := buildClassifier(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	engine, err := decision.NewEngine(decision.Config{Mode: cfg.Mode, Thresholds: cfg.Thresholds})
	if err != nil {
		return nil, err
	}
	signer, err := buildSigner(cfg.Ledger, logger)
	if err != nil {
		return nil, err
	}

	stores, err := OpenStores(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if !stores.Durable {
		logger.Info("ledger entries and alerts are kept in process only", zap.String("driver", cfg.Storage.Driver))
	}

	lg, err := ledger.NewLogger(ledger.Config{
		Network: cfg.Ledger.Network,
		Signer:  signer,
		Store:   stores.Ledger,
		Logger:  logger.Named("ledger"),
	})
	if err != nil {
		return nil, errors.Join(err, stores.Close())
	}

	mem := memory.New(ctx, stores.History, memory.Options{
		Threshold: cfg.Similarity.MemoryThreshold,
		Logger:    logger.Named("memory"),
	})
	reg := registry.New(ctx, stores.History, registry.Options{
		Threshold: cfg.Similarity.RegistryThreshold,
		Detector:  cls,
		Logger:    logger.Named("registry"),
	})

	a := &App{
		Config:     cfg,
		Logger:     logger,
		Stores:     stores,
		Classifier: cls,
		Memory:     mem,
		Registry:   reg,
		Engine:     engine,
		Ledger:     lg,
	}

	pcfg := pipeline.Config{
		AgentID:    cfg.AgentID,
		Classifier: cls,
		Memory:     mem,
		Registry:   reg,
		Engine:     engine,
		Ledger:     lg,
		Events:     events.Multi(events.NewZapSink(logger.Named("pipeline")), opts.Events),
	}
	if cfg.Alerts.Enabled {
		a.Outbox = alert.NewOutbox(stores.Alerts, nil)
		pcfg.Alerts = a.Outbox
	}
	p, err := pipeline.New(pcfg)
	if err != nil {
		return nil, errors.Join(err, stores.Close())
	}
	a.Pipeline = p

	logger.Info("antibody assembled",
		zap.String("agent_id", cfg.AgentID),
		zap.String("mode", string(engine.Mode())),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("rules_hash", cls.RulesHash()),
		zap.String("key_id", signer.KeyID()),
		zap.Int("memories", mem.Len()),
		zap.Int("threats", len(reg.All())),
	)
	return a, nil
}

func (a *App) Close() error {
	return a.Stores.Close()
}

func buildClassifier(path string) (*classifier.Classifier, error) {
	if path == "" {
		return classifier.NewDefault()
	}
	loaded, err := classifier.LoadRules(path)
	if err != nil {
		return nil, err
	}
	return classifier.New(loaded)
}

func buildSigner(cfg config.LedgerConfig, logger *zap.Logger) (*ledger.Ed25519Signer, error) {
	if cfg.PrivateKeyPath != "" {
		return ledger.LoadSigner(cfg.KeyID, cfg.PrivateKeyPath)
	}
	logger.Warn("no ledger key configured; using an ephemeral key", zap.String("key_id", cfg.KeyID))
	return ledger.NewEphemeralSigner(cfg.KeyID)
}
