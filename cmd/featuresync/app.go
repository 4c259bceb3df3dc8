package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/stwalsh4118/featuresync/internal/config"
	"github.com/stwalsh4118/featuresync/internal/database"
	"github.com/stwalsh4118/featuresync/internal/featureservice"
	"github.com/stwalsh4118/featuresync/internal/logger"
	"github.com/stwalsh4118/featuresync/internal/metrics"
	"github.com/stwalsh4118/featuresync/internal/repository"
	"github.com/stwalsh4118/featuresync/internal/services"
	"github.com/stwalsh4118/featuresync/internal/sink"
	"github.com/stwalsh4118/featuresync/internal/watermark"
)

// app holds the components shared by every command.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
	store   watermark.Store
	service services.LoadService
	db      *database.Database

	logCloser io.Closer
}

// newApp loads configuration and wires the client, watermark store and
// orchestrator. The database is connected lazily by writers.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, closer, err := logger.NewWithOptions(logger.Options{
		Env:   cfg.Server.Env,
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
	})
	if err != nil && log == nil {
		return nil, err
	}

	m := metrics.New()
	queryURL := cfg.Service.QueryURL()

	session := featureservice.NewSession(featureservice.Credentials{
		PortalURL:  cfg.Auth.URL,
		Username:   cfg.Auth.Username,
		Password:   cfg.Auth.Password,
		Expiration: cfg.Auth.Expiration,
	}, &http.Client{Timeout: cfg.Service.Timeout}, log)

	client := featureservice.NewClient(featureservice.Options{
		QueryURL:  queryURL,
		BatchSize: cfg.Service.BatchSize,
		Timeout:   cfg.Service.Timeout,
		Session:   session,
		Logger:    log,
		Metrics:   m,
	})

	store, err := watermark.New(cfg.Watermark, queryURL, log)
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("failed to open watermark store: %w", err)
	}

	service := services.NewLoadService(services.Options{
		Source: client,
		Store:  store,
		Query: featureservice.Query{
			Where:            cfg.Service.Where,
			IncrementalField: cfg.Service.IncrementalField,
			OutFields:        cfg.Service.OutFields,
		},
		FullLoadRespectsWatermark: cfg.Load.FullLoadRespectsWatermark,
		Logger:                    log,
		Metrics:                   m,
	})

	log.Debug("Configuration loaded", map[string]interface{}{
		"layer":             queryURL,
		"watermark_backend": cfg.Watermark.Backend,
		"watermark_path":    cfg.Watermark.Path,
		"batch_size":        cfg.Service.BatchSize,
	})

	return &app{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		store:     store,
		service:   service,
		logCloser: closer,
	}, nil
}

// writers parses sink arguments and builds their writers, connecting to the
// database when a postgis sink is requested.
func (a *app) writers(ctx context.Context, sinkArgs []string) ([]sink.Writer, error) {
	targets, err := sink.ParseTargets(sinkArgs)
	if err != nil {
		return nil, err
	}

	deps := sink.Deps{
		DefaultTable: a.cfg.Database.Table,
		DefaultSRID:  a.cfg.Database.SRID,
		Logger:       a.log,
	}
	for _, t := range targets {
		if t.Kind != sink.KindPostGIS {
			continue
		}
		db, err := a.database(ctx)
		if err != nil {
			return nil, err
		}
		deps.Repository = repository.NewFeatureTableRepository(db)
		break
	}

	return sink.Build(targets, deps)
}

// database connects on first use.
func (a *app) database(ctx context.Context) (*database.Database, error) {
	if a.db != nil {
		return a.db, nil
	}

	db, err := database.NewPostgresPool(ctx, a.cfg.Database)
	if err != nil {
		if errors.Is(err, database.ErrNotConfigured) {
			return nil, fmt.Errorf("%w: set DATABASE_URL or DB_HOST", sink.ErrDatabaseNotConfigured)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a.log.Info("Database connection established", map[string]interface{}{
		"pool_min": a.cfg.Database.PoolMin,
		"pool_max": a.cfg.Database.PoolMax,
	})
	a.db = db
	return db, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
	if err := a.store.Close(); err != nil {
		a.log.Error("Failed to close watermark store", err, nil)
	}
	_ = a.logCloser.Close()
}
