package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/tripwire/internal/anomaly"
	"github.com/Veraticus/tripwire/internal/category"
	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/config"
	"github.com/Veraticus/tripwire/internal/detection"
	"github.com/Veraticus/tripwire/internal/engine"
	"github.com/Veraticus/tripwire/internal/llm"
	"github.com/Veraticus/tripwire/internal/service"
	"github.com/Veraticus/tripwire/internal/storage"
	"github.com/Veraticus/tripwire/internal/violation"
	"github.com/google/uuid"
)

// currentSettings returns the loaded settings, or the defaults when the root
// pre-run did not execute.
func currentSettings() *config.Settings {
	if settings != nil {
		return settings
	}
	d := config.DefaultSettings()
	return &d
}

// initStorage opens the configured database and brings its schema current.
func initStorage(ctx context.Context) (service.Storage, error) {
	dbPath := config.ExpandPath(currentSettings().DatabasePath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// app is the wired engine behind every command that touches storage.
type app struct {
	store      service.Storage
	classifier *llm.Classifier
	categories *category.Manager
	risk       *engine.RiskAggregator
	violations *violation.Machine
	analyzer   *engine.Analyzer
	batch      *engine.BatchRunner
	jobs       *engine.JobTracker
	anomalies  *anomaly.Service
}

func newApp(ctx context.Context) (*app, error) {
	s := currentSettings()
	logger := slog.Default()

	store, err := initStorage(ctx)
	if err != nil {
		return nil, err
	}

	a := &app{
		store:      store,
		categories: category.NewManager(store),
		risk:       engine.NewRiskAggregator(store, s.Engine.Risk, logger),
	}

	var classifier detection.TextClassifier
	machineOpts := []violation.Option{
		violation.WithRiskRecomputer(a.risk),
		violation.WithLogger(logger),
	}
	if s.LLM.Enabled {
		c, err := llm.NewClassifier(s.LLM.Config, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to create language model client: %w", err)
		}
		a.classifier = c
		classifier = c
		machineOpts = append(machineOpts, violation.WithAssessor(c))
	}

	a.violations = violation.NewMachine(store, machineOpts...)
	a.analyzer = engine.NewAnalyzer(store, a.categories, classifier, s.Detection, s.Engine, logger,
		engine.WithViolationCreator(a.violations),
		engine.WithRiskRecomputer(a.risk))
	a.batch = engine.NewBatchRunner(a.analyzer, store, a.risk, s.Engine, logger)
	a.jobs = engine.NewJobTracker(store, a.batch, logger)
	a.anomalies = anomaly.NewService(store, s.Detection, s.Anomaly, logger)

	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.classifier != nil {
		errs = append(errs, a.classifier.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

// parseID parses a violation or job id with a message the analyst can act on.
func parseID(kind, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, common.NewUserError(fmt.Sprintf("%q is not a valid %s id", raw, kind), err)
	}
	return id, nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
