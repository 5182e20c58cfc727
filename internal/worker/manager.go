package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"bridgescan/enricher/internal/blockchain"
	"bridgescan/enricher/internal/config"
	"bridgescan/enricher/internal/database"
	"bridgescan/enricher/internal/registry"
	"bridgescan/enricher/internal/scanner"
	"bridgescan/enricher/internal/service"
)

// Status is the combined state reported by the status API
type Status struct {
	Mode    config.Mode    `json:"mode"`
	Started time.Time      `json:"started"`
	Poller  *PollerStatus  `json:"poller,omitempty"`
	Reactor *ReactorStatus `json:"reactor,omitempty"`
}

// WorkerManager orchestrates the ingestion loops and owns their dependencies
type WorkerManager struct {
	db     *database.DB
	cfg    *config.Config
	logger *zap.Logger

	handlers *blockchain.Handlers
	enricher *service.EnrichService

	poller   *Poller
	reactor  *Reactor
	listener *database.Listener

	mode    config.Mode
	started time.Time

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerManager creates a new worker manager with all required dependencies
func NewWorkerManager(db *database.DB, cfg *config.Config, reg *registry.Registry, logger *zap.Logger) (*WorkerManager, error) {
	logger = logger.Named("worker")

	ctx, cancel := context.WithCancel(context.Background())

	handlers, err := blockchain.NewHandlers(ctx, reg, blockchain.Options{
		DefaultGasPriceWei: cfg.EVM.DefaultGasPriceWei,
		HorizonURL:         cfg.HorizonURL,
	}, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create chain handlers: %w", err)
	}

	enricher := service.NewEnrichService(handlers, reg, cfg.TraceMessageIDs, logger)

	wm := &WorkerManager{
		db:       db,
		cfg:      cfg,
		logger:   logger,
		handlers: handlers,
		enricher: enricher,
		reactor: NewReactor(db, enricher, ReactorConfig{
			BatchSize:      cfg.Reactor.BatchSize,
			MaxConcurrent:  cfg.Reactor.MaxConcurrent,
			BatchPause:     cfg.Reactor.BatchPause,
			BackupSchedule: cfg.Reactor.BackupSchedule,
		}, logger),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Scanner.URL != "" {
		wm.poller = NewPoller(scanner.NewClient(cfg.Scanner.URL, logger), enricher, db, PollerConfig{
			Limit:              cfg.Scanner.Limit,
			Interval:           cfg.Scanner.RequestDelay,
			RetryResetInterval: cfg.Poller.RetryResetInterval,
			MaxRetries:         cfg.Poller.MaxRetries,
		}, logger)
	}

	return wm, nil
}

// Start launches the loop selected by mode in the background
func (wm *WorkerManager) Start(mode config.Mode) error {
	wm.mode = mode
	wm.started = time.Now()

	switch mode {
	case config.ModePoll:
		if wm.poller == nil {
			return errors.New("poll mode requires a scanner URL")
		}
		wm.wg.Add(1)
		go func() {
			defer wm.wg.Done()
			wm.poller.Run(wm.ctx)
		}()

	case config.ModeWatch:
		listener, err := database.NewListener(wm.cfg.Database.DSN(), wm.cfg.Reactor.Channel, wm.logger)
		if err != nil {
			return fmt.Errorf("failed to listen for notifications: %w", err)
		}
		wm.listener = listener

		wm.wg.Add(1)
		go func() {
			defer wm.wg.Done()
			if err := wm.reactor.Run(wm.ctx, listener); err != nil {
				wm.logger.Error("Reactor exited with error", zap.Error(err))
			}
		}()

	default:
		return fmt.Errorf("mode %q does not run a background loop", mode)
	}

	wm.logger.Info("Worker manager started",
		zap.String("mode", string(mode)),
		zap.Int("handlers", wm.handlers.Len()))
	return nil
}

// RunOnce enriches a single feed message by id and returns
func (wm *WorkerManager) RunOnce(ctx context.Context, id int64) (CycleStats, error) {
	if wm.poller == nil {
		return CycleStats{}, errors.New("single-message mode requires a scanner URL")
	}
	return wm.poller.RunOnce(ctx, id)
}

// Backfill runs one reconciliation pass over the store and returns
func (wm *WorkerManager) Backfill(ctx context.Context) (Stats, error) {
	return wm.reactor.ProcessAllPending(ctx)
}

// EnrichMessage enriches one stored message on demand
func (wm *WorkerManager) EnrichMessage(ctx context.Context, id int64) (ProcessResult, error) {
	return wm.reactor.ProcessSingle(ctx, id)
}

// Status returns the state of the running loop
func (wm *WorkerManager) Status() Status {
	s := Status{Mode: wm.mode, Started: wm.started}
	switch wm.mode {
	case config.ModePoll:
		ps := wm.poller.Status()
		s.Poller = &ps
	case config.ModeWatch:
		rs := wm.reactor.Status()
		s.Reactor = &rs
	}
	return s
}

// Shutdown gracefully stops all workers
func (wm *WorkerManager) Shutdown(timeout time.Duration) error {
	wm.logger.Info("Shutting down worker manager")

	// Signal workers to stop
	wm.cancel()

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		wm.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		wm.logger.Info("Workers stopped gracefully")
	case <-time.After(timeout):
		wm.logger.Warn("Worker shutdown timed out")
		err = fmt.Errorf("workers did not stop within %s", timeout)
	}

	if wm.listener != nil {
		if cerr := wm.listener.Close(); cerr != nil {
			wm.logger.Error("Error closing notification listener", zap.Error(cerr))
		}
	}

	wm.handlers.Close()

	wm.logger.Info("Worker manager shutdown complete")
	return err
}
