package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bridgescan/enricher/internal/metrics"
	"bridgescan/enricher/internal/models"
	"bridgescan/enricher/internal/service"
)

const (
	loopReact    = "react"
	loopBackfill = "backfill"
)

// ErrMessageNotFound is returned when a requested message id does not exist
var ErrMessageNotFound = errors.New("message not found")

// Store is the persistence surface used by Loop B
type Store interface {
	Writer
	GetMessage(ctx context.Context, id int64) (*models.BridgeMessage, error)
	GetMessagesNeedingEnrichment(ctx context.Context, afterID int64, limit int) ([]models.BridgeMessage, error)
	CountMessagesNeedingEnrichment(ctx context.Context) (int, error)
	UpdateEnrichments(ctx context.Context, batch []*models.Enrichment) (int, error)
}

// Notifier delivers message ids published by the store
type Notifier interface {
	Notifications() <-chan string
}

// ReactorConfig holds the notification loop settings
type ReactorConfig struct {
	BatchSize      int
	MaxConcurrent  int
	BatchPause     time.Duration
	BackupSchedule string
}

// Stats summarises a reconciliation pass
type Stats struct {
	Total      int       `json:"total"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (s *Stats) add(o Stats) {
	s.Total += o.Total
	s.Successful += o.Successful
	s.Failed += o.Failed
	s.Skipped += o.Skipped
}

// ProcessResult is the outcome of a single-message enrichment
type ProcessResult struct {
	MessageID int64  `json:"message_id"`
	Updated   bool   `json:"updated"`
	Reason    string `json:"reason,omitempty"`
}

// ReactorStatus is the reactor's externally visible state
type ReactorStatus struct {
	Notifications int64  `json:"notifications"`
	Processed     int64  `json:"processed"`
	BackupRunning bool   `json:"backup_running"`
	LastBackup    *Stats `json:"last_backup,omitempty"`
}

// Reactor drives Loop B: it enriches each message the store announces and
// periodically reconciles every message still missing data.
type Reactor struct {
	store    Store
	enricher Enricher
	cfg      ReactorConfig
	logger   *zap.Logger

	wg            sync.WaitGroup
	backupRunning atomic.Bool
	notifications atomic.Int64
	processed     atomic.Int64

	mu         sync.Mutex
	lastBackup *Stats
}

// NewReactor creates the notification loop
func NewReactor(store Store, enricher Enricher, cfg ReactorConfig, logger *zap.Logger) *Reactor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Reactor{
		store:    store,
		enricher: enricher,
		cfg:      cfg,
		logger:   logger.Named("reactor"),
	}
}

// Run consumes notifications until ctx is cancelled or the channel closes.
// The backup pass runs once at startup and then on the cron schedule.
func (r *Reactor) Run(ctx context.Context, notifier Notifier) error {
	scheduler := cron.New(
		cron.WithLogger(cronLogger{r.logger.Sugar()}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{r.logger.Sugar()})),
	)
	if _, err := scheduler.AddFunc(r.cfg.BackupSchedule, func() { r.runBackup(ctx) }); err != nil {
		return fmt.Errorf("invalid backup schedule %q: %w", r.cfg.BackupSchedule, err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runBackup(ctx)
	}()

	scheduler.Start()
	r.logger.Info("Reactor started", zap.String("backup_schedule", r.cfg.BackupSchedule))

	defer func() {
		<-scheduler.Stop().Done()
		r.wg.Wait()
		r.logger.Info("Reactor stopped")
	}()

	notes := notifier.Notifications()
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-notes:
			if !ok {
				r.logger.Warn("Notification channel closed")
				return nil
			}
			r.notifications.Add(1)
			metrics.Notifications.Inc()

			id, err := strconv.ParseInt(payload, 10, 64)
			if err != nil {
				r.logger.Warn("Ignoring notification with non-numeric payload", zap.String("payload", payload))
				continue
			}

			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), MessageTimeout)
				defer cancel()

				res, err := r.ProcessSingle(msgCtx, id)
				if err != nil {
					r.logger.Error("Failed to process notified message", zap.Int64("message_id", id), zap.Error(err))
					return
				}
				if res.Updated {
					r.logger.Info("Processed notified message", zap.Int64("message_id", id))
				}
			}()
		}
	}
}

func (r *Reactor) runBackup(ctx context.Context) {
	if !r.backupRunning.CompareAndSwap(false, true) {
		r.logger.Info("Backup pass already running, skipping")
		return
	}
	defer r.backupRunning.Store(false)

	stats, err := r.ProcessAllPending(ctx)
	if err != nil {
		r.logger.Error("Backup pass failed", zap.Error(err))
		return
	}
	if stats.Successful > 0 {
		r.logger.Warn("Backup pass found missed messages", zap.Int("updated", stats.Successful))
	} else {
		r.logger.Info("Backup pass found no missed messages")
	}
}

// ProcessSingle loads one message, enriches it if it still needs it and
// writes the result
func (r *Reactor) ProcessSingle(ctx context.Context, id int64) (ProcessResult, error) {
	res := ProcessResult{MessageID: id}

	msg, err := r.store.GetMessage(ctx, id)
	if err != nil {
		return res, err
	}
	if msg == nil {
		return res, fmt.Errorf("%w: %d", ErrMessageNotFound, id)
	}

	if !service.NeedsEnrichment(msg) {
		res.Reason = "already enriched"
		metrics.MessagesProcessed.WithLabelValues(loopReact, metrics.ResultSkipped).Inc()
		return res, nil
	}

	e, err := r.enricher.Enrich(ctx, msg)
	if err != nil {
		metrics.MessagesProcessed.WithLabelValues(loopReact, metrics.ResultFailed).Inc()
		return res, err
	}
	if !e.Complete() {
		res.Reason = "incomplete payload"
		metrics.MessagesProcessed.WithLabelValues(loopReact, metrics.ResultIncomplete).Inc()
		return res, nil
	}

	if err := r.store.UpdateEnrichment(ctx, e); err != nil {
		metrics.MessagesProcessed.WithLabelValues(loopReact, metrics.ResultFailed).Inc()
		return res, err
	}

	r.processed.Add(1)
	metrics.MessagesProcessed.WithLabelValues(loopReact, metrics.ResultUpdated).Inc()
	res.Updated = true
	return res, nil
}

// ProcessAllPending pages through every message needing enrichment in id
// order, fanning out MaxConcurrent enrichments at a time and writing each
// batch in one transaction.
func (r *Reactor) ProcessAllPending(ctx context.Context) (stats Stats, err error) {
	stats.StartedAt = time.Now()
	defer func() {
		stats.FinishedAt = time.Now()
		r.mu.Lock()
		last := stats
		r.lastBackup = &last
		r.mu.Unlock()
	}()

	pending, err := r.store.CountMessagesNeedingEnrichment(ctx)
	if err != nil {
		return stats, err
	}
	if pending == 0 {
		return stats, nil
	}
	r.logger.Info("Processing pending messages", zap.Int("pending", pending), zap.Int("batch_size", r.cfg.BatchSize))

	var afterID int64
	for {
		msgs, err := r.store.GetMessagesNeedingEnrichment(ctx, afterID, r.cfg.BatchSize)
		if err != nil {
			return stats, err
		}
		if len(msgs) == 0 {
			break
		}

		stats.add(r.processBatch(ctx, msgs))
		afterID = msgs[len(msgs)-1].ID

		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-time.After(r.cfg.BatchPause):
		}
	}

	r.logger.Info("Pending messages processed",
		zap.Int("total", stats.Total),
		zap.Int("successful", stats.Successful),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

func (r *Reactor) processBatch(ctx context.Context, msgs []models.BridgeMessage) Stats {
	stats := Stats{Total: len(msgs)}
	var updates []*models.Enrichment

	for start := 0; start < len(msgs); start += r.cfg.MaxConcurrent {
		end := min(start+r.cfg.MaxConcurrent, len(msgs))
		chunk := msgs[start:end]

		results := make([]*models.Enrichment, len(chunk))
		errs := make([]error, len(chunk))

		// every enrichment runs to completion; one failure does not cancel the rest
		chunkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), MessageTimeout)
		var g errgroup.Group
		for i := range chunk {
			g.Go(func() error {
				results[i], errs[i] = r.enricher.Enrich(chunkCtx, &chunk[i])
				return nil
			})
		}
		_ = g.Wait()
		cancel()

		for i := range chunk {
			switch {
			case errs[i] != nil:
				stats.Failed++
				metrics.MessagesProcessed.WithLabelValues(loopBackfill, metrics.ResultFailed).Inc()
				r.logger.Warn("Failed to enrich message",
					zap.Int64("message_id", chunk[i].ID),
					zap.Error(errs[i]))
			case !results[i].Complete():
				stats.Skipped++
				metrics.MessagesProcessed.WithLabelValues(loopBackfill, metrics.ResultIncomplete).Inc()
			default:
				updates = append(updates, results[i])
			}
		}
	}

	if len(updates) == 0 {
		return stats
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), MessageTimeout)
	defer cancel()
	n, err := r.store.UpdateEnrichments(writeCtx, updates)
	if err != nil {
		r.logger.Error("Batch update failed", zap.Int("rows", len(updates)), zap.Error(err))
		stats.Failed += len(updates)
		metrics.MessagesProcessed.WithLabelValues(loopBackfill, metrics.ResultFailed).Add(float64(len(updates)))
		return stats
	}

	stats.Successful = n
	metrics.BackupPassUpdated.Add(float64(n))
	metrics.MessagesProcessed.WithLabelValues(loopBackfill, metrics.ResultUpdated).Add(float64(n))
	return stats
}

// Status returns a snapshot of the reactor state
func (r *Reactor) Status() ReactorStatus {
	r.mu.Lock()
	last := r.lastBackup
	r.mu.Unlock()

	return ReactorStatus{
		Notifications: r.notifications.Load(),
		Processed:     r.processed.Load(),
		BackupRunning: r.backupRunning.Load(),
		LastBackup:    last,
	}
}

// cronLogger adapts zap to the cron.Logger interface
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
