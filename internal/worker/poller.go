package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"bridgescan/enricher/internal/metrics"
	"bridgescan/enricher/internal/models"
)

const (
	loopPoll = "poll"

	// MessageTimeout bounds one message's RPC round trips
	MessageTimeout = 2 * time.Minute
)

// Feed is the upstream scanner API
type Feed interface {
	Messages(ctx context.Context, skip, limit int) ([]models.BridgeMessage, error)
	Message(ctx context.Context, id int64) ([]models.BridgeMessage, error)
}

// Enricher derives the enrichment columns for one message
type Enricher interface {
	Enrich(ctx context.Context, msg *models.BridgeMessage) (*models.Enrichment, error)
}

// Writer persists one message's enrichment
type Writer interface {
	UpdateEnrichment(ctx context.Context, e *models.Enrichment) error
}

// PollerConfig holds the polling loop settings
type PollerConfig struct {
	Limit              int
	Interval           time.Duration
	RetryResetInterval time.Duration
	MaxRetries         int
}

// CycleStats summarises one pass over a feed page
type CycleStats struct {
	Seen       int
	Skipped    int
	Exhausted  int
	Updated    int
	Incomplete int
	Failed     int
}

// PollerStatus is the poller's externally visible state
type PollerStatus struct {
	LowWaterMark int64     `json:"low_water_mark"`
	RetryMapSize int       `json:"retry_map_size"`
	Cycles       int64     `json:"cycles"`
	Updated      int64     `json:"updated"`
	Failed       int64     `json:"failed"`
	InFlight     bool      `json:"in_flight"`
	LastCycleAt  time.Time `json:"last_cycle_at"`
}

// Poller drives Loop A: it pulls the newest feed page on a fixed interval and
// enriches every message that may still change.
type Poller struct {
	feed     Feed
	enricher Enricher
	store    Writer
	retries  *RetryState
	cfg      PollerConfig
	logger   *zap.Logger

	lowWater atomic.Int64
	inFlight atomic.Bool
	cycles   atomic.Int64
	updated  atomic.Int64
	failed   atomic.Int64

	mu        sync.Mutex
	lastCycle time.Time
}

// NewPoller creates the polling loop
func NewPoller(feed Feed, enricher Enricher, store Writer, cfg PollerConfig, logger *zap.Logger) *Poller {
	return &Poller{
		feed:     feed,
		enricher: enricher,
		store:    store,
		retries:  NewRetryState(cfg.MaxRetries),
		cfg:      cfg,
		logger:   logger.Named("poller"),
	}
}

// NeedsNoMoreWork reports whether a message is settled with a final
// classification, so a page that shows it again can skip it.
func NeedsNoMoreWork(msg *models.BridgeMessage) bool {
	if !msg.Status.Settled() {
		return false
	}
	action := msg.Action()
	if action == models.ActionSendMsg {
		return false
	}
	return action != models.ActionCreateIntent || msg.HasIntentTxHash()
}

// Run polls until ctx is cancelled. A tick that fires while the previous
// cycle is still running is skipped.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Poller started",
		zap.Int("limit", p.cfg.Limit),
		zap.Duration("interval", p.cfg.Interval),
		zap.Duration("retry_reset_interval", p.cfg.RetryResetInterval))

	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	reset := time.NewTicker(p.cfg.RetryResetInterval)
	defer reset.Stop()

	p.tick(ctx, &wg)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poller stopping")
			return
		case <-ticker.C:
			p.tick(ctx, &wg)
		case <-reset.C:
			p.logger.Info("Resetting retry map", zap.Int("tracked", p.retries.Len()))
			p.retries.Reset()
		}
	}
}

func (p *Poller) tick(ctx context.Context, wg *sync.WaitGroup) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.logger.Debug("Previous cycle still running, skipping tick")
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer p.inFlight.Store(false)

		if _, err := p.RunCycle(ctx); err != nil {
			p.logger.Error("Poll cycle failed", zap.Error(err))
		}
	}()
}

// RunCycle processes one feed page and then advances the low-water mark to
// the highest id on it
func (p *Poller) RunCycle(ctx context.Context) (CycleStats, error) {
	msgs, err := p.feed.Messages(ctx, 0, p.cfg.Limit)
	if err != nil {
		return CycleStats{}, fmt.Errorf("failed to fetch feed page: %w", err)
	}

	stats := p.process(ctx, msgs)

	var highest int64
	for i := range msgs {
		if msgs[i].ID > highest {
			highest = msgs[i].ID
		}
	}
	if highest > p.lowWater.Load() {
		p.lowWater.Store(highest)
	}

	p.cycles.Add(1)
	p.mu.Lock()
	p.lastCycle = time.Now()
	p.mu.Unlock()

	p.logger.Debug("Poll cycle complete",
		zap.Int("seen", stats.Seen),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int64("low_water_mark", p.lowWater.Load()))

	return stats, nil
}

// RunOnce enriches a single message fetched from the feed by id
func (p *Poller) RunOnce(ctx context.Context, id int64) (CycleStats, error) {
	msgs, err := p.feed.Message(ctx, id)
	if err != nil {
		return CycleStats{}, fmt.Errorf("failed to fetch message %d: %w", id, err)
	}
	if len(msgs) == 0 {
		return CycleStats{}, fmt.Errorf("%w: %d", ErrMessageNotFound, id)
	}
	return p.process(ctx, msgs), nil
}

func (p *Poller) process(ctx context.Context, msgs []models.BridgeMessage) CycleStats {
	var stats CycleStats
	low := p.lowWater.Load()

	for i := range msgs {
		if ctx.Err() != nil {
			break
		}
		msg := &msgs[i]
		stats.Seen++

		alreadySeen := low != 0 && msg.ID <= low
		if alreadySeen && NeedsNoMoreWork(msg) {
			stats.Skipped++
			metrics.MessagesProcessed.WithLabelValues(loopPoll, metrics.ResultSkipped).Inc()
			continue
		}

		if p.retries.Exhausted(msg.ID) {
			stats.Exhausted++
			metrics.RetryExhausted.Inc()
			continue
		}

		switch p.processOne(ctx, msg) {
		case metrics.ResultUpdated:
			stats.Updated++
		case metrics.ResultIncomplete:
			stats.Incomplete++
		case metrics.ResultFailed:
			stats.Failed++
		}
	}

	return stats
}

// processOne runs the enrichment for msg. The message is allowed to finish
// after ctx is cancelled, bounded by MessageTimeout.
func (p *Poller) processOne(ctx context.Context, msg *models.BridgeMessage) string {
	msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), MessageTimeout)
	defer cancel()

	result := p.enrichAndStore(msgCtx, msg)
	metrics.MessagesProcessed.WithLabelValues(loopPoll, result).Inc()
	return result
}

func (p *Poller) enrichAndStore(ctx context.Context, msg *models.BridgeMessage) string {
	logger := p.logger.With(
		zap.Int64("message_id", msg.ID),
		zap.String("src_network", msg.SrcNetwork),
		zap.String("src_tx_hash", msg.SrcTxHash))

	e, err := p.enricher.Enrich(ctx, msg)
	if err != nil {
		p.fail(logger, msg.ID, "Failed to enrich message", err)
		return metrics.ResultFailed
	}

	// placeholder results are retried a bounded number of times
	if e.ActionType == models.ActionSendMsg {
		p.retries.Fail(msg.ID)
	}

	if !e.Complete() {
		p.retries.Fail(msg.ID)
		logger.Info("Skipping update, payload incomplete",
			zap.String("fee", e.Fee),
			zap.Bool("has_block", e.BlockNumber != nil))
		return metrics.ResultIncomplete
	}

	if err := p.store.UpdateEnrichment(ctx, e); err != nil {
		p.fail(logger, msg.ID, "Failed to store enrichment", err)
		return metrics.ResultFailed
	}

	p.updated.Add(1)
	logger.Info("Message enriched",
		zap.String("action_type", string(e.ActionType)),
		zap.String("action_detail", e.ActionDetail),
		zap.String("fee", e.Fee))
	return metrics.ResultUpdated
}

// fail logs the first failure of an epoch at warn level and later ones at debug
func (p *Poller) fail(logger *zap.Logger, id int64, msg string, err error) {
	p.failed.Add(1)
	if p.retries.Fail(id) == 1 {
		logger.Warn(msg, zap.Error(err))
		return
	}
	logger.Debug(msg, zap.Int("attempts", p.retries.Count(id)), zap.Error(err))
}

// Status returns a snapshot of the poller state
func (p *Poller) Status() PollerStatus {
	p.mu.Lock()
	last := p.lastCycle
	p.mu.Unlock()

	return PollerStatus{
		LowWaterMark: p.lowWater.Load(),
		RetryMapSize: p.retries.Len(),
		Cycles:       p.cycles.Load(),
		Updated:      p.updated.Load(),
		Failed:       p.failed.Load(),
		InFlight:     p.inFlight.Load(),
		LastCycleAt:  last,
	}
}
