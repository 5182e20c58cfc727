package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"bridgescan/enricher/internal/blockchain"
	"bridgescan/enricher/internal/models"
)

func newTestPoller(feed Feed, enricher Enricher, store Writer) *Poller {
	return NewPoller(feed, enricher, store, PollerConfig{
		Limit:              10,
		Interval:           time.Second,
		RetryResetInterval: time.Hour,
		MaxRetries:         4,
	}, zap.NewNop())
}

func TestNeedsNoMoreWork(t *testing.T) {
	tests := []struct {
		name   string
		msg    models.BridgeMessage
		expect bool
	}{
		{
			name:   "pending is never final",
			msg:    models.BridgeMessage{Status: models.MessageStatusPending, ActionType: strPtr("Transfer")},
			expect: false,
		},
		{
			name:   "delivered may still execute",
			msg:    models.BridgeMessage{Status: models.MessageStatusDelivered, ActionType: strPtr("Transfer")},
			expect: false,
		},
		{
			name:   "executed transfer",
			msg:    models.BridgeMessage{Status: models.MessageStatusExecuted, ActionType: strPtr("Transfer")},
			expect: true,
		},
		{
			name:   "executed without action",
			msg:    models.BridgeMessage{Status: models.MessageStatusExecuted},
			expect: true,
		},
		{
			name:   "executed placeholder",
			msg:    models.BridgeMessage{Status: models.MessageStatusExecuted, ActionType: strPtr("SendMsg")},
			expect: false,
		},
		{
			name:   "create intent without fill",
			msg:    models.BridgeMessage{Status: models.MessageStatusRollbacked, ActionType: strPtr("CreateIntent")},
			expect: false,
		},
		{
			name: "create intent stitched",
			msg: models.BridgeMessage{
				Status:       models.MessageStatusFailed,
				ActionType:   strPtr("CreateIntent"),
				IntentTxHash: strPtr("0xfill"),
			},
			expect: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsNoMoreWork(&tt.msg); got != tt.expect {
				t.Errorf("NeedsNoMoreWork() = %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestRetryState(t *testing.T) {
	r := NewRetryState(4)

	for i := 1; i <= 4; i++ {
		if got := r.Fail(7); got != i {
			t.Fatalf("Fail() = %d, want %d", got, i)
		}
		if r.Exhausted(7) {
			t.Fatalf("exhausted after %d failures", i)
		}
	}

	r.Fail(7)
	if !r.Exhausted(7) {
		t.Error("expected id to be exhausted after 5 failures")
	}
	if r.Exhausted(8) {
		t.Error("untracked id must not be exhausted")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	r.Reset()
	if r.Exhausted(7) || r.Count(7) != 0 || r.Len() != 0 {
		t.Error("Reset() did not clear the map")
	}
}

func TestPollerStopsAfterRetryBudget(t *testing.T) {
	feed := &stubFeed{page: []models.BridgeMessage{pending(1)}}
	enricher := newStubEnricher(func(msg *models.BridgeMessage) (*models.Enrichment, error) {
		return nil, errFetch
	})
	store := newStubStore()
	p := newTestPoller(feed, enricher, store)

	var exhausted int
	for i := 0; i < 7; i++ {
		stats, err := p.RunCycle(context.Background())
		if err != nil {
			t.Fatalf("RunCycle() error = %v", err)
		}
		exhausted += stats.Exhausted
	}

	if got := enricher.Calls(1); got != 5 {
		t.Errorf("enrich calls = %d, want 5", got)
	}
	if exhausted != 2 {
		t.Errorf("exhausted = %d, want 2", exhausted)
	}

	p.retries.Reset()
	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if got := enricher.Calls(1); got != 6 {
		t.Errorf("enrich calls after reset = %d, want 6", got)
	}
}

func TestPollerSkipsSettledMessagesBelowLowWaterMark(t *testing.T) {
	settled := pending(5)
	settled.Status = models.MessageStatusExecuted
	settled.ActionType = strPtr("Transfer")

	feed := &stubFeed{page: []models.BridgeMessage{pending(6), settled}}
	enricher := newStubEnricher(func(msg *models.BridgeMessage) (*models.Enrichment, error) {
		return complete(msg.ID, models.ActionTransfer), nil
	})
	store := newStubStore()
	p := newTestPoller(feed, enricher, store)

	first, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if first.Updated != 2 || first.Skipped != 0 {
		t.Errorf("first cycle = %+v, want 2 updated", first)
	}
	if p.Status().LowWaterMark != 6 {
		t.Errorf("low water mark = %d, want 6", p.Status().LowWaterMark)
	}

	second, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if second.Skipped != 1 || second.Updated != 1 {
		t.Errorf("second cycle = %+v, want 1 skipped and 1 updated", second)
	}
	if enricher.Calls(5) != 1 {
		t.Errorf("settled message enriched %d times, want 1", enricher.Calls(5))
	}
	if enricher.Calls(6) != 2 {
		t.Errorf("pending message enriched %d times, want 2", enricher.Calls(6))
	}
}

func TestPollerDoesNotPersistIncompleteEnrichment(t *testing.T) {
	feed := &stubFeed{page: []models.BridgeMessage{pending(3)}}
	enricher := newStubEnricher(func(msg *models.BridgeMessage) (*models.Enrichment, error) {
		return &models.Enrichment{MessageID: msg.ID, Fee: "0.1", ActionType: models.ActionTransfer}, nil
	})
	store := newStubStore()
	p := newTestPoller(feed, enricher, store)

	stats, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if stats.Incomplete != 1 {
		t.Errorf("incomplete = %d, want 1", stats.Incomplete)
	}
	if len(store.Updated()) != 0 {
		t.Errorf("store updated %v, want nothing", store.Updated())
	}
	if p.retries.Count(3) != 1 {
		t.Errorf("retry count = %d, want 1", p.retries.Count(3))
	}
}

func TestPollerCountsPlaceholderAsRetry(t *testing.T) {
	feed := &stubFeed{page: []models.BridgeMessage{pending(4)}}
	enricher := newStubEnricher(func(msg *models.BridgeMessage) (*models.Enrichment, error) {
		return complete(msg.ID, models.ActionSendMsg), nil
	})
	store := newStubStore()
	p := newTestPoller(feed, enricher, store)

	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if got := store.Updated(); len(got) != 1 || got[0] != 4 {
		t.Errorf("updated = %v, want [4]", got)
	}
	if p.retries.Count(4) != 1 {
		t.Errorf("retry count = %d, want 1", p.retries.Count(4))
	}
}

func TestPollerUnknownChainDoesNotStopCycle(t *testing.T) {
	unknown := pending(8)
	unknown.SrcNetwork = "0x999.unknown"

	feed := &stubFeed{page: []models.BridgeMessage{unknown, pending(7)}}
	enricher := newStubEnricher(func(msg *models.BridgeMessage) (*models.Enrichment, error) {
		if msg.SrcNetwork == "0x999.unknown" {
			return nil, fmt.Errorf("%w: %s", blockchain.ErrNoHandler, msg.SrcNetwork)
		}
		return complete(msg.ID, models.ActionTransfer), nil
	})
	store := newStubStore()
	p := newTestPoller(feed, enricher, store)

	stats, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if stats.Failed != 1 || stats.Updated != 1 {
		t.Errorf("stats = %+v, want 1 failed and 1 updated", stats)
	}
	if p.retries.Count(8) != 1 {
		t.Errorf("retry count = %d, want 1", p.retries.Count(8))
	}
}

func TestPollerStoreErrorCountsAsFailure(t *testing.T) {
	feed := &stubFeed{page: []models.BridgeMessage{pending(2)}}
	enricher := newStubEnricher(func(msg *models.BridgeMessage) (*models.Enrichment, error) {
		return complete(msg.ID, models.ActionTransfer), nil
	})
	store := newStubStore()
	store.updErr = errors.New("connection reset")
	p := newTestPoller(feed, enricher, store)

	stats, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if stats.Failed != 1 {
		t.Errorf("failed = %d, want 1", stats.Failed)
	}
	if p.Status().Failed != 1 {
		t.Errorf("status failed = %d, want 1", p.Status().Failed)
	}
}

func TestPollerFeedError(t *testing.T) {
	feed := &stubFeed{err: errors.New("502 bad gateway")}
	p := newTestPoller(feed, newStubEnricher(nil), newStubStore())

	if _, err := p.RunCycle(context.Background()); err == nil {
		t.Fatal("expected error from failing feed")
	}
	if p.Status().LowWaterMark != 0 {
		t.Errorf("low water mark moved to %d on a failed fetch", p.Status().LowWaterMark)
	}
	if p.Status().Cycles != 0 {
		t.Errorf("cycles = %d, want 0", p.Status().Cycles)
	}
}

func TestPollerRunOnce(t *testing.T) {
	feed := &stubFeed{page: []models.BridgeMessage{pending(9)}}
	enricher := newStubEnricher(func(msg *models.BridgeMessage) (*models.Enrichment, error) {
		return complete(msg.ID, models.ActionDeposit), nil
	})
	store := newStubStore()
	p := newTestPoller(feed, enricher, store)

	stats, err := p.RunOnce(context.Background(), 9)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if stats.Updated != 1 {
		t.Errorf("updated = %d, want 1", stats.Updated)
	}

	_, err = p.RunOnce(context.Background(), 404)
	if !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("RunOnce() error = %v, want ErrMessageNotFound", err)
	}
}

func TestPollerTickSkipsWhileCycleInFlight(t *testing.T) {
	feed := &stubFeed{page: []models.BridgeMessage{pending(1)}}
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	enricher := newStubEnricher(func(msg *models.BridgeMessage) (*models.Enrichment, error) {
		started <- struct{}{}
		<-release
		return complete(msg.ID, models.ActionTransfer), nil
	})
	p := newTestPoller(feed, enricher, newStubStore())

	var wg sync.WaitGroup
	p.tick(context.Background(), &wg)
	<-started
	p.tick(context.Background(), &wg)
	close(release)
	wg.Wait()

	feed.mu.Lock()
	calls := feed.calls
	feed.mu.Unlock()
	if calls != 1 {
		t.Errorf("feed fetched %d times while a cycle was running, want 1", calls)
	}
	if enricher.Calls(1) != 1 {
		t.Errorf("message enriched %d times, want 1", enricher.Calls(1))
	}
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	feed := &stubFeed{page: []models.BridgeMessage{pending(1)}}
	enricher := newStubEnricher(func(msg *models.BridgeMessage) (*models.Enrichment, error) {
		return complete(msg.ID, models.ActionTransfer), nil
	})
	p := NewPoller(feed, enricher, newStubStore(), PollerConfig{
		Limit:              10,
		Interval:           10 * time.Millisecond,
		RetryResetInterval: time.Hour,
		MaxRetries:         4,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if p.Status().Cycles == 0 {
		t.Error("expected at least one cycle")
	}
	if p.Status().InFlight {
		t.Error("cycle still marked in flight after Run returned")
	}
}
