package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"bridgescan/enricher/internal/models"
)

func strPtr(s string) *string { return &s }

func complete(id int64, action models.ActionKind) *models.Enrichment {
	block := uint64(100 + id)
	return &models.Enrichment{
		MessageID:   id,
		Fee:         "0.0001",
		ActionType:  action,
		BlockNumber: &block,
	}
}

type stubFeed struct {
	mu    sync.Mutex
	page  []models.BridgeMessage
	err   error
	calls int
}

func (f *stubFeed) Messages(ctx context.Context, skip, limit int) ([]models.BridgeMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.BridgeMessage, len(f.page))
	copy(out, f.page)
	return out, nil
}

func (f *stubFeed) Message(ctx context.Context, id int64) ([]models.BridgeMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.page {
		if m.ID == id {
			return []models.BridgeMessage{m}, nil
		}
	}
	return nil, nil
}

type stubEnricher struct {
	mu    sync.Mutex
	fn    func(msg *models.BridgeMessage) (*models.Enrichment, error)
	calls map[int64]int
}

func newStubEnricher(fn func(msg *models.BridgeMessage) (*models.Enrichment, error)) *stubEnricher {
	return &stubEnricher{fn: fn, calls: make(map[int64]int)}
}

func (e *stubEnricher) Enrich(ctx context.Context, msg *models.BridgeMessage) (*models.Enrichment, error) {
	e.mu.Lock()
	e.calls[msg.ID]++
	e.mu.Unlock()
	return e.fn(msg)
}

func (e *stubEnricher) Calls(id int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[id]
}

type stubStore struct {
	mu       sync.Mutex
	messages map[int64]*models.BridgeMessage
	updated  []int64
	batches  [][]int64
	updErr   error
	batchErr error
	listed   int
}

func newStubStore(msgs ...models.BridgeMessage) *stubStore {
	s := &stubStore{messages: make(map[int64]*models.BridgeMessage)}
	for i := range msgs {
		m := msgs[i]
		s.messages[m.ID] = &m
	}
	return s
}

func (s *stubStore) GetMessage(ctx context.Context, id int64) (*models.BridgeMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *stubStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.messages))
	for id := range s.messages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *stubStore) GetMessagesNeedingEnrichment(ctx context.Context, afterID int64, limit int) ([]models.BridgeMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listed++
	var out []models.BridgeMessage
	for _, id := range s.sortedIDs() {
		if id <= afterID {
			continue
		}
		out = append(out, *s.messages[id])
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *stubStore) CountMessagesNeedingEnrichment(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages), nil
}

func (s *stubStore) UpdateEnrichment(ctx context.Context, e *models.Enrichment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updErr != nil {
		return s.updErr
	}
	s.updated = append(s.updated, e.MessageID)
	return nil
}

func (s *stubStore) UpdateEnrichments(ctx context.Context, batch []*models.Enrichment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batchErr != nil {
		return 0, s.batchErr
	}
	ids := make([]int64, len(batch))
	for i, e := range batch {
		ids[i] = e.MessageID
	}
	s.batches = append(s.batches, ids)
	return len(batch), nil
}

func (s *stubStore) Updated() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.updated...)
}

func pending(id int64) models.BridgeMessage {
	return models.BridgeMessage{
		ID:          id,
		SN:          "1",
		Status:      models.MessageStatusPending,
		SrcNetwork:  "0x2105.base",
		DestNetwork: "sonic",
		SrcTxHash:   fmt.Sprintf("0x%064x", id),
	}
}

var errFetch = errors.New("rpc unavailable")
