package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"bridgescan/enricher/internal/config"
	"bridgescan/enricher/internal/registry"
	"bridgescan/enricher/internal/worker"
)

type stubWorker struct {
	result worker.ProcessResult
	err    error
	status worker.Status
	called []int64
}

func (s *stubWorker) EnrichMessage(ctx context.Context, id int64) (worker.ProcessResult, error) {
	s.called = append(s.called, id)
	if s.err != nil {
		return worker.ProcessResult{MessageID: id}, s.err
	}
	res := s.result
	res.MessageID = id
	return res, nil
}

func (s *stubWorker) Status() worker.Status { return s.status }

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Parse([]byte(`
chains:
  - id: 0x2105.base
    aliases: ["30"]
    kind: evm
    asset_manager: 0x5bDD1E1C5173F4c912cC919742FB94A55ECfaf86
    assets:
      "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913": { name: USDC, decimals: 6 }
  - id: sui
    kind: sui
`))
	if err != nil {
		t.Fatalf("failed to parse registry: %v", err)
	}
	return reg
}

func TestHandleHealth(t *testing.T) {
	logger := zap.NewNop()
	handler := NewHandler(&stubWorker{}, nil, logger)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handler.HandleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", response.Status)
	}

	if response.Version != Version {
		t.Errorf("expected version '%s', got '%s'", Version, response.Version)
	}
}

func TestHandleEnrichMessage(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		worker         *stubWorker
		expectedStatus int
		expectedCalls  int
		expectUpdated  bool
	}{
		{
			name:           "updated",
			path:           "/api/v1/messages/42/enrich",
			worker:         &stubWorker{result: worker.ProcessResult{Updated: true}},
			expectedStatus: http.StatusOK,
			expectedCalls:  1,
			expectUpdated:  true,
		},
		{
			name:           "already enriched",
			path:           "/api/v1/messages/42/enrich",
			worker:         &stubWorker{result: worker.ProcessResult{Reason: "already enriched"}},
			expectedStatus: http.StatusOK,
			expectedCalls:  1,
		},
		{
			name:           "missing message",
			path:           "/api/v1/messages/7/enrich",
			worker:         &stubWorker{err: fmt.Errorf("%w: 7", worker.ErrMessageNotFound)},
			expectedStatus: http.StatusNotFound,
			expectedCalls:  1,
		},
		{
			name:           "rpc failure",
			path:           "/api/v1/messages/7/enrich",
			worker:         &stubWorker{err: errors.New("connection refused")},
			expectedStatus: http.StatusBadGateway,
			expectedCalls:  1,
		},
		{
			name:           "non-numeric id does not route",
			path:           "/api/v1/messages/abc/enrich",
			worker:         &stubWorker{},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "zero id",
			path:           "/api/v1/messages/0/enrich",
			worker:         &stubWorker{},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := zap.NewNop()
			router := SetupRouter(NewHandler(tt.worker, testRegistry(t), logger), logger)

			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if len(tt.worker.called) != tt.expectedCalls {
				t.Errorf("expected %d worker calls, got %d", tt.expectedCalls, len(tt.worker.called))
			}

			if tt.expectedStatus == http.StatusOK {
				var response EnrichResponse
				if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if response.Updated != tt.expectUpdated {
					t.Errorf("expected updated=%v, got %v", tt.expectUpdated, response.Updated)
				}
				if response.MessageID != 42 {
					t.Errorf("expected message id 42, got %d", response.MessageID)
				}
			}
		})
	}
}

func TestHandleEnrichMessageRejectsGet(t *testing.T) {
	logger := zap.NewNop()
	router := SetupRouter(NewHandler(&stubWorker{}, testRegistry(t), logger), logger)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/42/enrich", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	logger := zap.NewNop()
	w := &stubWorker{status: worker.Status{
		Mode:    config.ModePoll,
		Started: time.Now().Add(-time.Minute),
		Poller:  &worker.PollerStatus{LowWaterMark: 158, RetryMapSize: 3},
	}}
	router := SetupRouter(NewHandler(w, testRegistry(t), logger), logger)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response struct {
		Mode   string `json:"mode"`
		Uptime string `json:"uptime"`
		Poller struct {
			LowWaterMark int64 `json:"low_water_mark"`
			RetryMapSize int   `json:"retry_map_size"`
		} `json:"poller"`
		Reactor json.RawMessage `json:"reactor"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Mode != "poll" {
		t.Errorf("expected mode 'poll', got '%s'", response.Mode)
	}
	if response.Poller.LowWaterMark != 158 || response.Poller.RetryMapSize != 3 {
		t.Errorf("unexpected poller status: %+v", response.Poller)
	}
	if response.Reactor != nil {
		t.Errorf("expected no reactor status, got %s", response.Reactor)
	}
	if response.Uptime == "0s" {
		t.Error("expected non-zero uptime")
	}
}

func TestHandleListChains(t *testing.T) {
	logger := zap.NewNop()
	router := SetupRouter(NewHandler(&stubWorker{}, testRegistry(t), logger), logger)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chains", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response ChainsResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.Chains) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(response.Chains))
	}
	base := response.Chains[0]
	if base.ID != "0x2105.base" || base.Kind != "evm" || base.Assets != 1 {
		t.Errorf("unexpected base summary: %+v", base)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	logger := zap.NewNop()
	router := SetupRouter(NewHandler(&stubWorker{}, testRegistry(t), logger), logger)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), "enricher_retry_map_size") {
		t.Error("expected enricher metrics in scrape output")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := zap.NewNop()
	handler := recoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}
