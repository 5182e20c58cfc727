package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"bridgescan/enricher/internal/registry"
	"bridgescan/enricher/internal/worker"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// Worker is the slice of the worker manager the API serves
type Worker interface {
	EnrichMessage(ctx context.Context, id int64) (worker.ProcessResult, error)
	Status() worker.Status
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	worker   Worker
	registry *registry.Registry
	logger   *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(w Worker, reg *registry.Registry, logger *zap.Logger) *Handler {
	return &Handler{
		worker:   w,
		registry: reg,
		logger:   logger,
	}
}

// ==================== Health Check ====================

// HandleHealth returns service health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Version: Version,
	}
	respondJSON(w, http.StatusOK, response)
}

// ==================== Status ====================

// HandleStatus handles GET /api/v1/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := h.worker.Status()

	var uptime time.Duration
	if !status.Started.IsZero() {
		uptime = time.Since(status.Started).Round(time.Second)
	}

	respondJSON(w, http.StatusOK, StatusResponse{Status: status, Uptime: uptime.String()})
}

// ==================== Enrichment ====================

// HandleEnrichMessage handles POST /api/v1/messages/{id}/enrich
// Enriches one stored message immediately, whichever loop is running
func (h *Handler) HandleEnrichMessage(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid message id", nil)
		return
	}

	h.logger.Info("Enriching message on demand", zap.Int64("message_id", id))

	result, err := h.worker.EnrichMessage(r.Context(), id)
	if err != nil {
		if errors.Is(err, worker.ErrMessageNotFound) {
			respondError(w, http.StatusNotFound, "Message not found", nil)
			return
		}
		h.logger.Error("Failed to enrich message",
			zap.Int64("message_id", id),
			zap.Error(err))
		respondError(w, http.StatusBadGateway, "Failed to enrich message", err)
		return
	}

	respondJSON(w, http.StatusOK, EnrichResponse{
		MessageID: result.MessageID,
		Updated:   result.Updated,
		Reason:    result.Reason,
	})
}

// ==================== Chains ====================

// HandleListChains handles GET /api/v1/chains
func (h *Handler) HandleListChains(w http.ResponseWriter, r *http.Request) {
	chains := h.registry.Chains()
	response := ChainsResponse{Chains: make([]ChainSummary, 0, len(chains))}
	for _, c := range chains {
		response.Chains = append(response.Chains, ChainSummary{
			ID:           c.ID,
			Kind:         c.Kind,
			Aliases:      c.Aliases,
			AssetManager: c.AssetManager,
			Assets:       len(c.Assets),
		})
	}
	respondJSON(w, http.StatusOK, response)
}

// ==================== Helper Functions ====================

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but can't send response since headers already written
		fmt.Printf("Failed to encode JSON response: %v\n", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errorMsg := message
	if err != nil {
		errorMsg = fmt.Sprintf("%s: %v", message, err)
	}

	response := ErrorResponse{
		Error:   message,
		Message: errorMsg,
	}

	respondJSON(w, statusCode, response)
}
