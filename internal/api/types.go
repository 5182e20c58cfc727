package api

import "bridgescan/enricher/internal/worker"

// ==================== Enrichment ====================

// EnrichResponse represents the outcome of an on-demand enrichment
type EnrichResponse struct {
	MessageID int64  `json:"message_id"`
	Updated   bool   `json:"updated"`
	Reason    string `json:"reason,omitempty"`
}

// ==================== Status ====================

// StatusResponse represents the state of the running loop
type StatusResponse struct {
	worker.Status
	Uptime string `json:"uptime"`
}

// ==================== Chains ====================

// ChainSummary describes one configured network
type ChainSummary struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Aliases      []string `json:"aliases,omitempty"`
	AssetManager string   `json:"asset_manager,omitempty"`
	Assets       int      `json:"assets"`
}

// ChainsResponse represents the configured networks
type ChainsResponse struct {
	Chains []ChainSummary `json:"chains"`
}

// ==================== Error Response ====================

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==================== Health Check ====================

// HealthResponse represents health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
