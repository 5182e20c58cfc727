package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bridgescan/enricher/internal/blockchain"
	"bridgescan/enricher/internal/classifier"
	"bridgescan/enricher/internal/models"
	"bridgescan/enricher/internal/registry"
)

const storedCallRevertedText = "StoredCallReverted"

// HandlerSource resolves a chain id or alias to its handler
type HandlerSource interface {
	Get(chain string) (blockchain.Handler, error)
}

// EnrichService is the per-message enrichment routine shared by both
// ingestion loops and the status API
type EnrichService struct {
	handlers HandlerSource
	registry *registry.Registry
	trace    map[int64]bool
	logger   *zap.Logger
}

// NewEnrichService creates a new enrichment service. Messages whose ids are in
// trace get their derived values logged at info level.
func NewEnrichService(handlers HandlerSource, reg *registry.Registry, trace map[int64]bool, logger *zap.Logger) *EnrichService {
	return &EnrichService{
		handlers: handlers,
		registry: reg,
		trace:    trace,
		logger:   logger.Named("enrich"),
	}
}

// NeedsEnrichment reports whether a message still lacks a fee or a decoded action
func NeedsEnrichment(msg *models.BridgeMessage) bool {
	return !msg.HasFee() || msg.Action() == "" || msg.Action() == models.ActionSendMsg
}

// Enrich fetches the source transaction of msg, classifies it and returns the
// derived columns. The result may be incomplete; callers persist it only when
// Complete reports true.
func (s *EnrichService) Enrich(ctx context.Context, msg *models.BridgeMessage) (*models.Enrichment, error) {
	src, dst := msg.SrcNetwork, msg.DestNetwork
	sn := msg.SN.String()

	handler, err := s.handlers.Get(src)
	if err != nil {
		return nil, err
	}

	payload, err := handler.FetchPayload(ctx, msg.SrcTxHash, sn)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source tx %s on %s: %w", msg.SrcTxHash, src, err)
	}

	cls := classifier.Classify(payload, src, dst, s.registry, classifier.WithAddressDecoder(handler.DecodeAddress))
	srcChain, _ := s.registry.Chain(src)

	if cls.Action == models.ActionSendMsg && srcChain != nil && srcChain.Kind == registry.KindSolana {
		cls = s.solanaFallback(ctx, handler, msg, payload, cls)
	}

	intentTxHash := cls.IntentTxHash

	switch {
	case cls.Action == models.ActionSendMsg && srcChain != nil && srcChain.HashedPayload && msg.DestTx() != "":
		dstPayload, err := s.fetchDest(ctx, msg)
		if err != nil {
			return nil, err
		}
		if dstPayload.StoredCallReverted {
			cls.Action = models.ActionReverted
			cls.ActionText = storedCallRevertedText
			s.logger.Info("Stored call reverted on destination",
				zap.Int64("message_id", msg.ID),
				zap.String("dest_tx_hash", msg.DestTx()))
		}

	case cls.Action == models.ActionCreateIntent:
		intentTxHash = ""
		if msg.DestTx() != "" {
			dstPayload, err := s.fetchDest(ctx, msg)
			if err != nil {
				return nil, err
			}
			intentTxHash = dstPayload.IntentTxHash
		}
	}

	e := &models.Enrichment{
		MessageID:    msg.ID,
		Fee:          payload.Fee,
		ActionType:   cls.Action,
		ActionDetail: cls.ActionText,
		IntentTxHash: intentTxHash,
		Slippage:     payload.Slippage,
		BlockNumber:  payload.BlockNumber,
	}

	if s.trace[msg.ID] {
		fields := []zap.Field{
			zap.Int64("message_id", msg.ID),
			zap.String("src_tx_hash", msg.SrcTxHash),
			zap.String("fee", e.Fee),
			zap.String("action_type", string(e.ActionType)),
			zap.String("action_detail", e.ActionDetail),
			zap.String("intent_tx_hash", e.IntentTxHash),
			zap.String("slippage", e.Slippage),
			zap.Bool("complete", e.Complete()),
		}
		if e.BlockNumber != nil {
			fields = append(fields, zap.Uint64("block_number", *e.BlockNumber))
		}
		s.logger.Info("Traced enrichment", fields...)
	}

	return e, nil
}

// solanaFallback re-classifies a SendMsg result using the payload located by
// connection sequence number
func (s *EnrichService) solanaFallback(ctx context.Context, handler blockchain.Handler, msg *models.BridgeMessage, payload *models.TxPayload, cls models.Classification) models.Classification {
	fb, ok := blockchain.Fallback(handler)
	if !ok {
		return cls
	}

	raw, err := fb.FetchPayloadBySn(ctx, msg.SrcTxHash, msg.SN.String())
	if err != nil {
		s.logger.Warn("Sequence number lookup failed",
			zap.Int64("message_id", msg.ID),
			zap.String("src_tx_hash", msg.SrcTxHash),
			zap.Error(err))
		return cls
	}
	if raw == "" || raw == "0x" {
		return cls
	}

	retry := *payload
	retry.Payload = raw
	return classifier.Classify(&retry, msg.SrcNetwork, msg.DestNetwork, s.registry, classifier.WithAddressDecoder(handler.DecodeAddress))
}

func (s *EnrichService) fetchDest(ctx context.Context, msg *models.BridgeMessage) (*models.TxPayload, error) {
	handler, err := s.handlers.Get(msg.DestNetwork)
	if err != nil {
		return nil, err
	}
	payload, err := handler.FetchPayload(ctx, msg.DestTx(), msg.SN.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch destination tx %s on %s: %w", msg.DestTx(), msg.DestNetwork, err)
	}
	return payload, nil
}
