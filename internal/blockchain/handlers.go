// Package blockchain holds the per-chain transaction handlers and the
// registry that maps network identifiers to them.
package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"bridgescan/enricher/internal/blockchain/cosmos"
	"bridgescan/enricher/internal/blockchain/evm"
	"bridgescan/enricher/internal/blockchain/icon"
	"bridgescan/enricher/internal/blockchain/near"
	"bridgescan/enricher/internal/blockchain/solana"
	"bridgescan/enricher/internal/blockchain/stellar"
	"bridgescan/enricher/internal/blockchain/sui"
	"bridgescan/enricher/internal/metrics"
	"bridgescan/enricher/internal/models"
	"bridgescan/enricher/internal/registry"
)

// ErrNoHandler is returned for a network with no registered handler
var ErrNoHandler = errors.New("no handler registered for chain")

// Handler fetches and decodes one transaction on a specific chain
type Handler interface {
	FetchPayload(ctx context.Context, txHash, sn string) (*models.TxPayload, error)
	DecodeAddress(address string) string
}

// FallbackHandler is implemented by chains that can locate a message payload
// by its connection sequence number when the primary decode finds nothing
type FallbackHandler interface {
	FetchPayloadBySn(ctx context.Context, txHash, sn string) (string, error)
}

// Options are the handler settings that do not live in the chain registry
type Options struct {
	DefaultGasPriceWei *big.Int
	HorizonURL         string
}

// Handlers maps chain ids and their aliases to handlers. It is read-only
// once built, apart from Register used by tests and wiring code.
type Handlers struct {
	mu      sync.RWMutex
	byChain map[string]Handler
	closers []func()
	logger  *zap.Logger
}

// NewHandlers builds a handler for every registry chain that has an RPC URL.
// Chains without one, or whose handler cannot be built, are skipped and their
// messages fail with ErrNoHandler. It fails only when no handler was built.
func NewHandlers(ctx context.Context, reg *registry.Registry, opts Options, logger *zap.Logger) (*Handlers, error) {
	h := NewEmptyHandlers(logger)

	built := 0
	for _, chain := range reg.Chains() {
		if chain.RPCURL == "" {
			h.logger.Warn("Chain has no RPC URL, skipping handler",
				zap.String("chain", chain.ID))
			continue
		}

		handler, closer, err := newHandler(ctx, chain, reg, opts, logger)
		if err != nil {
			h.logger.Error("Failed to create chain handler, skipping",
				zap.String("chain", chain.ID),
				zap.String("kind", chain.Kind),
				zap.Error(err))
			continue
		}
		if closer != nil {
			h.closers = append(h.closers, closer)
		}
		h.Register(chain, handler)
		built++
	}

	if built == 0 {
		return nil, fmt.Errorf("no chain handlers could be created from %d registry chains", len(reg.Chains()))
	}

	h.logger.Info("Chain handlers initialized", zap.Int("handlers", built), zap.Int("keys", h.Len()))
	return h, nil
}

// NewEmptyHandlers returns a registry with no handlers
func NewEmptyHandlers(logger *zap.Logger) *Handlers {
	return &Handlers{
		byChain: make(map[string]Handler),
		logger:  logger.Named("handlers"),
	}
}

func newHandler(ctx context.Context, chain *registry.Chain, reg *registry.Registry, opts Options, logger *zap.Logger) (Handler, func(), error) {
	switch chain.Kind {
	case registry.KindEVM:
		c, err := evm.NewClient(ctx, chain, reg, opts.DefaultGasPriceWei, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case registry.KindStellar:
		return stellar.NewClient(chain, opts.HorizonURL, logger), nil, nil
	case registry.KindSui:
		c, err := sui.NewClient(ctx, chain, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case registry.KindSolana:
		c, err := solana.NewClient(ctx, chain, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case registry.KindInjective:
		c, err := cosmos.NewClient(chain, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil
	case registry.KindNear:
		c, err := near.NewClient(chain, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil
	case registry.KindIcon:
		return icon.NewClient(chain, logger), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown chain kind %q", chain.Kind)
}

// Register installs handler under the chain id and all of its aliases
func (h *Handlers) Register(chain *registry.Chain, handler Handler) {
	timed := &timedHandler{chain: chain.ID, inner: handler}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, key := range append([]string{chain.ID}, chain.Aliases...) {
		h.byChain[key] = timed
	}
}

// Get returns the handler for a chain id or alias
func (h *Handlers) Get(chain string) (Handler, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, ok := h.byChain[chain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, chain)
	}
	return handler, nil
}

// Len returns the number of registered keys
func (h *Handlers) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byChain)
}

// Close releases every handler's RPC connection
func (h *Handlers) Close() {
	for _, closeFn := range h.closers {
		closeFn()
	}
	h.closers = nil
}

// timedHandler records fetch latency and failures per chain
type timedHandler struct {
	chain string
	inner Handler
}

func (t *timedHandler) FetchPayload(ctx context.Context, txHash, sn string) (*models.TxPayload, error) {
	start := time.Now()
	payload, err := t.inner.FetchPayload(ctx, txHash, sn)
	metrics.FetchSeconds.WithLabelValues(t.chain).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchErrors.WithLabelValues(t.chain).Inc()
	}
	return payload, err
}

func (t *timedHandler) DecodeAddress(address string) string {
	return t.inner.DecodeAddress(address)
}

// FetchPayloadBySn forwards to the wrapped handler when it supports the
// sequence-number lookup
func (t *timedHandler) FetchPayloadBySn(ctx context.Context, txHash, sn string) (string, error) {
	fb, ok := t.inner.(FallbackHandler)
	if !ok {
		return "", fmt.Errorf("chain %s has no sequence number lookup", t.chain)
	}
	return fb.FetchPayloadBySn(ctx, txHash, sn)
}

// Fallback returns the sequence-number lookup for handler, if the chain has one
func Fallback(handler Handler) (FallbackHandler, bool) {
	if t, ok := handler.(*timedHandler); ok {
		if _, ok := t.inner.(FallbackHandler); !ok {
			return nil, false
		}
		return t, true
	}
	fb, ok := handler.(FallbackHandler)
	return fb, ok
}
