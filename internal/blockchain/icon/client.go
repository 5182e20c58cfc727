package icon

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"bridgescan/enricher/internal/amount"
	"bridgescan/enricher/internal/blockchain/jsonrpc"
	"bridgescan/enricher/internal/models"
	"bridgescan/enricher/internal/registry"
)

const (
	// NativeDecimals is the loop scale of ICX
	NativeDecimals = 18
	NativeDenom    = "ICX"

	messageSigPrefix = "Message("
)

// Client reads connection SCORE events from ICON transaction results
type Client struct {
	rpc      *jsonrpc.Client
	contract string
	logger   *zap.Logger
}

// NewClient creates an ICON handler. When the chain entry names the
// connection SCORE, only its Message events are considered.
func NewClient(chain *registry.Chain, logger *zap.Logger) *Client {
	return &Client{
		rpc:      jsonrpc.NewClient(chain.RPCURL),
		contract: chain.Contract,
		logger:   logger.Named("icon"),
	}
}

// DecodeAddress renders hex-encoded bytes as the address string they spell
func (c *Client) DecodeAddress(address string) string {
	b, err := hex.DecodeString(strings.TrimPrefix(address, "0x"))
	if err != nil {
		return address
	}
	return string(b)
}

type eventLog struct {
	ScoreAddress string   `json:"scoreAddress"`
	Indexed      []string `json:"indexed"`
	Data         []string `json:"data"`
}

type transactionResult struct {
	Status      string     `json:"status"`
	BlockHeight string     `json:"blockHeight"`
	StepUsed    string     `json:"stepUsed"`
	StepPrice   string     `json:"stepPrice"`
	EventLogs   []eventLog `json:"eventLogs"`
}

// FetchPayload reads the transaction result for txHash
func (c *Client) FetchPayload(ctx context.Context, txHash, sn string) (*models.TxPayload, error) {
	var result transactionResult
	if err := c.rpc.Call(ctx, "icx_getTransactionResult", map[string]string{"txHash": txHash}, &result); err != nil {
		return nil, fmt.Errorf("failed to get transaction result %s: %w", txHash, err)
	}

	stepUsed, err := hexutil.DecodeBig(result.StepUsed)
	if err != nil {
		return nil, fmt.Errorf("invalid stepUsed %q: %w", result.StepUsed, err)
	}
	stepPrice, err := hexutil.DecodeBig(result.StepPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid stepPrice %q: %w", result.StepPrice, err)
	}

	out := &models.TxPayload{
		Fee:     amount.FormatWithDenom(new(big.Int).Mul(stepUsed, stepPrice), NativeDecimals, NativeDenom),
		Payload: "0x",
	}
	if height, err := hexutil.DecodeUint64(result.BlockHeight); err == nil {
		out.BlockNumber = &height
	} else {
		c.logger.Warn("Transaction result has no numeric block height",
			zap.String("tx_hash", txHash),
			zap.String("block_height", result.BlockHeight))
	}

	for _, l := range result.EventLogs {
		if len(l.Indexed) == 0 || !strings.HasPrefix(l.Indexed[0], messageSigPrefix) {
			continue
		}
		if c.contract != "" && !strings.EqualFold(l.ScoreAddress, c.contract) {
			continue
		}
		if len(l.Data) == 0 {
			c.logger.Warn("Message event without data",
				zap.String("tx_hash", txHash))
			continue
		}
		out.Payload = "0x" + strings.TrimPrefix(l.Data[len(l.Data)-1], "0x")
		break
	}

	return out, nil
}
