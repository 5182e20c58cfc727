package sui

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"bridgescan/enricher/internal/amount"
	"bridgescan/enricher/internal/models"
	"bridgescan/enricher/internal/registry"
)

const (
	// NativeDecimals is the MIST scale of SUI
	NativeDecimals = 9
	NativeDenom    = "SUI"
)

// Client fetches connection Message events from a Sui fullnode
type Client struct {
	rpcClient *rpc.Client
	eventType string
	logger    *zap.Logger
}

// NewClient creates a Sui handler. The chain's contract field holds the fully
// qualified Message event type.
func NewClient(ctx context.Context, chain *registry.Chain, logger *zap.Logger) (*Client, error) {
	if chain.Contract == "" {
		return nil, fmt.Errorf("sui chain %s has no Message event type configured", chain.ID)
	}
	rpcClient, err := rpc.DialContext(ctx, chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sui RPC: %w", err)
	}
	return &Client{
		rpcClient: rpcClient,
		eventType: chain.Contract,
		logger:    logger.Named("sui"),
	}, nil
}

// Close closes the RPC connection
func (c *Client) Close() {
	c.rpcClient.Close()
}

// DecodeAddress renders hex-encoded bytes as the UTF-8 string they hold
func (c *Client) DecodeAddress(address string) string {
	b, err := hex.DecodeString(strings.TrimPrefix(address, "0x"))
	if err != nil {
		return address
	}
	return string(b)
}

type transactionBlock struct {
	Checkpoint string `json:"checkpoint"`
	Effects    struct {
		GasUsed struct {
			ComputationCost string `json:"computationCost"`
			StorageCost     string `json:"storageCost"`
			StorageRebate   string `json:"storageRebate"`
		} `json:"gasUsed"`
	} `json:"effects"`
	Events []struct {
		Type       string `json:"type"`
		ParsedJSON struct {
			Payload json.RawMessage `json:"payload"`
		} `json:"parsedJson"`
	} `json:"events"`
}

var blockOptions = map[string]bool{
	"showInput":          false,
	"showRawInput":       false,
	"showEffects":        true,
	"showEvents":         true,
	"showObjectChanges":  false,
	"showBalanceChanges": false,
	"showRawEffects":     false,
}

// FetchPayload reads the transaction block for digest txHash
func (c *Client) FetchPayload(ctx context.Context, txHash, sn string) (*models.TxPayload, error) {
	var block *transactionBlock
	if err := c.rpcClient.CallContext(ctx, &block, "sui_getTransactionBlock", txHash, blockOptions); err != nil {
		return nil, fmt.Errorf("failed to get transaction block %s: %w", txHash, err)
	}
	if block == nil {
		return nil, fmt.Errorf("transaction block %s not found", txHash)
	}

	for _, event := range block.Events {
		if event.Type != c.eventType {
			continue
		}

		payload, err := decodePayloadField(event.ParsedJSON.Payload)
		if err != nil {
			c.logger.Warn("Failed to decode Message payload",
				zap.String("tx_hash", txHash),
				zap.Error(err))
			payload = nil
		}

		fee, err := gasFee(block)
		if err != nil {
			return nil, fmt.Errorf("invalid gas summary for %s: %w", txHash, err)
		}

		out := &models.TxPayload{
			Fee:     amount.FormatWithDenom(fee, NativeDecimals, NativeDenom),
			Payload: hexutil.Encode(payload),
		}
		if checkpoint, err := strconv.ParseUint(block.Checkpoint, 10, 64); err == nil {
			out.BlockNumber = &checkpoint
		}
		return out, nil
	}

	return models.EmptyPayload(), nil
}

// gasFee is computation plus storage minus the storage rebate
func gasFee(block *transactionBlock) (*big.Int, error) {
	g := block.Effects.GasUsed
	total := new(big.Int)
	for i, v := range []string{g.ComputationCost, g.StorageCost, g.StorageRebate} {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, fmt.Errorf("not an integer: %q", v)
		}
		if i == 2 {
			total.Sub(total, n)
		} else {
			total.Add(total, n)
		}
	}
	return total, nil
}

// decodePayloadField accepts the payload as a JSON array of byte values or a
// base64 string
func decodePayloadField(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var nums []uint16
	if err := json.Unmarshal(raw, &nums); err == nil {
		out := make([]byte, len(nums))
		for i, n := range nums {
			if n > 0xff {
				return nil, fmt.Errorf("byte value %d out of range", n)
			}
			out[i] = byte(n)
		}
		return out, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("payload is neither a byte array nor a string")
	}
	return base64.StdEncoding.DecodeString(s)
}
