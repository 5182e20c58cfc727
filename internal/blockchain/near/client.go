package near

import (
	"context"
	"encoding/hex"
	"encoding/json"
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
	// NativeDecimals is the yoctoNEAR scale
	NativeDecimals = 24
	NativeDenom    = "NEAR"

	eventLogPrefix = "EVENT_JSON:"
	messageEvent   = "Message"
)

// Client reads connection contract events from NEAR transactions
type Client struct {
	rpc     *jsonrpc.Client
	account string
	logger  *zap.Logger
}

// NewClient creates a NEAR handler. The chain's contract field is the
// connection account, used as the sender for transaction status lookups.
func NewClient(chain *registry.Chain, logger *zap.Logger) (*Client, error) {
	if chain.Contract == "" {
		return nil, fmt.Errorf("near chain %s has no connection account configured", chain.ID)
	}
	return &Client{
		rpc:     jsonrpc.NewClient(chain.RPCURL),
		account: chain.Contract,
		logger:  logger.Named("near"),
	}, nil
}

// DecodeAddress renders hex-encoded bytes as the account id they spell
func (c *Client) DecodeAddress(address string) string {
	b, err := hex.DecodeString(strings.TrimPrefix(address, "0x"))
	if err != nil {
		return address
	}
	return string(b)
}

type outcome struct {
	BlockHash string `json:"block_hash"`
	Outcome   struct {
		Logs        []string `json:"logs"`
		TokensBurnt string   `json:"tokens_burnt"`
	} `json:"outcome"`
}

type txStatus struct {
	TransactionOutcome outcome   `json:"transaction_outcome"`
	ReceiptsOutcome    []outcome `json:"receipts_outcome"`
}

type eventLog struct {
	Standard string            `json:"standard"`
	Event    string            `json:"event"`
	Data     []json.RawMessage `json:"data"`
}

// FetchPayload reads the transaction status, sums the burnt gas and extracts
// the Message event payload
func (c *Client) FetchPayload(ctx context.Context, txHash, sn string) (*models.TxPayload, error) {
	var status txStatus
	params := map[string]string{"tx_hash": txHash, "sender_account_id": c.account}
	if err := c.rpc.Call(ctx, "tx", params, &status); err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", txHash, err)
	}

	fee := new(big.Int)
	outcomes := append([]outcome{status.TransactionOutcome}, status.ReceiptsOutcome...)
	payload := "0x"
	found := false
	for _, o := range outcomes {
		if burnt, ok := new(big.Int).SetString(o.Outcome.TokensBurnt, 10); ok {
			fee.Add(fee, burnt)
		}
		if found {
			continue
		}
		for _, line := range o.Outcome.Logs {
			p, ok, err := messagePayload(line)
			if err != nil {
				c.logger.Warn("Failed to decode Message event log",
					zap.String("tx_hash", txHash),
					zap.Error(err))
				continue
			}
			if ok {
				payload, found = p, true
				break
			}
		}
	}

	out := &models.TxPayload{
		Fee:     amount.FormatWithDenom(fee, NativeDecimals, NativeDenom),
		Payload: payload,
	}

	height, err := c.blockHeight(ctx, status.TransactionOutcome.BlockHash)
	if err != nil {
		c.logger.Warn("Failed to resolve block height",
			zap.String("tx_hash", txHash),
			zap.String("block_hash", status.TransactionOutcome.BlockHash),
			zap.Error(err))
	} else {
		out.BlockNumber = &height
	}

	return out, nil
}

func (c *Client) blockHeight(ctx context.Context, blockHash string) (uint64, error) {
	if blockHash == "" {
		return 0, fmt.Errorf("transaction outcome has no block hash")
	}
	var block struct {
		Header struct {
			Height uint64 `json:"height"`
		} `json:"header"`
	}
	if err := c.rpc.Call(ctx, "block", map[string]string{"block_id": blockHash}, &block); err != nil {
		return 0, err
	}
	return block.Header.Height, nil
}

// messagePayload returns the payload of an EVENT_JSON log line carrying a
// Message event. ok is false for any other log line.
func messagePayload(line string) (string, bool, error) {
	if !strings.HasPrefix(line, eventLogPrefix) {
		return "", false, nil
	}
	var ev eventLog
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, eventLogPrefix)), &ev); err != nil {
		return "", false, err
	}
	if ev.Event != messageEvent {
		return "", false, nil
	}
	if len(ev.Data) == 0 {
		return "", false, fmt.Errorf("message event has no data")
	}

	var entry struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(ev.Data[0], &entry); err != nil {
		return "", false, err
	}

	var bytesPayload []byte
	var nums []uint16
	if err := json.Unmarshal(entry.Payload, &nums); err == nil {
		bytesPayload = make([]byte, len(nums))
		for i, n := range nums {
			if n > 0xff {
				return "", false, fmt.Errorf("byte value %d out of range", n)
			}
			bytesPayload[i] = byte(n)
		}
	} else {
		var s string
		if err := json.Unmarshal(entry.Payload, &s); err != nil {
			return "", false, fmt.Errorf("payload is neither a byte array nor a string")
		}
		b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return "", false, fmt.Errorf("payload is not hex: %w", err)
		}
		bytesPayload = b
	}
	return hexutil.Encode(bytesPayload), true, nil
}
