package solana

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"bridgescan/enricher/internal/amount"
	"bridgescan/enricher/internal/decoder"
	"bridgescan/enricher/internal/models"
	"bridgescan/enricher/internal/registry"
)

const (
	// NativeDecimals is the lamport scale of SOL
	NativeDecimals = 9
	NativeDenom    = "SOL"

	programDataPrefix = "Program data: "
)

// ErrEventNotFound is returned by FetchPayloadBySn when no SendMessage event carries sn
var ErrEventNotFound = errors.New("no SendMessage event for sequence number")

// eventIxTag prefixes anchor events emitted through a self-CPI instruction
var eventIxTag = func() []byte {
	sum := sha256.Sum256([]byte("anchor:event"))
	return sum[:8]
}()

// Client reads connection program events from Solana transactions
type Client struct {
	rpcClient *rpc.Client
	logger    *zap.Logger
}

// NewClient creates a Solana handler
func NewClient(ctx context.Context, chain *registry.Chain, logger *zap.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to solana RPC: %w", err)
	}
	return &Client{
		rpcClient: rpcClient,
		logger:    logger.Named("solana"),
	}, nil
}

// Close closes the RPC connection
func (c *Client) Close() {
	c.rpcClient.Close()
}

// DecodeAddress renders hex-encoded key bytes as base58
func (c *Client) DecodeAddress(address string) string {
	b, err := hex.DecodeString(strings.TrimPrefix(address, "0x"))
	if err != nil || len(b) == 0 {
		return address
	}
	return base58.Encode(b)
}

type transaction struct {
	Slot uint64 `json:"slot"`
	Meta struct {
		Fee               uint64   `json:"fee"`
		LogMessages       []string `json:"logMessages"`
		InnerInstructions []struct {
			Index        int `json:"index"`
			Instructions []struct {
				ProgramID string `json:"programId"`
				Data      string `json:"data"`
			} `json:"instructions"`
		} `json:"innerInstructions"`
	} `json:"meta"`
}

func (c *Client) getTransaction(ctx context.Context, signature string) (*transaction, error) {
	opts := map[string]interface{}{
		"encoding":                       "jsonParsed",
		"maxSupportedTransactionVersion": 0,
	}
	var tx *transaction
	if err := c.rpcClient.CallContext(ctx, &tx, "getTransaction", signature, opts); err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", signature, err)
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction %s not found", signature)
	}
	return tx, nil
}

// FetchPayload takes the message payload from the first SendMessage event in
// the program logs
func (c *Client) FetchPayload(ctx context.Context, txHash, sn string) (*models.TxPayload, error) {
	tx, err := c.getTransaction(ctx, txHash)
	if err != nil {
		return nil, err
	}

	slot := tx.Slot
	out := &models.TxPayload{
		Fee:         amount.FormatWithDenom(new(big.Int).SetUint64(tx.Meta.Fee), NativeDecimals, NativeDenom),
		Payload:     "0x",
		BlockNumber: &slot,
	}

	for _, line := range tx.Meta.LogMessages {
		if !strings.HasPrefix(line, programDataPrefix) {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, programDataPrefix))
		if err != nil {
			continue
		}
		ev, err := decoder.DecodeSendMessage(data)
		if err != nil {
			continue
		}
		out.Payload = hexutil.Encode(ev.Payload)
		break
	}

	return out, nil
}

// FetchPayloadBySn scans inner instructions for an anchor SendMessage event
// whose connection sequence number equals sn and returns its payload hex
func (c *Client) FetchPayloadBySn(ctx context.Context, txHash, sn string) (string, error) {
	want, ok := new(big.Int).SetString(sn, 10)
	if !ok {
		return "", fmt.Errorf("invalid sequence number %q", sn)
	}

	tx, err := c.getTransaction(ctx, txHash)
	if err != nil {
		return "", err
	}

	for _, inner := range tx.Meta.InnerInstructions {
		for _, ix := range inner.Instructions {
			if ix.Data == "" {
				continue
			}
			data := base58.Decode(ix.Data)
			if bytes.HasPrefix(data, eventIxTag) {
				data = data[len(eventIxTag):]
			}
			ev, err := decoder.DecodeSendMessage(data)
			if err != nil {
				continue
			}
			if ev.ConnSn.Cmp(want) == 0 {
				return hexutil.Encode(ev.Payload), nil
			}
			c.logger.Debug("SendMessage event for another sequence number",
				zap.String("tx_hash", txHash),
				zap.String("conn_sn", ev.ConnSn.String()))
		}
	}

	return "", fmt.Errorf("%w %s in %s", ErrEventNotFound, sn, txHash)
}
