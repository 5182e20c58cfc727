package cosmos

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	wasmtypes "github.com/CosmWasm/wasmd/x/wasm/types"
	abci "github.com/cometbft/cometbft/abci/types"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/cosmos-sdk/types/bech32"
	"go.uber.org/zap"

	"bridgescan/enricher/internal/amount"
	"bridgescan/enricher/internal/models"
	"bridgescan/enricher/internal/registry"
)

const (
	// Injective chain configuration
	InjectiveBech32Prefix = "inj"
	InjectiveFeeDenom     = "inj"
	NativeDecimals        = 18
	NativeDenom           = "INJ"

	messageEventType = wasmtypes.CustomContractEventPrefix + "Message"
	payloadAttr      = "payload"
)

// txFetcher is the part of the CometBFT RPC client the handler needs
type txFetcher interface {
	Tx(ctx context.Context, hash []byte, prove bool) (*coretypes.ResultTx, error)
}

// Client reads connection contract events from Injective transactions
type Client struct {
	rpcClient txFetcher
	contract  string
	logger    *zap.Logger
}

// NewClient creates an Injective handler. When the chain entry names a
// connection contract, only Message events emitted by it are considered.
func NewClient(chain *registry.Chain, logger *zap.Logger) (*Client, error) {
	rpcClient, err := rpchttp.New(chain.RPCURL, "/websocket")
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}
	return newClient(rpcClient, chain.Contract, logger), nil
}

func newClient(rpc txFetcher, contract string, logger *zap.Logger) *Client {
	return &Client{
		rpcClient: rpc,
		contract:  contract,
		logger:    logger.Named("injective"),
	}
}

// DecodeAddress turns hex bytes into a bech32 address. Bytes that already
// spell a valid bech32 string are returned as that string.
func (c *Client) DecodeAddress(address string) string {
	b, err := hex.DecodeString(strings.TrimPrefix(address, "0x"))
	if err != nil || len(b) == 0 {
		return address
	}
	if utf8.Valid(b) {
		if _, _, err := bech32.DecodeAndConvert(string(b)); err == nil {
			return string(b)
		}
	}
	encoded, err := bech32.ConvertAndEncode(InjectiveBech32Prefix, b)
	if err != nil {
		return address
	}
	return encoded
}

// FetchPayload looks up txHash and extracts the fee, height and Message payload
func (c *Client) FetchPayload(ctx context.Context, txHash, sn string) (*models.TxPayload, error) {
	hashBytes, err := hex.DecodeString(strings.TrimPrefix(txHash, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid tx hash: %w", err)
	}

	result, err := c.rpcClient.Tx(ctx, hashBytes, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", txHash, err)
	}

	return c.payloadFromResult(txHash, result), nil
}

func (c *Client) payloadFromResult(txHash string, result *coretypes.ResultTx) *models.TxPayload {
	out := &models.TxPayload{Fee: "0 " + NativeDenom, Payload: "0x"}
	if result.Height > 0 {
		height := uint64(result.Height)
		out.BlockNumber = &height
	}

	foundPayload := false
	for _, event := range result.TxResult.Events {
		switch event.Type {
		case sdk.EventTypeTx:
			if v, ok := attribute(event.Attributes, sdk.AttributeKeyFee); ok {
				out.Fee = c.formatFee(txHash, v)
			}
		case messageEventType:
			if foundPayload {
				continue
			}
			if c.contract != "" {
				if addr, _ := attribute(event.Attributes, wasmtypes.AttributeKeyContractAddr); addr != c.contract {
					continue
				}
			}
			if v, ok := attribute(event.Attributes, payloadAttr); ok {
				out.Payload = normalizeHex(v)
				foundPayload = true
			}
		}
	}
	return out
}

func (c *Client) formatFee(txHash, raw string) string {
	coins, err := sdk.ParseCoinsNormalized(raw)
	if err != nil {
		c.logger.Warn("Failed to parse fee coins",
			zap.String("tx_hash", txHash),
			zap.String("fee", raw),
			zap.Error(err))
		return "0 " + NativeDenom
	}
	return amount.FormatWithDenom(coins.AmountOf(InjectiveFeeDenom).BigInt(), NativeDecimals, NativeDenom)
}

func attribute(attrs []abci.EventAttribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

func normalizeHex(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return "0x" + s[2:]
	}
	return "0x" + s
}
