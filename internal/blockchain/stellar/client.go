package stellar

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stellar/go/clients/horizonclient"
	"go.uber.org/zap"

	"bridgescan/enricher/internal/amount"
	"bridgescan/enricher/internal/blockchain/jsonrpc"
	"bridgescan/enricher/internal/decoder"
	"bridgescan/enricher/internal/models"
	"bridgescan/enricher/internal/registry"
)

const (
	// NativeDecimals is the stroop scale of XLM
	NativeDecimals = 7
	NativeDenom    = "XLM"

	messageTopic = "Message"
)

// Client fetches bridge events from Soroban RPC and fees from Horizon
type Client struct {
	rpc     *jsonrpc.Client
	horizon *horizonclient.Client
	chain   *registry.Chain
	logger  *zap.Logger
}

// NewClient creates a Stellar handler. horizonURL serves the fee lookup.
func NewClient(chain *registry.Chain, horizonURL string, logger *zap.Logger) *Client {
	return &Client{
		rpc: jsonrpc.NewClient(chain.RPCURL),
		horizon: &horizonclient.Client{
			HorizonURL: horizonURL,
			HTTP:       &http.Client{Timeout: jsonrpc.DefaultTimeout},
		},
		chain:  chain,
		logger: logger.Named("stellar"),
	}
}

// DecodeAddress renders a hex-encoded ScVal address as a strkey. Anything
// else is returned as given.
func (c *Client) DecodeAddress(address string) string {
	addr, err := decoder.DecodeScValAddressHex(address)
	if err != nil {
		return address
	}
	return addr
}

type transactionResult struct {
	Status string `json:"status"`
	Ledger uint64 `json:"ledger"`
	Events struct {
		ContractEventsXdr [][]string `json:"contractEventsXdr"`
	} `json:"events"`
}

// FetchPayload looks for the Message contract event in txHash. A transaction
// without one yields the empty payload.
func (c *Client) FetchPayload(ctx context.Context, txHash, sn string) (*models.TxPayload, error) {
	var result transactionResult
	if err := c.rpc.Call(ctx, "getTransaction", map[string]string{"hash": txHash}, &result); err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", txHash, err)
	}

	payload, found := c.findMessage(txHash, result.Events.ContractEventsXdr)
	if !found {
		return models.EmptyPayload(), nil
	}

	fee, err := c.fee(txHash)
	if err != nil {
		return nil, err
	}

	ledger := result.Ledger
	return &models.TxPayload{
		Fee:         fee,
		Payload:     hexutil.Encode(payload),
		BlockNumber: &ledger,
	}, nil
}

func (c *Client) findMessage(txHash string, groups [][]string) ([]byte, bool) {
	for _, events := range groups {
		for _, raw := range events {
			event, err := decoder.DecodeContractEvent(raw)
			if err != nil {
				c.logger.Debug("Skipping undecodable contract event",
					zap.String("tx_hash", txHash),
					zap.Error(err))
				continue
			}
			if !event.HasTopic(messageTopic) {
				continue
			}

			payload, err := messagePayload(event)
			if err != nil {
				c.logger.Warn("Failed to decode Message event",
					zap.String("tx_hash", txHash),
					zap.String("contract", event.ContractAddress),
					zap.Error(err))
				continue
			}
			return payload, true
		}
	}
	return nil, false
}

// messagePayload extracts the payload field of a Message event's data map
func messagePayload(event *decoder.LedgerEvent) ([]byte, error) {
	native, err := decoder.ScValToNative(event.Data)
	if err != nil {
		return nil, err
	}
	fields, ok := native.(*decoder.OrderedMap)
	if !ok {
		return nil, fmt.Errorf("message data is %T, want map", native)
	}
	v, ok := fields.Get("payload")
	if !ok {
		return nil, fmt.Errorf("message data has no payload field")
	}
	switch p := v.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	case nil:
		return []byte{}, nil
	}
	return nil, fmt.Errorf("payload field is %T", v)
}

func (c *Client) fee(txHash string) (string, error) {
	tx, err := c.horizon.TransactionDetail(txHash)
	if err != nil {
		return "", fmt.Errorf("failed to get fee for %s from horizon: %w", txHash, err)
	}
	return amount.FormatWithDenom(big.NewInt(tx.FeeCharged), NativeDecimals, NativeDenom), nil
}
