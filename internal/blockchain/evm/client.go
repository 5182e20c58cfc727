package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"bridgescan/enricher/internal/amount"
	"bridgescan/enricher/internal/decoder"
	"bridgescan/enricher/internal/models"
	"bridgescan/enricher/internal/registry"
)

// NativeDecimals is the scale of every EVM chain's native currency
const NativeDecimals = 18

// Client fetches and decodes bridge transactions on an EVM chain
type Client struct {
	ethClient       *ethclient.Client
	chain           *registry.Chain
	reg             *registry.Registry
	defaultGasPrice *big.Int
	logger          *zap.Logger
}

// NewClient creates an EVM handler for chain. defaultGasPrice is used when
// neither the receipt nor the chain entry carries a gas price.
func NewClient(ctx context.Context, chain *registry.Chain, reg *registry.Registry, defaultGasPrice *big.Int, logger *zap.Logger) (*Client, error) {
	ethClient, err := ethclient.DialContext(ctx, chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint for %s: %w", chain.ID, err)
	}

	gasPrice := defaultGasPrice
	if chain.DefaultGasPriceWei != "" {
		p, ok := new(big.Int).SetString(chain.DefaultGasPriceWei, 10)
		if !ok {
			ethClient.Close()
			return nil, fmt.Errorf("invalid default_gas_price_wei %q for %s", chain.DefaultGasPriceWei, chain.ID)
		}
		gasPrice = p
	}
	if gasPrice == nil {
		gasPrice = new(big.Int)
	}

	return &Client{
		ethClient:       ethClient,
		chain:           chain,
		reg:             reg,
		defaultGasPrice: gasPrice,
		logger:          logger.Named("evm").With(zap.String("chain", chain.ID)),
	}, nil
}

// Close closes the underlying RPC connection
func (c *Client) Close() {
	c.ethClient.Close()
}

// DecodeAddress returns EVM addresses unchanged
func (c *Client) DecodeAddress(address string) string {
	return address
}

// receipt pairs the typed receipt with the fields go-ethereum's Receipt drops
type receipt struct {
	*types.Receipt
	To *common.Address
}

func (c *Client) getReceipt(ctx context.Context, txHash string) (*receipt, error) {
	var raw json.RawMessage
	if err := c.ethClient.Client().CallContext(ctx, &raw, "eth_getTransactionReceipt", txHash); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ethereum.NotFound
	}

	var r types.Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("malformed receipt: %w", err)
	}
	var extra struct {
		To *common.Address `json:"to"`
	}
	if err := json.Unmarshal(raw, &extra); err != nil {
		return nil, fmt.Errorf("malformed receipt: %w", err)
	}
	return &receipt{Receipt: &r, To: extra.To}, nil
}

func (c *Client) getInput(ctx context.Context, txHash string) ([]byte, error) {
	var tx struct {
		Input hexutil.Bytes `json:"input"`
	}
	if err := c.ethClient.Client().CallContext(ctx, &tx, "eth_getTransactionByHash", txHash); err != nil {
		return nil, err
	}
	return tx.Input, nil
}

// logSignals is what a receipt's logs say about the transaction
type logSignals struct {
	filled       bool
	cancelled    bool
	reverseSwap  *types.Log
	message      *types.Log
	intentCreate bool
	reverted     bool
}

func scanLogs(logs []*types.Log) logSignals {
	var s logSignals
	for _, l := range logs {
		if l == nil || len(l.Topics) == 0 {
			continue
		}
		switch l.Topics[0] {
		case decoder.IntentFilledTopic:
			s.filled = true
		case decoder.IntentCancelledTopic:
			s.cancelled = true
		case decoder.ReverseSwapTopic:
			if s.reverseSwap == nil {
				s.reverseSwap = l
			}
		case decoder.MessageEventTopic:
			if s.message == nil {
				s.message = l
			}
		case decoder.IntentCreatedTopic:
			s.intentCreate = true
		case decoder.StoredCallRevertedTopic:
			s.reverted = true
		}
	}
	return s
}

// FetchPayload fetches the receipt for txHash and extracts the fee and the
// bridge signal it carries. Decode failures are logged and degrade to a
// fee-only payload.
func (c *Client) FetchPayload(ctx context.Context, txHash, sn string) (*models.TxPayload, error) {
	r, err := c.getReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt for %s: %w", txHash, err)
	}

	gasPrice := r.EffectiveGasPrice
	if gasPrice == nil || gasPrice.Sign() == 0 {
		gasPrice = c.defaultGasPrice
	}
	fee := new(big.Int).Mul(new(big.Int).SetUint64(r.GasUsed), gasPrice)

	out := &models.TxPayload{
		Fee:     amount.FormatWithDenom(fee, NativeDecimals, c.chain.Denom),
		Payload: "0x",
	}
	if r.BlockNumber != nil {
		block := r.BlockNumber.Uint64()
		out.BlockNumber = &block
	}

	signals := scanLogs(r.Logs)
	out.StoredCallReverted = signals.reverted
	if signals.intentCreate {
		out.IntentTxHash = r.TxHash.Hex()
	}

	switch {
	case signals.filled || signals.cancelled:
		c.applyIntent(ctx, txHash, signals.filled, out)
	case signals.reverseSwap != nil:
		c.applyMigration(signals.reverseSwap, out)
	case signals.message != nil:
		msg, err := decoder.DecodeMessageEvent(signals.message.Data)
		if err != nil {
			c.logger.Warn("Failed to decode Message event",
				zap.String("tx_hash", txHash),
				zap.Error(err))
			break
		}
		out.Payload = hexutil.Encode(msg.Payload)
		if r.To != nil {
			out.DstAddress = r.To.Hex()
		}
	}

	return out, nil
}

func (c *Client) applyIntent(ctx context.Context, txHash string, filled bool, out *models.TxPayload) {
	input, err := c.getInput(ctx, txHash)
	if err != nil {
		c.logger.Warn("Failed to fetch transaction input",
			zap.String("tx_hash", txHash),
			zap.Error(err))
		return
	}

	fill, err := DecodeIntentInput(input)
	if err != nil {
		c.logger.Warn("Failed to decode intent call data",
			zap.String("tx_hash", txHash),
			zap.Error(err))
		return
	}

	intent := fill.Intent
	inName, inDecimals := c.tokenInfo(intent.SrcChain, intent.InputToken)
	outName, outDecimals := c.tokenInfo(intent.DstChain, intent.OutputToken)

	out.IntentFilled = filled
	out.IntentCancelled = !filled
	out.SwapInputToken = intent.InputToken.Hex()
	out.SwapOutputToken = intent.OutputToken.Hex()

	if filled {
		out.ActionText = fmt.Sprintf("IntentFilled %s %s -> %s %s",
			amount.Format(fill.InputAmount, inDecimals), inName,
			amount.Format(fill.OutputAmount, outDecimals), outName)
		out.Slippage = amount.Percent(fill.OutputAmount, intent.MinOutputAmount)
		return
	}

	out.ActionText = fmt.Sprintf("IntentCancelled %s %s -> %s %s",
		amount.Format(intent.InputAmount, inDecimals), inName,
		amount.Format(intent.MinOutputAmount, outDecimals), outName)
}

func (c *Client) applyMigration(l *types.Log, out *models.TxPayload) {
	swap, err := decoder.DecodeReverseSwapEvent(l.Data)
	if err != nil {
		c.logger.Warn("Failed to decode ReverseSwap event",
			zap.String("tx_hash", l.TxHash.Hex()),
			zap.Error(err))
		return
	}

	name, decimals := unknownToken(swap.Token.Hex())
	if asset, ok := c.chain.Asset(swap.Token.Hex()); ok {
		name, decimals = asset.Name, asset.Decimals
	}

	out.ReverseSwap = true
	out.SwapInputToken = swap.Token.Hex()
	out.ActionText = fmt.Sprintf("Migration %s %s", amount.Format(swap.Amount, decimals), name)
}

// tokenInfo resolves a token on the chain identified by a numeric intent chain id.
// Unknown chains and tokens render as the lowercase address with 18 decimals.
func (c *Client) tokenInfo(chainID *big.Int, token common.Address) (string, int32) {
	name, decimals := unknownToken(token.Hex())
	if chainID == nil {
		return name, decimals
	}
	chain, ok := c.reg.Chain(chainID.String())
	if !ok {
		return name, decimals
	}
	if asset, ok := chain.Asset(token.Hex()); ok {
		return asset.Name, asset.Decimals
	}
	return name, decimals
}

// ErrNoIntentCall is returned when no decode attempt recovers an intent call
var ErrNoIntentCall = errors.New("no intent call found in input")

// DecodeIntentInput recovers the intent and amounts from a fill or cancel
// transaction. The attempts run in order and the first success wins:
//  1. a direct fillIntent or cancelIntent call, by selector
//  2. an execution batch whose inner calls include fillIntent or cancelIntent
//  3. the arguments read as a fillIntent tuple whatever the selector
//
// A cancel yields a FillIntent whose amounts are nil.
func DecodeIntentInput(input []byte) (*decoder.FillIntent, error) {
	if len(input) < 4 {
		return nil, decoder.ErrShortInput
	}

	attempts := []func() (*decoder.FillIntent, error){
		func() (*decoder.FillIntent, error) { return decodeDirect(input) },
		func() (*decoder.FillIntent, error) {
			calls, err := decoder.DecodeCalls(input[4:])
			if err != nil {
				return nil, err
			}
			for _, sel := range [][4]byte{decoder.FillIntentSelector, decoder.CancelIntentSelector} {
				if data, ok := decoder.FindCall(calls, sel); ok {
					return decodeDirect(data)
				}
			}
			return nil, ErrNoIntentCall
		},
		func() (*decoder.FillIntent, error) { return decoder.DecodeFillIntent(input[4:]) },
	}

	var errs []error
	for _, attempt := range attempts {
		fill, err := attempt()
		if err == nil {
			return fill, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrNoIntentCall, errors.Join(errs...))
}

func decodeDirect(calldata []byte) (*decoder.FillIntent, error) {
	if len(calldata) < 4 {
		return nil, decoder.ErrShortInput
	}
	switch [4]byte(calldata[:4]) {
	case decoder.FillIntentSelector:
		return decoder.DecodeFillIntent(calldata[4:])
	case decoder.CancelIntentSelector:
		intent, err := decoder.DecodeIntent(calldata[4:])
		if err != nil {
			return nil, err
		}
		return &decoder.FillIntent{Intent: *intent}, nil
	}
	return nil, decoder.ErrUnknownSelector
}

// unknownToken is the display form and scale of an unregistered token
func unknownToken(addr string) (string, int32) {
	return strings.ToLower(addr), amount.DefaultDecimals
}
