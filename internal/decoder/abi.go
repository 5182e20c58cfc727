// Package decoder holds the pure wire-format decoders used by the chain handlers:
// contract ABI arguments, RLP transfer payloads, Stellar ScVal events and
// Solana anchor events. No function in this package performs I/O.
package decoder

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrUnknownSelector is returned when calldata does not start with a known selector
	ErrUnknownSelector = errors.New("unknown function selector")

	// ErrShortInput is returned when calldata is too short to hold a selector
	ErrShortInput = errors.New("input shorter than selector")
)

const intentTupleSig = "(uint256,address,address,address,uint256,uint256,uint256,bool,uint256,uint256,bytes,bytes,address,bytes)"

// Event topics
var (
	MessageEventTopic       = Topic("Message(uint256,bytes,uint256,uint256,bytes,bytes)")
	IntentFilledTopic       = Topic("IntentFilled(bytes32,(bool,uint256,uint256,bool))")
	IntentCancelledTopic    = Topic("IntentCancelled(bytes32)")
	IntentCreatedTopic      = Topic("IntentCreated(bytes32," + intentTupleSig + ")")
	ReverseSwapTopic        = Topic("ReverseSwap(address,uint256,address)")
	StoredCallRevertedTopic = Topic("StoredCallReverted(bytes32,bytes)")
)

// Function selectors
var (
	FillIntentSelector   = Selector("fillIntent(" + intentTupleSig + ",uint256,uint256,uint256)")
	CreateIntentSelector = Selector("createIntent(" + intentTupleSig + ")")
	CancelIntentSelector = Selector("cancelIntent(" + intentTupleSig + ")")
	TransferSelector     = Selector("transfer(address,uint256)")
	DepositSelector      = Selector("deposit(address,uint256)")
	SupplySelector       = Selector("supply(address,uint256,address,uint16)")
	WithdrawSelector     = Selector("withdraw(address,uint256,address)")
	BorrowSelector       = Selector("borrow(address,uint256,uint256,uint16,address)")
	RepaySelector        = Selector("repay(address,uint256,uint256,address)")
)

// Topic returns the keccak256 hash of an event signature
func Topic(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

// Selector returns the leading 4 bytes of the keccak256 hash of a function signature
func Selector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signature))[:4])
	return sel
}

// Intent is the cross-chain order tuple shared by the intent contract's calls and events.
// Field names match the tuple component names so the ABI codec can map them.
type Intent struct {
	IntentId         *big.Int
	Creator          common.Address
	InputToken       common.Address
	OutputToken      common.Address
	InputAmount      *big.Int
	MinOutputAmount  *big.Int
	Deadline         *big.Int
	AllowPartialFill bool
	SrcChain         *big.Int
	DstChain         *big.Int
	SrcAddress       []byte
	DstAddress       []byte
	Solver           common.Address
	Data             []byte
}

// FillIntent is the argument set of fillIntent
type FillIntent struct {
	Intent         Intent
	InputAmount    *big.Int
	OutputAmount   *big.Int
	ExternalFillId *big.Int
}

// Call is one entry of an (address,uint256,bytes)[] execution batch
type Call struct {
	Addr  common.Address
	Value *big.Int
	Data  []byte
}

// MessageEvent is the generic cross-chain Message log
type MessageEvent struct {
	DstChainId *big.Int
	DstAddress []byte
	ConnSn     *big.Int
	Value      *big.Int
	SrcAddress []byte
	Payload    []byte
}

// ReverseSwapEvent is the migration log
type ReverseSwapEvent struct {
	Token    common.Address
	Amount   *big.Int
	Receiver common.Address
}

var (
	intentType  = mustType("tuple", intentComponents())
	callsType   = mustType("tuple[]", callComponents())
	addressType = mustType("address", nil)
	uint256Type = mustType("uint256", nil)
	uint16Type  = mustType("uint16", nil)
	bytesType   = mustType("bytes", nil)
	bytes32Type = mustType("bytes32", nil)

	intentArgs      = abi.Arguments{{Name: "intent", Type: intentType}}
	callsArgs       = abi.Arguments{{Name: "calls", Type: callsType}}
	fillIntentArgs  = abi.Arguments{{Name: "intent", Type: intentType}, {Name: "inputAmount", Type: uint256Type}, {Name: "outputAmount", Type: uint256Type}, {Name: "externalFillId", Type: uint256Type}}
	messageArgs     = abi.Arguments{{Name: "dstChainId", Type: uint256Type}, {Name: "dstAddress", Type: bytesType}, {Name: "connSn", Type: uint256Type}, {Name: "value", Type: uint256Type}, {Name: "srcAddress", Type: bytesType}, {Name: "payload", Type: bytesType}}
	reverseSwapArgs = abi.Arguments{{Name: "token", Type: addressType}, {Name: "amount", Type: uint256Type}, {Name: "receiver", Type: addressType}}
	bytes32Args     = abi.Arguments{{Name: "id", Type: bytes32Type}}

	transferArgs = abi.Arguments{{Name: "to", Type: addressType}, {Name: "amount", Type: uint256Type}}
	depositArgs  = abi.Arguments{{Name: "token", Type: addressType}, {Name: "amount", Type: uint256Type}}
	supplyArgs   = abi.Arguments{{Name: "asset", Type: addressType}, {Name: "amount", Type: uint256Type}, {Name: "onBehalfOf", Type: addressType}, {Name: "referralCode", Type: uint16Type}}
	withdrawArgs = abi.Arguments{{Name: "asset", Type: addressType}, {Name: "amount", Type: uint256Type}, {Name: "to", Type: addressType}}
	borrowArgs   = abi.Arguments{{Name: "asset", Type: addressType}, {Name: "amount", Type: uint256Type}, {Name: "interestRateMode", Type: uint256Type}, {Name: "referralCode", Type: uint16Type}, {Name: "onBehalfOf", Type: addressType}}
	repayArgs    = abi.Arguments{{Name: "asset", Type: addressType}, {Name: "amount", Type: uint256Type}, {Name: "interestRateMode", Type: uint256Type}, {Name: "onBehalfOf", Type: addressType}}
)

func intentComponents() []abi.ArgumentMarshaling {
	return []abi.ArgumentMarshaling{
		{Name: "intentId", Type: "uint256"},
		{Name: "creator", Type: "address"},
		{Name: "inputToken", Type: "address"},
		{Name: "outputToken", Type: "address"},
		{Name: "inputAmount", Type: "uint256"},
		{Name: "minOutputAmount", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "allowPartialFill", Type: "bool"},
		{Name: "srcChain", Type: "uint256"},
		{Name: "dstChain", Type: "uint256"},
		{Name: "srcAddress", Type: "bytes"},
		{Name: "dstAddress", Type: "bytes"},
		{Name: "solver", Type: "address"},
		{Name: "data", Type: "bytes"},
	}
}

func callComponents() []abi.ArgumentMarshaling {
	return []abi.ArgumentMarshaling{
		{Name: "addr", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "data", Type: "bytes"},
	}
}

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(fmt.Sprintf("decoder: invalid abi type %s: %v", t, err))
	}
	return typ
}

// unpack decodes data into out, turning any codec panic into an error
func unpack(args abi.Arguments, out interface{}, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("abi decode: %v", r)
		}
	}()
	vals, err := args.Unpack(data)
	if err != nil {
		return err
	}
	return args.Copy(out, vals)
}

// EncodeIntent ABI-encodes a single intent tuple
func EncodeIntent(intent Intent) ([]byte, error) {
	return intentArgs.Pack(intent)
}

// DecodeIntent decodes a single ABI-encoded intent tuple
func DecodeIntent(data []byte) (*Intent, error) {
	var out struct{ Intent Intent }
	if err := unpack(intentArgs, &out, data); err != nil {
		return nil, fmt.Errorf("failed to decode intent: %w", err)
	}
	return &out.Intent, nil
}

// EncodeFillIntent ABI-encodes fillIntent arguments without the selector
func EncodeFillIntent(f FillIntent) ([]byte, error) {
	return fillIntentArgs.Pack(f.Intent, f.InputAmount, f.OutputAmount, f.ExternalFillId)
}

// DecodeFillIntent decodes fillIntent arguments without the selector
func DecodeFillIntent(data []byte) (*FillIntent, error) {
	var out FillIntent
	if err := unpack(fillIntentArgs, &out, data); err != nil {
		return nil, fmt.Errorf("failed to decode fillIntent: %w", err)
	}
	return &out, nil
}

// EncodeCalls ABI-encodes an execution batch
func EncodeCalls(calls []Call) ([]byte, error) {
	return callsArgs.Pack(calls)
}

// DecodeCalls decodes an (address,uint256,bytes)[] execution batch
func DecodeCalls(data []byte) ([]Call, error) {
	var out struct{ Calls []Call }
	if err := unpack(callsArgs, &out, data); err != nil {
		return nil, fmt.Errorf("failed to decode calls: %w", err)
	}
	return out.Calls, nil
}

// EncodeMessageEvent ABI-encodes the data section of a Message log
func EncodeMessageEvent(m MessageEvent) ([]byte, error) {
	return messageArgs.Pack(m.DstChainId, m.DstAddress, m.ConnSn, m.Value, m.SrcAddress, m.Payload)
}

// DecodeMessageEvent decodes the data section of a Message log
func DecodeMessageEvent(data []byte) (*MessageEvent, error) {
	var out MessageEvent
	if err := unpack(messageArgs, &out, data); err != nil {
		return nil, fmt.Errorf("failed to decode Message event: %w", err)
	}
	return &out, nil
}

// EncodeReverseSwapEvent ABI-encodes the data section of a ReverseSwap log
func EncodeReverseSwapEvent(e ReverseSwapEvent) ([]byte, error) {
	return reverseSwapArgs.Pack(e.Token, e.Amount, e.Receiver)
}

// DecodeReverseSwapEvent decodes the data section of a ReverseSwap log
func DecodeReverseSwapEvent(data []byte) (*ReverseSwapEvent, error) {
	var out ReverseSwapEvent
	if err := unpack(reverseSwapArgs, &out, data); err != nil {
		return nil, fmt.Errorf("failed to decode ReverseSwap event: %w", err)
	}
	return &out, nil
}

// DecodeBytes32 decodes a lone bytes32 word, as carried by IntentCancelled
func DecodeBytes32(data []byte) (common.Hash, error) {
	var out struct{ Id [32]byte }
	if err := unpack(bytes32Args, &out, data); err != nil {
		return common.Hash{}, fmt.Errorf("failed to decode bytes32: %w", err)
	}
	return common.Hash(out.Id), nil
}
