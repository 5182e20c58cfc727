package decoder

import (
	"math/big"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"bridgescan/enricher/internal/models"
)

// DecodedPayload is the generic interpretation of a cross-chain message payload
type DecodedPayload struct {
	Action models.ActionKind
	Target string // address the payload acts on, compared against asset managers
	Token  string
	Amount *big.Int
	Call   *DecodedCall
}

// DecodePayload interprets a 0x-prefixed payload. The attempts run in order and
// the first that succeeds wins:
//  1. an RLP transfer list, optionally carrying an execution batch
//  2. an ABI execution batch
//  3. a single ABI function call
//
// Anything that matches none of them is a plain SendMsg.
func DecodePayload(payloadHex string) DecodedPayload {
	raw, err := hexutil.Decode(normalizeHex(payloadHex))
	if err != nil || len(raw) == 0 {
		return DecodedPayload{Action: models.ActionSendMsg}
	}

	if items, err := DecodeRLPList(raw); err == nil {
		if len(items) != 5 {
			return DecodedPayload{Action: models.ActionUnknown}
		}
		t, _ := DecodeTransfer(raw)
		return fromTransfer(t)
	}

	if calls, err := DecodeCallBatch(raw); err == nil {
		if call := PriorityCall(calls); call != nil {
			return fromCall(call)
		}
		return DecodedPayload{Action: models.ActionUnknown}
	}

	if call, err := DecodeFunctionCall(raw); err == nil {
		return fromCall(call)
	}

	return DecodedPayload{Action: models.ActionSendMsg}
}

func fromTransfer(t *Transfer) DecodedPayload {
	out := DecodedPayload{
		Action: models.ActionTransfer,
		Target: RenderAddress(t.To),
		Token:  RenderAddress(t.Token),
		Amount: t.Amount,
	}
	if len(t.Data) == 0 {
		return out
	}

	calls, err := DecodeCallBatch(t.Data)
	if err != nil {
		if single, err := DecodeFunctionCall(t.Data); err == nil {
			calls = []*DecodedCall{single}
		}
	}
	call := PriorityCall(calls)
	if call == nil {
		return out
	}

	out.Action = call.Kind
	out.Call = call
	if call.Target != "" {
		out.Target = call.Target
	}
	if call.Token != "" {
		out.Token = call.Token
	}
	if call.Amount != nil {
		out.Amount = call.Amount
	}
	return out
}

func fromCall(call *DecodedCall) DecodedPayload {
	target := call.Target
	if target == "" {
		target = call.To
	}
	return DecodedPayload{
		Action: call.Kind,
		Target: target,
		Token:  call.Token,
		Amount: call.Amount,
		Call:   call,
	}
}

// RenderAddress turns raw address bytes into their display form: 20-byte
// values as EVM hex, printable text as-is, anything else as 0x hex.
func RenderAddress(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if len(b) == common.AddressLength {
		return common.BytesToAddress(b).Hex()
	}
	if utf8.Valid(b) && printable(string(b)) {
		return string(b)
	}
	return hexutil.Encode(b)
}

func printable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func normalizeHex(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return "0x" + s
}
