package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"bridgescan/enricher/internal/models"
)

// DecodedCall is a function call recovered from calldata
type DecodedCall struct {
	Name   string
	Kind   models.ActionKind
	Target string // contract the call is sent to, set by the caller when known
	Token  string
	Amount *big.Int
	To     string
	Intent *Intent
}

type function struct {
	name string
	kind models.ActionKind
	args abi.Arguments
	// extract pulls token, amount and recipient out of the unpacked values
	extract func(values []interface{}, call *DecodedCall)
}

var functions = map[[4]byte]function{
	TransferSelector: {name: "transfer", kind: models.ActionTransfer, args: transferArgs, extract: func(v []interface{}, c *DecodedCall) {
		c.To = addrArg(v, 0)
		c.Amount = uintArg(v, 1)
	}},
	DepositSelector:  {name: "deposit", kind: models.ActionDeposit, args: depositArgs, extract: assetAmount},
	SupplySelector: {name: "supply", kind: models.ActionSupply, args: supplyArgs, extract: assetAmount},
	WithdrawSelector: {name: "withdraw", kind: models.ActionWithdraw, args: withdrawArgs, extract: func(v []interface{}, c *DecodedCall) {
		assetAmount(v, c)
		c.To = addrArg(v, 2)
	}},
	BorrowSelector: {name: "borrow", kind: models.ActionBorrow, args: borrowArgs, extract: assetAmount},
	RepaySelector:  {name: "repay", kind: models.ActionRepay, args: repayArgs, extract: assetAmount},
	CreateIntentSelector: {name: "createIntent", kind: models.ActionCreateIntent, args: intentArgs, extract: intentFields},
	CancelIntentSelector: {name: "cancelIntent", kind: models.ActionCancelIntent, args: intentArgs, extract: intentFields},
}

// callPriority orders call kinds when a batch holds several recognised calls
var callPriority = []string{"supply", "withdraw", "borrow", "repay", "deposit", "createIntent", "cancelIntent", "transfer"}

// DecodeFunctionCall dispatches calldata on its 4-byte selector
func DecodeFunctionCall(calldata []byte) (*DecodedCall, error) {
	if len(calldata) < 4 {
		return nil, ErrShortInput
	}

	var sel [4]byte
	copy(sel[:], calldata[:4])
	fn, ok := functions[sel]
	if !ok {
		return nil, ErrUnknownSelector
	}

	values, err := unpackValues(fn.args, calldata[4:])
	if err != nil {
		return nil, err
	}

	call := &DecodedCall{Name: fn.name, Kind: fn.kind}
	fn.extract(values, call)
	return call, nil
}

// DecodeCallBatch decodes an execution batch and every call inside it that
// has a known selector. Unrecognised inner calls are dropped.
func DecodeCallBatch(data []byte) ([]*DecodedCall, error) {
	calls, err := DecodeCalls(data)
	if err != nil {
		return nil, err
	}

	var out []*DecodedCall
	for _, c := range calls {
		decoded, err := DecodeFunctionCall(c.Data)
		if err != nil {
			continue
		}
		decoded.Target = c.Addr.Hex()
		if decoded.Name == "transfer" {
			decoded.Token = c.Addr.Hex()
		}
		out = append(out, decoded)
	}
	return out, nil
}

// PriorityCall picks the most significant call in a batch, or nil if none matched
func PriorityCall(calls []*DecodedCall) *DecodedCall {
	for _, name := range callPriority {
		for _, c := range calls {
			if c != nil && c.Name == name {
				return c
			}
		}
	}
	return nil
}

// FindCall returns the calldata of the first inner call starting with sel
func FindCall(calls []Call, sel [4]byte) ([]byte, bool) {
	for _, c := range calls {
		if len(c.Data) >= 4 && [4]byte(c.Data[:4]) == sel {
			return c.Data, true
		}
	}
	return nil, false
}

func unpackValues(args abi.Arguments, data []byte) (values []interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			values, err = nil, ErrUnknownSelector
		}
	}()
	return args.UnpackValues(data)
}

func assetAmount(v []interface{}, c *DecodedCall) {
	c.Token = addrArg(v, 0)
	c.Amount = uintArg(v, 1)
}

func intentFields(v []interface{}, c *DecodedCall) {
	if len(v) == 0 {
		return
	}
	intent := new(Intent)
	if err := setIntent(intent, v[0]); err != nil {
		return
	}
	c.Intent = intent
	c.Token = intent.InputToken.Hex()
	c.Amount = intent.InputAmount
}

func setIntent(dst *Intent, src interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrUnknownSelector
		}
	}()
	*dst = *abi.ConvertType(src, new(Intent)).(*Intent)
	return nil
}

func addrArg(v []interface{}, i int) string {
	if i >= len(v) {
		return ""
	}
	if a, ok := v[i].(common.Address); ok {
		return a.Hex()
	}
	return ""
}

func uintArg(v []interface{}, i int) *big.Int {
	if i >= len(v) {
		return nil
	}
	if n, ok := v[i].(*big.Int); ok {
		return n
	}
	return nil
}
