package decoder

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// ErrUnsupportedScVal is returned for ScVal variants the walker does not convert
var ErrUnsupportedScVal = errors.New("unsupported scval")

// LedgerEvent is a decoded Soroban contract event
type LedgerEvent struct {
	ContractAddress string
	EventType       string
	Topics          []interface{}
	Data            xdr.ScVal
}

// HasTopic reports whether any topic is the given symbol or string
func (e *LedgerEvent) HasTopic(name string) bool {
	for _, t := range e.Topics {
		if s, ok := t.(string); ok && s == name {
			return true
		}
	}
	return false
}

// OrderedMap keeps ScMap entries in their encoded order
type OrderedMap struct {
	keys   []string
	values map[string]interface{}
}

// NewOrderedMap returns an empty map
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]interface{})}
}

// Set inserts or replaces key, keeping first-insertion order
func (m *OrderedMap) Set(key string, value interface{}) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key
func (m *OrderedMap) Get(key string) (interface{}, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in order
func (m *OrderedMap) Keys() []string {
	return m.keys
}

// Len returns the number of entries
func (m *OrderedMap) Len() int {
	return len(m.keys)
}

// DecodeContractEvent parses a base64 XDR ContractEvent
func DecodeContractEvent(b64 string) (*LedgerEvent, error) {
	var event xdr.ContractEvent
	if err := xdr.SafeUnmarshalBase64(b64, &event); err != nil {
		return nil, fmt.Errorf("failed to decode contract event: %w", err)
	}
	if event.Body.V0 == nil {
		return nil, fmt.Errorf("contract event body version %d not supported", event.Body.V)
	}

	out := &LedgerEvent{
		EventType: eventTypeName(event.Type),
		Data:      event.Body.V0.Data,
	}
	if event.ContractId != nil {
		id := *event.ContractId
		addr, err := strkey.Encode(strkey.VersionByteContract, id[:])
		if err != nil {
			return nil, fmt.Errorf("failed to encode contract id: %w", err)
		}
		out.ContractAddress = addr
	}

	for _, t := range event.Body.V0.Topics {
		v, err := ScValToNative(t)
		if err != nil {
			return nil, err
		}
		out.Topics = append(out.Topics, v)
	}
	return out, nil
}

func eventTypeName(t xdr.ContractEventType) string {
	switch t {
	case xdr.ContractEventTypeSystem:
		return "SYSTEM"
	case xdr.ContractEventTypeContract:
		return "CONTRACT"
	case xdr.ContractEventTypeDiagnostic:
		return "DIAGNOSTIC"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int32(t))
}

// ScValToNative converts an ScVal into plain Go values
func ScValToNative(v xdr.ScVal) (interface{}, error) {
	switch v.Type {
	case xdr.ScValTypeScvVoid:
		return nil, nil
	case xdr.ScValTypeScvBool:
		if v.B == nil {
			return nil, malformed(v)
		}
		return *v.B, nil
	case xdr.ScValTypeScvU32:
		if v.U32 == nil {
			return nil, malformed(v)
		}
		return uint32(*v.U32), nil
	case xdr.ScValTypeScvI32:
		if v.I32 == nil {
			return nil, malformed(v)
		}
		return int32(*v.I32), nil
	case xdr.ScValTypeScvU64:
		if v.U64 == nil {
			return nil, malformed(v)
		}
		return uint64(*v.U64), nil
	case xdr.ScValTypeScvI64:
		if v.I64 == nil {
			return nil, malformed(v)
		}
		return int64(*v.I64), nil
	case xdr.ScValTypeScvU128:
		if v.U128 == nil {
			return nil, malformed(v)
		}
		return u128(uint64(v.U128.Hi), uint64(v.U128.Lo)), nil
	case xdr.ScValTypeScvI128:
		if v.I128 == nil {
			return nil, malformed(v)
		}
		return i128(int64(v.I128.Hi), uint64(v.I128.Lo)), nil
	case xdr.ScValTypeScvBytes:
		if v.Bytes == nil {
			return nil, malformed(v)
		}
		return []byte(*v.Bytes), nil
	case xdr.ScValTypeScvString:
		if v.Str == nil {
			return nil, malformed(v)
		}
		return string(*v.Str), nil
	case xdr.ScValTypeScvSymbol:
		if v.Sym == nil {
			return nil, malformed(v)
		}
		return string(*v.Sym), nil
	case xdr.ScValTypeScvVec:
		if v.Vec == nil || *v.Vec == nil {
			return []interface{}{}, nil
		}
		vec := **v.Vec
		out := make([]interface{}, 0, len(vec))
		for _, item := range vec {
			n, err := ScValToNative(item)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case xdr.ScValTypeScvMap:
		if v.Map == nil || *v.Map == nil {
			return NewOrderedMap(), nil
		}
		return ScMapToOrderedMap(**v.Map)
	case xdr.ScValTypeScvAddress:
		if v.Address == nil {
			return nil, malformed(v)
		}
		return ScAddressToStrkey(*v.Address)
	}
	return nil, fmt.Errorf("%w: type %d", ErrUnsupportedScVal, int32(v.Type))
}

// ScMapToOrderedMap converts a map with symbol or string keys
func ScMapToOrderedMap(m xdr.ScMap) (*OrderedMap, error) {
	out := NewOrderedMap()
	for _, entry := range m {
		k, err := ScValToNative(entry.Key)
		if err != nil {
			return nil, err
		}
		key, ok := k.(string)
		if !ok {
			key = fmt.Sprint(k)
		}
		val, err := ScValToNative(entry.Val)
		if err != nil {
			return nil, err
		}
		out.Set(key, val)
	}
	return out, nil
}

// ScAddressToStrkey renders an account or contract address in strkey form
func ScAddressToStrkey(a xdr.ScAddress) (string, error) {
	switch a.Type {
	case xdr.ScAddressTypeScAddressTypeAccount:
		if a.AccountId == nil || a.AccountId.Ed25519 == nil {
			return "", fmt.Errorf("%w: empty account address", ErrUnsupportedScVal)
		}
		key := *a.AccountId.Ed25519
		return strkey.Encode(strkey.VersionByteAccountID, key[:])
	case xdr.ScAddressTypeScAddressTypeContract:
		if a.ContractId == nil {
			return "", fmt.Errorf("%w: empty contract address", ErrUnsupportedScVal)
		}
		id := *a.ContractId
		return strkey.Encode(strkey.VersionByteContract, id[:])
	}
	return "", fmt.Errorf("%w: address type %d", ErrUnsupportedScVal, int32(a.Type))
}

// DecodeScValAddressHex parses a hex-encoded ScVal holding an address
func DecodeScValAddressHex(h string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
	if err != nil {
		return "", err
	}
	var v xdr.ScVal
	if err := xdr.SafeUnmarshal(raw, &v); err != nil {
		return "", err
	}
	if v.Type != xdr.ScValTypeScvAddress || v.Address == nil {
		return "", fmt.Errorf("%w: not an address", ErrUnsupportedScVal)
	}
	return ScAddressToStrkey(*v.Address)
}

func malformed(v xdr.ScVal) error {
	return fmt.Errorf("%w: type %d has no value", ErrUnsupportedScVal, int32(v.Type))
}

func u128(hi, lo uint64) *big.Int {
	n := new(big.Int).SetUint64(hi)
	n.Lsh(n, 64)
	return n.Or(n, new(big.Int).SetUint64(lo))
}

func i128(hi int64, lo uint64) *big.Int {
	n := big.NewInt(hi)
	n.Lsh(n, 64)
	return n.Add(n, new(big.Int).SetUint64(lo))
}
