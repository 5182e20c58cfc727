package decoder

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

// ErrMalformedRLP is returned for any input that is not a single well-formed RLP value
var ErrMalformedRLP = errors.New("malformed rlp")

// RLPValue is a decoded RLP item: either a byte string or a list
type RLPValue struct {
	Bytes  []byte
	List   []RLPValue
	IsList bool
}

// Transfer is the legacy five-field transfer payload
type Transfer struct {
	Token  []byte
	From   []byte
	To     []byte
	Amount *big.Int
	Data   []byte
}

// DecodeRLP decodes b as exactly one RLP value
func DecodeRLP(b []byte) (RLPValue, error) {
	v, rest, err := splitValue(b)
	if err != nil {
		return RLPValue{}, err
	}
	if len(rest) != 0 {
		return RLPValue{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedRLP, len(rest))
	}
	return v, nil
}

func splitValue(b []byte) (RLPValue, []byte, error) {
	kind, content, rest, err := rlp.Split(b)
	if err != nil {
		return RLPValue{}, nil, fmt.Errorf("%w: %v", ErrMalformedRLP, err)
	}

	if kind != rlp.List {
		return RLPValue{Bytes: content}, rest, nil
	}

	list := RLPValue{IsList: true}
	for len(content) > 0 {
		var item RLPValue
		item, content, err = splitValue(content)
		if err != nil {
			return RLPValue{}, nil, err
		}
		list.List = append(list.List, item)
	}
	return list, rest, nil
}

// DecodeRLPList decodes b as a flat list of byte strings
func DecodeRLPList(b []byte) ([][]byte, error) {
	v, err := DecodeRLP(b)
	if err != nil {
		return nil, err
	}
	if !v.IsList {
		return nil, fmt.Errorf("%w: not a list", ErrMalformedRLP)
	}

	out := make([][]byte, 0, len(v.List))
	for _, item := range v.List {
		if item.IsList {
			return nil, fmt.Errorf("%w: nested list", ErrMalformedRLP)
		}
		out = append(out, item.Bytes)
	}
	return out, nil
}

// DecodeTransfer decodes a {token, from, to, amount, data} RLP list
func DecodeTransfer(b []byte) (*Transfer, error) {
	items, err := DecodeRLPList(b)
	if err != nil {
		return nil, err
	}
	if len(items) != 5 {
		return nil, fmt.Errorf("%w: transfer needs 5 fields, got %d", ErrMalformedRLP, len(items))
	}
	return &Transfer{
		Token:  items[0],
		From:   items[1],
		To:     items[2],
		Amount: new(big.Int).SetBytes(items[3]),
		Data:   items[4],
	}, nil
}
