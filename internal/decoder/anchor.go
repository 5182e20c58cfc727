package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
)

// ErrDiscriminator is returned when event data carries a different anchor discriminator
var ErrDiscriminator = errors.New("anchor discriminator mismatch")

const anchorEventNamespace = "event"

// SendMessageEvent is the connection program's SendMessage anchor event
type SendMessageEvent struct {
	SrcChainID *big.Int
	DstChainID *big.Int
	ConnSn     *big.Int
	DstAddress []byte
	Payload    []byte
}

// sendMessageLayout is the borsh field order of SendMessage
type sendMessageLayout struct {
	SrcChainID bin.Uint128
	DstChainID bin.Uint128
	ConnSn     bin.Uint128
	DstAddress []byte
	Payload    []byte
}

// EventDiscriminator returns the 8-byte anchor discriminator for an event name
func EventDiscriminator(name string) [8]byte {
	var d [8]byte
	copy(d[:], bin.Sighash(anchorEventNamespace, name))
	return d
}

// DecodeSendMessage decodes borsh-encoded SendMessage event data, discriminator included
func DecodeSendMessage(data []byte) (*SendMessageEvent, error) {
	disc := EventDiscriminator("SendMessage")
	if len(data) < len(disc) || !bytes.Equal(data[:len(disc)], disc[:]) {
		return nil, ErrDiscriminator
	}

	var raw sendMessageLayout
	if err := bin.NewBorshDecoder(data[len(disc):]).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode SendMessage: %w", err)
	}
	return &SendMessageEvent{
		SrcChainID: raw.SrcChainID.BigInt(),
		DstChainID: raw.DstChainID.BigInt(),
		ConnSn:     raw.ConnSn.BigInt(),
		DstAddress: raw.DstAddress,
		Payload:    raw.Payload,
	}, nil
}

// EncodeSendMessage is the inverse of DecodeSendMessage
func EncodeSendMessage(ev SendMessageEvent) ([]byte, error) {
	disc := EventDiscriminator("SendMessage")
	raw := sendMessageLayout{
		SrcChainID: toUint128(ev.SrcChainID),
		DstChainID: toUint128(ev.DstChainID),
		ConnSn:     toUint128(ev.ConnSn),
		DstAddress: ev.DstAddress,
		Payload:    ev.Payload,
	}

	var buf bytes.Buffer
	buf.Write(disc[:])
	if err := bin.NewBorshEncoder(&buf).Encode(raw); err != nil {
		return nil, fmt.Errorf("failed to encode SendMessage: %w", err)
	}
	return buf.Bytes(), nil
}

// toUint128 truncates n to its low 128 bits; nil encodes as zero
func toUint128(n *big.Int) bin.Uint128 {
	if n == nil {
		return bin.Uint128{}
	}
	mask := new(big.Int).SetUint64(^uint64(0))
	return bin.Uint128{
		Lo: new(big.Int).And(n, mask).Uint64(),
		Hi: new(big.Int).And(new(big.Int).Rsh(n, 64), mask).Uint64(),
	}
}
