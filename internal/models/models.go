package models

import (
	"encoding/json"
	"math/big"
)

// MessageStatus represents the delivery phase of a bridge message
type MessageStatus string

const (
	MessageStatusPending    MessageStatus = "pending"
	MessageStatusDelivered  MessageStatus = "delivered"
	MessageStatusExecuted   MessageStatus = "executed"
	MessageStatusRollbacked MessageStatus = "rollbacked"
	MessageStatusFailed     MessageStatus = "failed"
)

// Settled reports whether the upstream system has finished writing phase fields.
// Delivered is not settled: execution or rollback may still follow.
func (s MessageStatus) Settled() bool {
	switch s {
	case MessageStatusExecuted, MessageStatusRollbacked, MessageStatusFailed:
		return true
	}
	return false
}

// ActionKind is the semantic category derived for a message
type ActionKind string

const (
	ActionTransfer     ActionKind = "Transfer"
	ActionSendMsg      ActionKind = "SendMsg"
	ActionDeposit      ActionKind = "Deposit"
	ActionCreateIntent ActionKind = "CreateIntent"
	ActionCancelIntent ActionKind = "CancelIntent"
	ActionIntentFilled ActionKind = "IntentFilled"
	ActionMigration    ActionKind = "Migration"
	ActionReverted     ActionKind = "Reverted"
	ActionSupply       ActionKind = "Supply"
	ActionWithdraw     ActionKind = "Withdraw"
	ActionBorrow       ActionKind = "Borrow"
	ActionRepay        ActionKind = "Repay"
	ActionUnknown      ActionKind = "Unknown"
)

// IsPlaceholder is true for kinds that carry no decoded meaning and may be
// replaced by a later, more specific classification.
func (k ActionKind) IsPlaceholder() bool {
	return k == "" || k == ActionSendMsg || k == ActionUnknown
}

// BridgeMessage is a cross-chain message record as served by the scanner
// feed and stored in the messages table.
type BridgeMessage struct {
	ID             int64         `json:"id" db:"id"`
	SN             json.Number   `json:"sn" db:"sn"`
	Status         MessageStatus `json:"status" db:"status"`
	SrcNetwork     string        `json:"src_network" db:"src_network"`
	DestNetwork    string        `json:"dest_network" db:"dest_network"`
	SrcTxHash      string        `json:"src_tx_hash" db:"src_tx_hash"`
	DestTxHash     *string       `json:"dest_tx_hash" db:"dest_tx_hash"`
	ResponseTxHash *string       `json:"response_tx_hash" db:"response_tx_hash"`
	RollbackTxHash *string       `json:"rollback_tx_hash" db:"rollback_tx_hash"`
	Fee            *string       `json:"fee" db:"fee"`
	ActionType     *string       `json:"action_type" db:"action_type"`
	ActionDetail   *string       `json:"action_detail" db:"action_detail"`
	IntentTxHash   *string       `json:"intent_tx_hash" db:"intent_tx_hash"`
	Slippage       *string       `json:"slippage" db:"slippage"`
	SrcBlockNumber *int64        `json:"src_block_number" db:"src_block_number"`
}

// Action returns the stored action type, or "" if none has been written yet
func (m *BridgeMessage) Action() ActionKind {
	if m.ActionType == nil {
		return ""
	}
	return ActionKind(*m.ActionType)
}

// DestTx returns the destination transaction hash or ""
func (m *BridgeMessage) DestTx() string {
	return deref(m.DestTxHash)
}

// HasIntentTxHash reports whether the create/fill pair is already stitched
func (m *BridgeMessage) HasIntentTxHash() bool {
	return deref(m.IntentTxHash) != ""
}

// HasFee reports whether a fee has been written
func (m *BridgeMessage) HasFee() bool {
	return deref(m.Fee) != ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// TxPayload is what a chain handler recovers from one transaction. It is
// consumed immediately by the classifier and never persisted as-is.
type TxPayload struct {
	Fee                string
	Payload            string // 0x-prefixed hex; "0x" when no message payload was found
	IntentFilled       bool
	IntentCancelled    bool
	ReverseSwap        bool
	StoredCallReverted bool
	DstAddress         string
	SwapInputToken     string
	SwapOutputToken    string
	ActionText         string
	IntentTxHash       string
	Slippage           string
	BlockNumber        *uint64 // nil when the RPC response carried no numeric block
}

// EmptyPayload is the explicit zero-value result for a transaction that
// carries no cross-chain message.
func EmptyPayload() *TxPayload {
	var zero uint64
	return &TxPayload{Fee: "0", Payload: "0x", BlockNumber: &zero}
}

// Classification is the classifier's verdict for one payload
type Classification struct {
	Action       ActionKind
	ActionText   string
	TokenAddress string
	Amount       *big.Int
	Denom        string
	IntentTxHash string
}

// Enrichment holds the derived columns written back for a message
type Enrichment struct {
	MessageID    int64
	Fee          string
	ActionType   ActionKind
	ActionDetail string
	IntentTxHash string
	Slippage     string
	BlockNumber  *uint64
}

// Complete reports whether the enrichment is safe to persist: both a fee and a
// numeric block number must be present.
func (e *Enrichment) Complete() bool {
	return e != nil && e.Fee != "" && e.BlockNumber != nil
}
