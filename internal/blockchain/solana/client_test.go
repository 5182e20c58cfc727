package solana

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcutil/base58"
	"go.uber.org/zap"

	"bridgescan/enricher/internal/decoder"
	"bridgescan/enricher/internal/registry"
)

const testSig = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"

func sendMessage(sn int64, payload []byte) []byte {
	data, err := decoder.EncodeSendMessage(decoder.SendMessageEvent{
		SrcChainID: big.NewInt(1),
		DstChainID: big.NewInt(146),
		ConnSn:     big.NewInt(sn),
		DstAddress: []byte{0x01},
		Payload:    payload,
	})
	if err != nil {
		panic(err)
	}
	return data
}

func fakeValidator(t *testing.T, result interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request: %v", err)
			return
		}
		if req.Method != "getTransaction" || len(req.Params) != 2 {
			t.Errorf("unexpected call %s", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
}

func txResult(logs []string, innerData ...string) map[string]interface{} {
	ixs := make([]map[string]interface{}, 0, len(innerData))
	for _, d := range innerData {
		ixs = append(ixs, map[string]interface{}{"programId": "Conn111", "data": d, "accounts": []string{}})
	}
	return map[string]interface{}{
		"slot":      uint64(250_000_000),
		"blockTime": 1700000000,
		"meta": map[string]interface{}{
			"fee":               5000,
			"err":               nil,
			"logMessages":       logs,
			"innerInstructions": []map[string]interface{}{{"index": 0, "instructions": ixs}},
		},
		"transaction": map[string]interface{}{"signatures": []string{testSig}},
	}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), &registry.Chain{ID: "solana", RPCURL: url}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestFetchPayload(t *testing.T) {
	logs := []string{
		"Program Conn111 invoke [1]",
		"Program data: " + base64.StdEncoding.EncodeToString([]byte("not an event")),
		"Program data: " + base64.StdEncoding.EncodeToString(sendMessage(7, []byte{0xab, 0xcd})),
		"Program Conn111 success",
	}
	server := fakeValidator(t, txResult(logs))
	defer server.Close()

	payload, err := newTestClient(t, server.URL).FetchPayload(context.Background(), testSig, "7")
	if err != nil {
		t.Fatalf("FetchPayload() error = %v", err)
	}
	if payload.Payload != "0xabcd" {
		t.Errorf("payload = %q, want 0xabcd", payload.Payload)
	}
	if payload.Fee != "0.000005 SOL" {
		t.Errorf("fee = %q, want 0.000005 SOL", payload.Fee)
	}
	if payload.BlockNumber == nil || *payload.BlockNumber != 250_000_000 {
		t.Errorf("block = %v, want slot", payload.BlockNumber)
	}
}

func TestFetchPayloadWithoutEvent(t *testing.T) {
	server := fakeValidator(t, txResult([]string{"Program log: hello"}))
	defer server.Close()

	payload, err := newTestClient(t, server.URL).FetchPayload(context.Background(), testSig, "")
	if err != nil {
		t.Fatalf("FetchPayload() error = %v", err)
	}
	if payload.Payload != "0x" {
		t.Errorf("payload = %q, want 0x", payload.Payload)
	}
	if payload.Fee == "" {
		t.Error("fee should still be reported")
	}
}

func TestFetchPayloadBySn(t *testing.T) {
	withTag := func(b []byte) string { return base58.Encode(append(append([]byte{}, eventIxTag...), b...)) }
	result := txResult(nil,
		base58.Encode([]byte{0x01, 0x02}),
		withTag(sendMessage(8, []byte{0x08})),
		withTag(sendMessage(9, []byte{0x09, 0x99})),
	)

	tests := []struct {
		name    string
		sn      string
		want    string
		wantErr error
	}{
		{name: "matching sn", sn: "9", want: "0x0999"},
		{name: "first event", sn: "8", want: "0x08"},
		{name: "no match", sn: "10", wantErr: ErrEventNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := fakeValidator(t, result)
			defer server.Close()

			got, err := newTestClient(t, server.URL).FetchPayloadBySn(context.Background(), testSig, tt.sn)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FetchPayloadBySn() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("payload = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFetchPayloadBySnInvalidSn(t *testing.T) {
	c := &Client{logger: zap.NewNop()}
	if _, err := c.FetchPayloadBySn(context.Background(), testSig, "abc"); err == nil {
		t.Fatal("expected error for non-numeric sn")
	}
}

func TestDecodeAddress(t *testing.T) {
	c := &Client{}
	key := make([]byte, 32)
	key[31] = 1
	want := base58.Encode(key)

	if got := c.DecodeAddress("0x" + hex.EncodeToString(key)); got != want {
		t.Errorf("DecodeAddress() = %q, want %q", got, want)
	}
	if got := c.DecodeAddress("not-hex"); got != "not-hex" {
		t.Errorf("DecodeAddress() = %q, want input back", got)
	}
}
