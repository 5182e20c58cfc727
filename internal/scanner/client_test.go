package scanner

import (
	"context"
	"net/http"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/jarcoal/httpmock"
	"go.uber.org/zap"
)

const baseURL = "http://scanner.test"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient(baseURL+"/", zap.NewNop())
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	httpmock.ActivateNonDefault(c.http)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

const page = `{"data":[
	{"id":12,"sn":"7","status":"executed","src_network":"0x2105.base","dest_network":"sonic","src_tx_hash":"0xaa","dest_tx_hash":"0xbb","action_type":"Deposit"},
	{"id":11,"sn":6,"status":"pending","src_network":"sui","dest_network":"sonic","src_tx_hash":"Hx","dest_tx_hash":null}
]}`

func TestMessages(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("GET", baseURL+"/api/messages?limit=10&skip=0",
		httpmock.NewStringResponder(http.StatusOK, page))

	msgs, err := c.Messages(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != 12 || msgs[0].SN.String() != "7" || msgs[0].DestTx() != "0xbb" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].SN.String() != "6" || msgs[1].DestTxHash != nil {
		t.Errorf("second message = %+v", msgs[1])
	}
}

func TestMessage(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("GET", baseURL+"/api/messages/12",
		httpmock.NewStringResponder(http.StatusOK, `{"data":[{"id":12,"sn":"7","src_network":"0x2105.base"}]}`))

	msgs, err := c.Message(context.Background(), 12)
	if err != nil {
		t.Fatalf("Message() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != 12 {
		t.Errorf("Message() = %+v", msgs)
	}
}

func TestRetries(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int
	}{
		{name: "server error is retried", status: http.StatusBadGateway, wantCalls: maxRetries + 1},
		{name: "client error is permanent", status: http.StatusNotFound, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t)
			httpmock.RegisterResponder("GET", baseURL+"/api/messages/1",
				httpmock.NewStringResponder(tt.status, "nope"))

			if _, err := c.Message(context.Background(), 1); err == nil {
				t.Fatal("expected error")
			}
			if got := httpmock.GetTotalCallCount(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestRecoversAfterTransientFailure(t *testing.T) {
	c := newTestClient(t)
	calls := 0
	httpmock.RegisterResponder("GET", baseURL+"/api/messages/3", func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"data":[{"id":3}]}`), nil
	})

	msgs, err := c.Message(context.Background(), 3)
	if err != nil {
		t.Fatalf("Message() error = %v", err)
	}
	if len(msgs) != 1 || calls != 2 {
		t.Errorf("msgs = %+v after %d calls", msgs, calls)
	}
}

func TestMalformedBody(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("GET", baseURL+"/api/messages/4",
		httpmock.NewStringResponder(http.StatusOK, `{"data":`))

	if _, err := c.Message(context.Background(), 4); err == nil {
		t.Fatal("expected decode error")
	}
	if got := httpmock.GetTotalCallCount(); got != 1 {
		t.Errorf("malformed body should not be retried, calls = %d", got)
	}
}
