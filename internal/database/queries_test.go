package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"bridgescan/enricher/internal/models"
)

var columns = []string{
	"id", "sn", "status", "src_network", "dest_network",
	"src_tx_hash", "dest_tx_hash", "response_tx_hash", "rollback_tx_hash",
	"fee", "action_type", "action_detail", "intent_tx_hash", "slippage", "src_block_number",
}

func newTestDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return New(sqlDB), mock
}

func TestGetMessage(t *testing.T) {
	db, mock := newTestDB(t)

	rows := sqlmock.NewRows(columns).
		AddRow(int64(12), "7", "executed", "30", "146", "0xaa", "0xbb", nil, nil, nil, "SendMsg", nil, nil, nil, int64(99))
	mock.ExpectQuery(`SELECT .* FROM messages WHERE id = \$1`).
		WithArgs(int64(12)).
		WillReturnRows(rows)

	msg, err := db.GetMessage(context.Background(), 12)
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	if msg.ID != 12 || msg.SN.String() != "7" || msg.Status != models.MessageStatusExecuted {
		t.Errorf("message = %+v", msg)
	}
	if msg.DestTx() != "0xbb" || msg.HasFee() || msg.Action() != models.ActionSendMsg {
		t.Errorf("nullable columns not mapped: %+v", msg)
	}
	if msg.SrcBlockNumber == nil || *msg.SrcBlockNumber != 99 {
		t.Errorf("block = %v", msg.SrcBlockNumber)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestGetMessageMissing(t *testing.T) {
	db, mock := newTestDB(t)
	mock.ExpectQuery(`SELECT .* FROM messages WHERE id = \$1`).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows(columns))

	msg, err := db.GetMessage(context.Background(), 404)
	if err != nil || msg != nil {
		t.Fatalf("GetMessage() = %+v, %v, want nil, nil", msg, err)
	}
}

func TestGetMessagesNeedingEnrichment(t *testing.T) {
	db, mock := newTestDB(t)

	rows := sqlmock.NewRows(columns).
		AddRow(int64(5), "1", "pending", "30", "146", "0x01", nil, nil, nil, nil, nil, nil, nil, nil, nil).
		AddRow(int64(6), "2", "executed", "30", "146", "0x02", nil, nil, nil, "0.1 ETH", "SendMsg", nil, nil, nil, nil)
	mock.ExpectQuery(`SELECT .* FROM messages\s+WHERE \(fee IS NULL OR action_type IS NULL OR action_type = 'SendMsg'\) AND id > \$1\s+ORDER BY id\s+LIMIT \$2`).
		WithArgs(int64(4), int64(100)).
		WillReturnRows(rows)

	msgs, err := db.GetMessagesNeedingEnrichment(context.Background(), 4, 100)
	if err != nil {
		t.Fatalf("GetMessagesNeedingEnrichment() error = %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != 5 || msgs[1].ID != 6 {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestCountMessagesNeedingEnrichment(t *testing.T) {
	db, mock := newTestDB(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM messages WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := db.CountMessagesNeedingEnrichment(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("Count() = %d, %v", n, err)
	}
}

func enrichment(id int64, block uint64) *models.Enrichment {
	return &models.Enrichment{
		MessageID:    id,
		Fee:          "0.1 ETH",
		ActionType:   models.ActionDeposit,
		ActionDetail: "Deposit 1 USDC",
		BlockNumber:  &block,
	}
}

func TestUpdateEnrichment(t *testing.T) {
	db, mock := newTestDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE messages").
		WithArgs(int64(12), "0.1 ETH", "Deposit", "Deposit 1 USDC", "", "", int64(16)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := db.UpdateEnrichment(context.Background(), enrichment(12, 16)); err != nil {
		t.Fatalf("UpdateEnrichment() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestUpdateEnrichmentMissingRow(t *testing.T) {
	db, mock := newTestDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE messages").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := db.UpdateEnrichment(context.Background(), enrichment(13, 1))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestUpdateEnrichments(t *testing.T) {
	db, mock := newTestDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE messages").WithArgs(int64(1), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE messages").WithArgs(int64(2), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	noBlock := enrichment(2, 0)
	noBlock.BlockNumber = nil
	n, err := db.UpdateEnrichments(context.Background(), []*models.Enrichment{enrichment(1, 10), noBlock})
	if err != nil || n != 2 {
		t.Fatalf("UpdateEnrichments() = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestUpdateEnrichmentsRollsBackBatch(t *testing.T) {
	db, mock := newTestDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE messages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE messages").WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	n, err := db.UpdateEnrichments(context.Background(), []*models.Enrichment{enrichment(1, 1), enrichment(2, 2)})
	if err == nil || n != 0 {
		t.Fatalf("UpdateEnrichments() = %d, %v, want error", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestUpdateEnrichmentsEmpty(t *testing.T) {
	db, mock := newTestDB(t)
	if n, err := db.UpdateEnrichments(context.Background(), nil); err != nil || n != 0 {
		t.Fatalf("UpdateEnrichments(nil) = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("empty batch must not open a transaction: %s", err)
	}
}

func TestRunMigrations(t *testing.T) {
	db, mock := newTestDB(t)
	mock.ExpectExec("CREATE OR REPLACE FUNCTION notify_message_needs_processing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
