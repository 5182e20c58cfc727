package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"bridgescan/enricher/internal/models"
)

const messageColumns = `
	id, COALESCE(sn::text, '') AS sn, COALESCE(status, '') AS status,
	src_network::text AS src_network, dest_network::text AS dest_network,
	src_tx_hash, dest_tx_hash, response_tx_hash, rollback_tx_hash,
	fee, action_type, action_detail, intent_tx_hash, slippage, src_block_number
`

// needsEnrichment matches rows with a missing fee or a missing or placeholder action
const needsEnrichment = `(fee IS NULL OR action_type IS NULL OR action_type = 'SendMsg')`

// updateEnrichmentQuery never regresses a row: empty values keep the stored
// column, a placeholder action never replaces a decoded one, and a zero block
// keeps the stored block number.
const updateEnrichmentQuery = `
	UPDATE messages
	SET fee = COALESCE(NULLIF($2, ''), fee),
		action_type = CASE
			WHEN $3 = '' THEN action_type
			WHEN $3 IN ('SendMsg', 'Unknown') AND action_type IS NOT NULL
				AND action_type NOT IN ('SendMsg', 'Unknown') THEN action_type
			ELSE $3
		END,
		action_detail = CASE
			WHEN $3 IN ('SendMsg', 'Unknown') AND action_type IS NOT NULL
				AND action_type NOT IN ('SendMsg', 'Unknown') THEN action_detail
			ELSE COALESCE(NULLIF($4, ''), action_detail)
		END,
		intent_tx_hash = COALESCE(NULLIF($5, ''), intent_tx_hash),
		slippage = COALESCE(NULLIF($6, ''), slippage),
		src_block_number = COALESCE(NULLIF($7::bigint, 0), src_block_number)
	WHERE id = $1
`

// GetMessage retrieves a message by id, or nil when it does not exist
func (db *DB) GetMessage(ctx context.Context, id int64) (*models.BridgeMessage, error) {
	var msg models.BridgeMessage
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	err := db.GetContext(ctx, &msg, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %d: %w", id, err)
	}
	return &msg, nil
}

// GetMessagesNeedingEnrichment returns up to limit messages after afterID, in id order
func (db *DB) GetMessagesNeedingEnrichment(ctx context.Context, afterID int64, limit int) ([]models.BridgeMessage, error) {
	var msgs []models.BridgeMessage
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE ` + needsEnrichment + ` AND id > $1
		ORDER BY id
		LIMIT $2
	`
	if err := db.SelectContext(ctx, &msgs, query, afterID, limit); err != nil {
		return nil, fmt.Errorf("failed to list messages needing enrichment: %w", err)
	}
	return msgs, nil
}

// CountMessagesNeedingEnrichment counts every message the reconciliation pass would visit
func (db *DB) CountMessagesNeedingEnrichment(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM messages WHERE ` + needsEnrichment
	if err := db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("failed to count messages needing enrichment: %w", err)
	}
	return count, nil
}

// UpdateEnrichment writes one message's derived columns in its own transaction
func (db *DB) UpdateEnrichment(ctx context.Context, e *models.Enrichment) error {
	return db.InTransaction(ctx, func(tx *sqlx.Tx) error {
		n, err := updateEnrichment(ctx, tx, e)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %d", ErrNotFound, e.MessageID)
		}
		return nil
	})
}

// UpdateEnrichments writes a whole batch in one transaction and returns the
// number of rows changed. Any failure rolls back every row in the batch.
func (db *DB) UpdateEnrichments(ctx context.Context, batch []*models.Enrichment) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	updated := 0
	err := db.InTransaction(ctx, func(tx *sqlx.Tx) error {
		for _, e := range batch {
			n, err := updateEnrichment(ctx, tx, e)
			if err != nil {
				return err
			}
			updated += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

func updateEnrichment(ctx context.Context, tx *sqlx.Tx, e *models.Enrichment) (int64, error) {
	var block int64
	if e.BlockNumber != nil {
		block = int64(*e.BlockNumber)
	}

	res, err := tx.ExecContext(ctx, updateEnrichmentQuery,
		e.MessageID,
		e.Fee,
		string(e.ActionType),
		e.ActionDetail,
		e.IntentTxHash,
		e.Slippage,
		block,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update message %d: %w", e.MessageID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows for message %d: %w", e.MessageID, err)
	}
	return n, nil
}
