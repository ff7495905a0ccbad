package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/TendoPayPlugins/tendopay-sdk-examples/internal/domain"
	_ "modernc.org/sqlite"
)

type SQLiteRepo struct {
	db *sql.DB
}

func NewSQLiteRepo(dsn string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA foreign_keys = ON;")
	db.Exec("PRAGMA journal_mode = WAL;")
	db.Exec("PRAGMA busy_timeout = 5000;")

	r := &SQLiteRepo{db: db}
	if err := r.migrate(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepo) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS transactions(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			merchant_order_id TEXT NOT NULL UNIQUE,
			gateway_tx_number TEXT NOT NULL DEFAULT '',
			amount_minor INTEGER NOT NULL,
			currency TEXT NOT NULL,
			state TEXT NOT NULL,
			last_event_id TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			billing_city TEXT NOT NULL DEFAULT '',
			billing_address TEXT NOT NULL DEFAULT '',
			billing_postcode TEXT NOT NULL DEFAULT '',
			shipping_city TEXT NOT NULL DEFAULT '',
			shipping_address TEXT NOT NULL DEFAULT '',
			shipping_postcode TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS applied_events(
			merchant_order_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			applied_at TEXT NOT NULL,
			UNIQUE(merchant_order_id, event_id)
		);

		CREATE INDEX IF NOT EXISTS idx_tx_gateway_number ON transactions(gateway_tx_number);
		CREATE INDEX IF NOT EXISTS idx_tx_state ON transactions(state);
	`
	_, err := r.db.Exec(schema)
	return err
}

func (r *SQLiteRepo) Create(ctx context.Context, t *domain.Transaction) error {
	q := `
		INSERT INTO transactions(
			merchant_order_id,
			gateway_tx_number,
			amount_minor,
			currency,
			state,
			last_event_id,
			description,
			billing_city,
			billing_address,
			billing_postcode,
			shipping_city,
			shipping_address,
			shipping_postcode,
			created_at,
			updated_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`

	now := t.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	_, err := r.db.ExecContext(
		ctx, q,
		t.MerchantOrderID,
		t.GatewayTxNumber,
		t.AmountMinor,
		t.Currency,
		string(t.State),
		t.LastEventID,
		t.Description,
		t.Billing.City,
		t.Billing.Address,
		t.Billing.Postcode,
		t.Shipping.City,
		t.Shipping.Address,
		t.Shipping.Postcode,
		now.UTC().Format(time.RFC3339Nano),
		now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return domain.ErrDuplicateOrder
		}
		return err
	}

	return nil
}

func (r *SQLiteRepo) Get(ctx context.Context, merchantOrderID string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, selectTx+` WHERE merchant_order_id = ?`, merchantOrderID)
	return scanTx(row)
}

func (r *SQLiteRepo) GetByGatewayTxNumber(ctx context.Context, gatewayTxNumber string) (*domain.Transaction, error) {
	if gatewayTxNumber == "" {
		return nil, domain.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, selectTx+` WHERE gateway_tx_number = ?`, gatewayTxNumber)
	return scanTx(row)
}

// CompareAndTransition runs a single transaction: mark the event applied,
// then flip the state under the expected-state guard. Either both writes
// land or neither does, so duplicate deliveries and state races collapse
// to a false return with no effect.
func (r *SQLiteRepo) CompareAndTransition(ctx context.Context, merchantOrderID string, expected, next domain.TxState, eventID, gatewayTxNumber string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO applied_events(merchant_order_id, event_id, applied_at) VALUES(?, ?, ?)`,
		merchantOrderID, eventID, now,
	)
	if err != nil {
		return false, err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE transactions
		 SET state = ?,
		     last_event_id = ?,
		     gateway_tx_number = CASE WHEN gateway_tx_number = '' THEN ? ELSE gateway_tx_number END,
		     updated_at = ?
		 WHERE merchant_order_id = ? AND state = ?`,
		string(next), eventID, gatewayTxNumber, now, merchantOrderID, string(expected),
	)
	if err != nil {
		return false, err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *SQLiteRepo) List(ctx context.Context, f TxFilter, limit, offset int) ([]domain.Transaction, error) {
	q := selectTx + ` WHERE 1 = 1`
	args := []any{}

	if f.MerchantOrderID != "" {
		q += " AND merchant_order_id = ?"
		args = append(args, f.MerchantOrderID)
	}

	if f.GatewayTxNumber != "" {
		q += " AND gateway_tx_number = ?"
		args = append(args, f.GatewayTxNumber)
	}

	if f.State != "" {
		q += " AND state = ?"
		args = append(args, string(f.State))
	}

	q += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}

		res = append(res, *t)
	}

	return res, rows.Err()
}

const selectTx = `
	SELECT
		id,
		merchant_order_id,
		gateway_tx_number,
		amount_minor,
		currency,
		state,
		last_event_id,
		description,
		billing_city,
		billing_address,
		billing_postcode,
		shipping_city,
		shipping_address,
		shipping_postcode,
		created_at,
		updated_at
	FROM transactions`

func scanTx(scanner interface {
	Scan(dest ...any) error
}) (*domain.Transaction, error) {
	var t domain.Transaction
	var state string
	var createdStr, updatedStr string

	if err := scanner.Scan(
		&t.ID,
		&t.MerchantOrderID,
		&t.GatewayTxNumber,
		&t.AmountMinor,
		&t.Currency,
		&state,
		&t.LastEventID,
		&t.Description,
		&t.Billing.City,
		&t.Billing.Address,
		&t.Billing.Postcode,
		&t.Shipping.City,
		&t.Shipping.Address,
		&t.Shipping.Postcode,
		&createdStr,
		&updatedStr,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	t.State = domain.TxState(state)

	created, err := time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return nil, fmt.Errorf("parse created time: %w", err)
	}
	t.CreatedAt = created

	updated, err := time.Parse(time.RFC3339Nano, updatedStr)
	if err != nil {
		return nil, fmt.Errorf("parse updated time: %w", err)
	}
	t.UpdatedAt = updated

	return &t, nil
}
