package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/mbd888/zapshift/internal/apperr"
)

// PostgresStore persists the ledger in PostgreSQL. Unique indexes on
// parcel_id and transaction_id back the at-most-one-record guarantee.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `
	id, amount, currency, customer_email, parcel_id, parcel_name,
	tracking_id, transaction_id, session_id, payment_status, paid_at`

func (p *PostgresStore) Insert(ctx context.Context, r *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payments (`+recordColumns+`)
		VALUES ($1, $2::NUMERIC(14,2), $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.Amount.StringFixed(2), r.Currency, r.CustomerEmail, r.ParcelID, r.ParcelName,
		r.TrackingID, r.TransactionID, r.SessionID, r.PaymentStatus, r.PaidAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicatePayment
		}
		return storeErr("insert", err)
	}
	return nil
}

func (p *PostgresStore) GetByParcelID(ctx context.Context, parcelID string) (*Record, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM payments WHERE parcel_id = $1`, parcelID)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	return r, nil
}

func (p *PostgresStore) ListByEmail(ctx context.Context, email string, limit int) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM payments
		WHERE LOWER(customer_email) = LOWER($1)
		ORDER BY paid_at DESC
		LIMIT $2`, email, normalizeLimit(limit))
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, storeErr("list", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(sc scanner) (*Record, error) {
	r := &Record{}
	err := sc.Scan(
		&r.ID, &r.Amount, &r.Currency, &r.CustomerEmail, &r.ParcelID, &r.ParcelName,
		&r.TrackingID, &r.TransactionID, &r.SessionID, &r.PaymentStatus, &r.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("payments: %s: %w: %w", op, apperr.ErrStoreUnavailable, err)
}

var _ Store = (*PostgresStore)(nil)
