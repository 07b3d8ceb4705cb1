package parcels

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/zapshift/internal/apperr"
)

// ErrTrackingIDTaken is returned when a generated tracking ID collides
// with one already assigned.
var ErrTrackingIDTaken = fmt.Errorf("tracking id already assigned: %w", apperr.ErrConflict)

// PostgresStore persists parcels in PostgreSQL. The schema lives in the
// goose migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed parcel store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const parcelColumns = `
	id, name, description, parcel_type, weight,
	sender_name, sender_email, receiver_name, receiver_address,
	cost, payment_status, tracking_id, payment_session_id, paid_at, created_at`

func (p *PostgresStore) Create(ctx context.Context, parcel *Parcel) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO parcels (`+parcelColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		parcel.ID, parcel.Name, nullString(parcel.Description), nullString(string(parcel.ParcelType)), parcel.Weight,
		nullString(parcel.SenderName), parcel.SenderEmail, nullString(parcel.ReceiverName), nullString(parcel.ReceiverAddress),
		parcel.Cost, string(parcel.PaymentStatus), nullString(parcel.TrackingID), nullString(parcel.PaymentSessionID),
		nullTime(parcel.PaidAt), parcel.CreatedAt,
	)
	if err != nil {
		return storeErr("create", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Parcel, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+parcelColumns+` FROM parcels WHERE id = $1`, id)

	parcel, err := scanParcel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrParcelNotFound
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	return parcel, nil
}

func (p *PostgresStore) UpdateStatusIfUnpaid(ctx context.Context, id string, t StatusTransition) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE parcels
		SET payment_status = $2, tracking_id = $3, payment_session_id = $4, paid_at = $5
		WHERE id = $1 AND payment_status = 'unpaid'`,
		id, string(t.Status), t.TrackingID, nullString(t.SessionID), t.PaidAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrTrackingIDTaken
		}
		return false, storeErr("update status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, storeErr("update status", err)
	}
	return rows == 1, nil
}

func (p *PostgresStore) List(ctx context.Context, f Filter) ([]*Parcel, error) {
	query := `SELECT ` + parcelColumns + ` FROM parcels WHERE 1=1`
	var args []interface{}

	if f.SenderEmail != "" {
		args = append(args, f.SenderEmail)
		query += fmt.Sprintf(" AND LOWER(sender_email) = LOWER($%d)", len(args))
	}
	if f.PaymentStatus != "" {
		args = append(args, string(f.PaymentStatus))
		query += fmt.Sprintf(" AND payment_status = $%d", len(args))
	}
	if !f.PaidAfter.IsZero() {
		args = append(args, f.PaidAfter)
		query += fmt.Sprintf(" AND paid_at >= $%d", len(args))
	}
	if !f.PaidBefore.IsZero() {
		args = append(args, f.PaidBefore)
		query += fmt.Sprintf(" AND paid_at < $%d", len(args))
	}
	if f.After != nil {
		args = append(args, f.After.CreatedAt, f.After.ID)
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, f.limit())
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer func() { _ = rows.Close() }()

	parcels, err := scanParcels(rows)
	if err != nil {
		return nil, storeErr("list", err)
	}
	return parcels, nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	result, err := p.db.ExecContext(ctx,
		`DELETE FROM parcels WHERE id = $1 AND payment_status = 'unpaid'`, id)
	if err != nil {
		return false, storeErr("delete", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, storeErr("delete", err)
	}
	return rows == 1, nil
}

// Ping checks database connectivity for readiness probes.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanParcel(sc scanner) (*Parcel, error) {
	parcel := &Parcel{}
	var (
		description, parcelType, senderName sql.NullString
		receiverName, receiverAddress       sql.NullString
		trackingID, sessionID               sql.NullString
		status                              string
		paidAt                              sql.NullTime
	)

	err := sc.Scan(
		&parcel.ID, &parcel.Name, &description, &parcelType, &parcel.Weight,
		&senderName, &parcel.SenderEmail, &receiverName, &receiverAddress,
		&parcel.Cost, &status, &trackingID, &sessionID, &paidAt, &parcel.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parcel.Description = description.String
	parcel.ParcelType = ParcelType(parcelType.String)
	parcel.SenderName = senderName.String
	parcel.ReceiverName = receiverName.String
	parcel.ReceiverAddress = receiverAddress.String
	parcel.PaymentStatus = PaymentStatus(status)
	parcel.TrackingID = trackingID.String
	parcel.PaymentSessionID = sessionID.String
	if paidAt.Valid {
		t := paidAt.Time
		parcel.PaidAt = &t
	}
	return parcel, nil
}

func scanParcels(rows *sql.Rows) ([]*Parcel, error) {
	var result []*Parcel
	for rows.Next() {
		parcel, err := scanParcel(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, parcel)
	}
	return result, rows.Err()
}

func storeErr(op string, err error) error {
	return fmt.Errorf("parcels: %s: %w: %w", op, apperr.ErrStoreUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
