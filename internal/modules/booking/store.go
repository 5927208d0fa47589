// README: Booking store backed by PostgreSQL.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"drivebid/internal/types"
)

var bookingColumns = []string{
	"id", "dedup_key", "vehicle", "owner", "renter", "amount", "selected_addons",
	"start_date", "end_date", "start_odometer", "end_odometer",
	"status", "status_version", "created_at", "updated_at",
}

var selectBooking = "SELECT " + strings.Join(bookingColumns, ", ") + " FROM bookings"

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

type txKey struct{}

// WithTx runs fn in a transaction. Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return s.db.Exec(ctx, sql, args...)
}

func (s *Store) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return s.db.Query(ctx, sql, args...)
}

func (s *Store) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return s.db.QueryRow(ctx, sql, args...)
}

func (s *Store) InsertIfAbsent(ctx context.Context, b *Booking) (bool, error) {
	vehicle, err := json.Marshal(b.Vehicle)
	if err != nil {
		return false, err
	}
	owner, err := json.Marshal(b.Owner)
	if err != nil {
		return false, err
	}
	renter, err := json.Marshal(b.From)
	if err != nil {
		return false, err
	}
	addons, err := json.Marshal(b.SelectedAddons)
	if err != nil {
		return false, err
	}
	tag, err := s.exec(ctx, `
		INSERT INTO bookings (
			id, dedup_key, vehicle_id, owner_id, renter_id,
			vehicle, owner, renter, amount, selected_addons,
			start_date, end_date, start_odometer, end_odometer,
			status, status_version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18
		)
		ON CONFLICT (dedup_key) DO NOTHING`,
		string(b.ID), b.DedupKey, string(b.Vehicle.ID), string(b.Owner.ID), string(b.From.ID),
		vehicle, owner, renter, b.Amount, addons,
		b.StartDate.Time(), b.EndDate.Time(), b.StartOdometerValue, b.EndOdometerValue,
		string(b.Status), b.StatusVersion, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert booking: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetByDedupKey(ctx context.Context, key string) (*Booking, error) {
	return s.getOne(ctx, selectBooking+" WHERE dedup_key = $1", key)
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Booking, error) {
	return s.getOne(ctx, selectBooking+" WHERE id = $1", string(id))
}

func (s *Store) GetForUpdate(ctx context.Context, id types.ID) (*Booking, error) {
	return s.getOne(ctx, selectBooking+" WHERE id = $1 FOR UPDATE", string(id))
}

func (s *Store) getOne(ctx context.Context, sql string, arg any) (*Booking, error) {
	b, err := scanBooking(s.queryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// LockVehicle takes a transaction-scoped advisory lock keyed by vehicle id.
func (s *Store) LockVehicle(ctx context.Context, vehicleID types.ID) error {
	tx := txFromContext(ctx)
	if tx == nil {
		return errors.New("lock vehicle: no transaction in context")
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, string(vehicleID)); err != nil {
		return fmt.Errorf("lock vehicle: %w", err)
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, patch Patch) (bool, error) {
	tag, err := s.exec(ctx, `
		UPDATE bookings
		SET status = $1,
			status_version = status_version + 1,
			start_odometer = COALESCE($2, start_odometer),
			end_odometer = COALESCE($3, end_odometer),
			updated_at = NOW()
		WHERE id = $4 AND status = $5 AND status_version = $6`,
		string(to),
		patch.StartOdometer,
		patch.EndOdometer,
		string(id),
		string(from),
		version,
	)
	if err != nil {
		return false, fmt.Errorf("update booking status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) HasCommittedOverlap(ctx context.Context, vehicleID, exceptID types.ID, r types.DateRange) (bool, error) {
	var exists bool
	err := s.queryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE vehicle_id = $1
			  AND id <> $2
			  AND status IN ('approved', 'started', 'ended', 'reviewed')
			  AND start_date <= $4
			  AND $3 <= end_date
		)`,
		string(vehicleID), string(exceptID), r.Start.Time(), r.End.Time(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check overlap: %w", err)
	}
	return exists, nil
}

// RejectOverlapping rejects every pending booking on the vehicle whose range
// intersects r and returns the rejected rows.
func (s *Store) RejectOverlapping(ctx context.Context, vehicleID, exceptID types.ID, r types.DateRange) ([]*Booking, error) {
	rows, err := s.query(ctx, `
		UPDATE bookings
		SET status = 'rejected',
			status_version = status_version + 1,
			updated_at = NOW()
		WHERE vehicle_id = $1
		  AND id <> $2
		  AND status = 'pending'
		  AND start_date <= $4
		  AND $3 <= end_date
		RETURNING `+strings.Join(bookingColumns, ", "),
		string(vehicleID), string(exceptID), r.Start.Time(), r.End.Time(),
	)
	if err != nil {
		return nil, fmt.Errorf("reject overlapping: %w", err)
	}
	return collect(rows)
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	var actor *string
	if e.ActorID != nil {
		v := string(*e.ActorID)
		actor = &v
	}
	_, err := s.exec(ctx, `
		INSERT INTO booking_state_events (booking_id, from_status, to_status, actor_type, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.BookingID), string(e.FromStatus), string(e.ToStatus), e.ActorType, actor, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append booking event: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, f Filter) ([]*Booking, error) {
	q := sq.Select(bookingColumns...).
		From("bookings").
		OrderBy("created_at DESC", "id").
		PlaceholderFormat(sq.Dollar)
	if f.OwnerID != "" {
		q = q.Where(sq.Eq{"owner_id": string(f.OwnerID)})
	}
	if f.RenterID != "" {
		q = q.Where(sq.Eq{"renter_id": string(f.RenterID)})
	}
	if f.VehicleID != "" {
		q = q.Where(sq.Eq{"vehicle_id": string(f.VehicleID)})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}
	rows, err := s.query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*Booking, error) {
	defer rows.Close()
	out := []*Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b                      Booking
		vehicle, owner, renter []byte
		addons                 []byte
		startDate, endDate     time.Time
		id, status             string
	)
	err := row.Scan(
		&id, &b.DedupKey, &vehicle, &owner, &renter, &b.Amount, &addons,
		&startDate, &endDate, &b.StartOdometerValue, &b.EndOdometerValue,
		&status, &b.StatusVersion, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.ID = types.ID(id)
	b.Status = Status(status)
	b.StartDate = types.DateOf(startDate)
	b.EndDate = types.DateOf(endDate)
	if err := json.Unmarshal(vehicle, &b.Vehicle); err != nil {
		return nil, fmt.Errorf("decode vehicle snapshot: %w", err)
	}
	if err := json.Unmarshal(owner, &b.Owner); err != nil {
		return nil, fmt.Errorf("decode owner snapshot: %w", err)
	}
	if err := json.Unmarshal(renter, &b.From); err != nil {
		return nil, fmt.Errorf("decode renter snapshot: %w", err)
	}
	if err := json.Unmarshal(addons, &b.SelectedAddons); err != nil {
		return nil, fmt.Errorf("decode addons: %w", err)
	}
	return &b, nil
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
