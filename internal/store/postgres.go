package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PranavSlathia/Vartalaap/internal/availability"
	"github.com/PranavSlathia/Vartalaap/internal/rules"
)

// Postgres is the production Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and verifies the connection.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

// EnsureSchema creates the tables if they do not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reservations (
			id               UUID PRIMARY KEY,
			business_id      TEXT NOT NULL,
			date             DATE NOT NULL,
			start_mins       INT  NOT NULL,
			party_size       INT  NOT NULL,
			name             TEXT NOT NULL,
			special_requests TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS reservations_business_date
			ON reservations (business_id, date);
		CREATE TABLE IF NOT EXISTS calls (
			call_id     TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			started_at  TIMESTAMPTZ NOT NULL,
			ended_at    TIMESTAMPTZ NOT NULL,
			outcome     TEXT NOT NULL,
			language    TEXT NOT NULL,
			consent     TEXT NOT NULL,
			transcript  TEXT NOT NULL DEFAULT '',
			whatsapp    TEXT NOT NULL DEFAULT ''
		);`)
	if err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) BookingsOn(ctx context.Context, businessID, date string) ([]availability.Booking, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT start_mins, party_size FROM reservations
		 WHERE business_id = $1 AND date = $2`,
		businessID, date)
	if err != nil {
		return nil, fmt.Errorf("store: bookings: %w", err)
	}
	defer rows.Close()

	var out []availability.Booking
	for rows.Next() {
		b := availability.Booking{Date: date}
		if err := rows.Scan(&b.StartMins, &b.PartySize); err != nil {
			return nil, fmt.Errorf("store: scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// dayLockKey derives the advisory-lock key for one business day.
func dayLockKey(businessID, date string) int64 {
	h := fnv.New64a()
	h.Write([]byte(businessID))
	h.Write([]byte{'|'})
	h.Write([]byte(date))
	return int64(h.Sum64())
}

// Commit re-runs the availability check inside a transaction. An advisory
// lock on the business day is taken first; FOR UPDATE alone cannot serialize
// two commits racing on a day with no rows yet, since there is nothing to
// lock. The advisory lock is released with the transaction.
func (p *Postgres) Commit(ctx context.Context, rs *rules.RuleSet, r Reservation, now time.Time) (Reservation, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Reservation{}, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, dayLockKey(r.BusinessID, r.Date)); err != nil {
		return Reservation{}, fmt.Errorf("store: lock day: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT start_mins, party_size FROM reservations
		 WHERE business_id = $1 AND date = $2
		 FOR UPDATE`,
		r.BusinessID, r.Date)
	if err != nil {
		return Reservation{}, fmt.Errorf("store: read day: %w", err)
	}
	var bookings []availability.Booking
	for rows.Next() {
		b := availability.Booking{Date: r.Date}
		if err := rows.Scan(&b.StartMins, &b.PartySize); err != nil {
			rows.Close()
			return Reservation{}, fmt.Errorf("store: scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Reservation{}, err
	}

	date, err := time.ParseInLocation("2006-01-02", r.Date, now.Location())
	if err != nil {
		return Reservation{}, err
	}
	res := availability.Check(rs, bookings, date, r.StartMins, r.PartySize, now)
	if res.Status != availability.Available {
		return Reservation{}, ErrCommitConflict
	}

	r.ID = uuid.NewString()
	r.CreatedAt = now
	_, err = tx.Exec(ctx,
		`INSERT INTO reservations
			(id, business_id, date, start_mins, party_size, name, special_requests, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.BusinessID, r.Date, r.StartMins, r.PartySize, r.Name, r.SpecialRequests, r.CreatedAt)
	if err != nil {
		return Reservation{}, fmt.Errorf("store: insert reservation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Reservation{}, fmt.Errorf("store: commit: %w", err)
	}
	return r, nil
}

func (p *Postgres) SaveCall(ctx context.Context, rec CallRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO calls
			(call_id, business_id, started_at, ended_at, outcome, language, consent, transcript, whatsapp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (call_id) DO NOTHING`,
		rec.CallID, rec.BusinessID, rec.StartedAt, rec.EndedAt,
		rec.Outcome, rec.Language, rec.Consent, rec.Transcript, rec.WhatsApp)
	if err != nil {
		return fmt.Errorf("store: save call: %w", err)
	}
	return nil
}
