// Package store persists reservations and call records. Reads go through
// BookingsView so availability checks can run against a plain snapshot;
// writes go through Committer, which re-validates inside its own critical
// section so two concurrent calls cannot both take the last seats.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/PranavSlathia/Vartalaap/internal/availability"
	"github.com/PranavSlathia/Vartalaap/internal/rules"
)

// ErrCommitConflict means the slot passed the pre-check but failed the
// re-check at commit time because another booking landed first.
var ErrCommitConflict = errors.New("store: slot no longer available")

// Reservation is one confirmed booking.
type Reservation struct {
	ID              string
	BusinessID      string
	Date            string // "2006-01-02"
	StartMins       int    // minutes since midnight, business time
	PartySize       int
	Name            string
	SpecialRequests string
	CreatedAt       time.Time
}

// CallRecord is the per-call summary written when a session closes. The
// transcript is included only when the caller's consent level allows it; the
// session decides that before handing the record over.
type CallRecord struct {
	CallID     string
	BusinessID string
	StartedAt  time.Time
	EndedAt    time.Time
	Outcome    string
	Language   string
	Consent    string
	Transcript string
	WhatsApp   string
}

// BookingsView reads the bookings relevant to an availability check.
type BookingsView interface {
	BookingsOn(ctx context.Context, businessID, date string) ([]availability.Booking, error)
}

// Committer writes a reservation after re-running the availability check
// atomically with the write. Implementations return ErrCommitConflict when
// the re-check fails.
type Committer interface {
	Commit(ctx context.Context, rs *rules.RuleSet, r Reservation, now time.Time) (Reservation, error)
}

// CallSink receives the closing call record.
type CallSink interface {
	SaveCall(ctx context.Context, rec CallRecord) error
}

// Store is the full persistence surface a session needs.
type Store interface {
	BookingsView
	Committer
	CallSink
}
