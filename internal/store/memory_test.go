package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PranavSlathia/Vartalaap/internal/rules"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func TestMemory_CommitAndRead(t *testing.T) {
	m := NewMemory()
	rs := rules.Default("himalayan_kitchen")
	now := time.Date(2026, time.August, 25, 12, 0, 0, 0, ist)

	r, err := m.Commit(context.Background(), rs, Reservation{
		BusinessID: "himalayan_kitchen",
		Date:       "2026-09-01",
		StartMins:  20 * 60,
		PartySize:  4,
		Name:       "Sharma",
	}, now)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if r.ID == "" || r.CreatedAt.IsZero() {
		t.Fatalf("commit did not stamp reservation: %+v", r)
	}

	bookings, err := m.BookingsOn(context.Background(), "himalayan_kitchen", "2026-09-01")
	if err != nil {
		t.Fatalf("bookings: %v", err)
	}
	if len(bookings) != 1 || bookings[0].PartySize != 4 {
		t.Fatalf("bookings = %+v", bookings)
	}
}

func TestMemory_CommitConflict(t *testing.T) {
	m := NewMemory()
	rs := rules.Default("himalayan_kitchen")
	rs.TotalSeats = 6
	now := time.Date(2026, time.August, 25, 12, 0, 0, 0, ist)

	base := Reservation{
		BusinessID: "himalayan_kitchen",
		Date:       "2026-09-01",
		StartMins:  20 * 60,
		Name:       "A",
	}

	first := base
	first.PartySize = 4
	if _, err := m.Commit(context.Background(), rs, first, now); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	// The second party of four would exceed six seats; the commit-time
	// re-check must refuse even though a stale pre-check said yes.
	second := base
	second.PartySize = 4
	_, err := m.Commit(context.Background(), rs, second, now)
	if !errors.Is(err, ErrCommitConflict) {
		t.Fatalf("expected commit conflict, got %v", err)
	}
	if got := len(m.Reservations()); got != 1 {
		t.Fatalf("reservations = %d", got)
	}
}

func TestMemory_SaveCall(t *testing.T) {
	m := NewMemory()
	err := m.SaveCall(context.Background(), CallRecord{
		CallID:  "c1",
		Outcome: "resolved",
		Consent: "transcript",
	})
	if err != nil {
		t.Fatalf("save call: %v", err)
	}
	calls := m.Calls()
	if len(calls) != 1 || calls[0].Outcome != "resolved" {
		t.Fatalf("calls = %+v", calls)
	}
}
