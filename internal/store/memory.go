package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PranavSlathia/Vartalaap/internal/availability"
	"github.com/PranavSlathia/Vartalaap/internal/rules"
)

// Memory is an in-process Store used for development and tests. The mutex is
// the commit-time critical section: the re-check and the append happen under
// one lock, which is what makes ErrCommitConflict reachable but never a lie.
type Memory struct {
	mu           sync.Mutex
	reservations []Reservation
	calls        []CallRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) BookingsOn(_ context.Context, businessID, date string) ([]availability.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bookingsLocked(businessID, date), nil
}

func (m *Memory) bookingsLocked(businessID, date string) []availability.Booking {
	var out []availability.Booking
	for _, r := range m.reservations {
		if r.BusinessID == businessID && r.Date == date {
			out = append(out, availability.Booking{
				Date:      r.Date,
				StartMins: r.StartMins,
				PartySize: r.PartySize,
			})
		}
	}
	return out
}

func (m *Memory) Commit(_ context.Context, rs *rules.RuleSet, r Reservation, now time.Time) (Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	date, err := time.ParseInLocation("2006-01-02", r.Date, now.Location())
	if err != nil {
		return Reservation{}, err
	}
	bookings := m.bookingsLocked(r.BusinessID, r.Date)
	res := availability.Check(rs, bookings, date, r.StartMins, r.PartySize, now)
	if res.Status != availability.Available {
		return Reservation{}, ErrCommitConflict
	}

	r.ID = uuid.NewString()
	r.CreatedAt = now
	m.reservations = append(m.reservations, r)
	return r, nil
}

func (m *Memory) SaveCall(_ context.Context, rec CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, rec)
	return nil
}

// Calls returns a copy of the saved call records, for tests.
func (m *Memory) Calls() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CallRecord(nil), m.calls...)
}

// Reservations returns a copy of the committed reservations, for tests.
func (m *Memory) Reservations() []Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Reservation(nil), m.reservations...)
}
