package availability

import (
	"testing"
	"time"

	"github.com/PranavSlathia/Vartalaap/internal/rules"
)

var ist = time.FixedZone("IST", 5*3600+1800)

// testRules: open 11:00-22:30 except Monday, 40 seats, 90-minute dining
// window plus 15-minute buffer, 30-minute minimum advance, 30-day maximum.
func testRules() *rules.RuleSet {
	return rules.Default("test")
}

func onDay(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, ist)
}

func mins(h, m int) int { return h*60 + m }

func TestCheck_OpenSlotIsAvailable(t *testing.T) {
	rs := testRules()
	now := time.Date(2026, time.August, 25, 12, 0, 0, 0, ist)

	// Tuesday 20:00 for four, nothing else on the books.
	res := Check(rs, nil, onDay(2026, time.September, 1), mins(20, 0), 4, now)
	if res.Status != Available {
		t.Fatalf("status = %s", res.Status)
	}
	if res.SeatsInUse != 0 {
		t.Fatalf("seats in use = %d", res.SeatsInUse)
	}
}

func TestCheck_ClosedDay(t *testing.T) {
	rs := testRules()
	now := time.Date(2026, time.August, 25, 12, 0, 0, 0, ist)

	// Monday is closed every week.
	res := Check(rs, nil, onDay(2026, time.August, 31), mins(20, 0), 4, now)
	if res.Status != RejectedClosed {
		t.Fatalf("status = %s", res.Status)
	}

	// A one-off closed date rejects the same way.
	rs.ClosedDates["2026-09-01"] = true
	res = Check(rs, nil, onDay(2026, time.September, 1), mins(20, 0), 4, now)
	if res.Status != RejectedClosed {
		t.Fatalf("closed date status = %s", res.Status)
	}
}

func TestCheck_OutsideHours(t *testing.T) {
	rs := testRules()
	now := time.Date(2026, time.August, 25, 12, 0, 0, 0, ist)
	date := onDay(2026, time.September, 1)

	cases := []int{
		mins(10, 30), // before opening
		mins(23, 0),  // after close
	}
	for _, tm := range cases {
		if res := Check(rs, nil, date, tm, 4, now); res.Status != RejectedOutsideHours {
			t.Fatalf("%s: status = %s", rules.FormatClock(tm), res.Status)
		}
	}
}

func TestCheck_LateSeatingDinesPastClose(t *testing.T) {
	rs := testRules()
	now := time.Date(2026, time.August, 25, 12, 0, 0, 0, ist)
	date := onDay(2026, time.September, 1)

	// Seating up to and including closing time is fine even though the
	// dining window runs past it; only the start has to be within hours.
	for _, tm := range []int{mins(21, 30), mins(22, 0), mins(22, 30)} {
		if res := Check(rs, nil, date, tm, 4, now); res.Status != Available {
			t.Fatalf("%s: status = %s", rules.FormatClock(tm), res.Status)
		}
	}
}

func TestCheck_AdvanceBounds(t *testing.T) {
	rs := testRules()
	date := onDay(2026, time.September, 1)

	// Fifteen minutes of notice is under the 30-minute minimum.
	now := time.Date(2026, time.September, 1, 19, 45, 0, 0, ist)
	if res := Check(rs, nil, date, mins(20, 0), 4, now); res.Status != RejectedTooSoon {
		t.Fatalf("min advance: status = %s", res.Status)
	}

	// More than 30 days out is rejected the same way.
	now = time.Date(2026, time.August, 25, 12, 0, 0, 0, ist)
	far := onDay(2026, time.October, 13) // a Tuesday, 49 days out
	if res := Check(rs, nil, far, mins(20, 0), 4, now); res.Status != RejectedTooSoon {
		t.Fatalf("max advance: status = %s", res.Status)
	}
}

func TestCheck_PartyTooLarge(t *testing.T) {
	rs := testRules()
	now := time.Date(2026, time.August, 25, 12, 0, 0, 0, ist)
	date := onDay(2026, time.September, 1)

	if res := Check(rs, nil, date, mins(20, 0), 12, now); res.Status != RejectedPartyTooLarge {
		t.Fatalf("status = %s", res.Status)
	}
}

func TestCheck_PeakWindowCap(t *testing.T) {
	rs := testRules()
	rs.PeakWindows = []rules.PeakWindow{{Start: "19:00", End: "21:00", MaxPartySize: 6}}
	now := time.Date(2026, time.August, 25, 12, 0, 0, 0, ist)
	date := onDay(2026, time.September, 1)

	if res := Check(rs, nil, date, mins(20, 0), 8, now); res.Status != RejectedPartyTooLarge {
		t.Fatalf("in peak: status = %s", res.Status)
	}
	// The same party outside the peak window is fine.
	if res := Check(rs, nil, date, mins(18, 0), 8, now); res.Status != Available {
		t.Fatalf("off peak: status = %s", res.Status)
	}
}

func TestCheck_CapacityWithAlternatives(t *testing.T) {
	rs := testRules()
	now := time.Date(2026, time.August, 25, 12, 0, 0, 0, ist)
	date := onDay(2026, time.September, 1)

	// 38 of 40 seats already occupied across the requested window.
	bookings := []Booking{
		{Date: "2026-09-01", StartMins: mins(20, 0), PartySize: 20},
		{Date: "2026-09-01", StartMins: mins(19, 30), PartySize: 18},
	}
	res := Check(rs, bookings, date, mins(20, 0), 4, now)
	if res.Status != RejectedCapacity {
		t.Fatalf("status = %s", res.Status)
	}
	if res.SeatsInUse != 38 {
		t.Fatalf("seats in use = %d", res.SeatsInUse)
	}
	if len(res.Alternatives) == 0 {
		t.Fatalf("expected at least one alternative")
	}
	// Every suggested time must itself pass the full check.
	for _, alt := range res.Alternatives {
		if again := Check(rs, bookings, date, alt, 4, now); again.Status != Available {
			t.Fatalf("alternative %s not actually available: %s", rules.FormatClock(alt), again.Status)
		}
	}
}

func TestCheck_CapacityIgnoresNonOverlapping(t *testing.T) {
	rs := testRules()
	now := time.Date(2026, time.August, 25, 12, 0, 0, 0, ist)
	date := onDay(2026, time.September, 1)

	// A lunch booking and a different day's booking do not count against
	// a 20:00 request.
	bookings := []Booking{
		{Date: "2026-09-01", StartMins: mins(12, 0), PartySize: 38},
		{Date: "2026-09-02", StartMins: mins(20, 0), PartySize: 38},
	}
	res := Check(rs, bookings, date, mins(20, 0), 4, now)
	if res.Status != Available {
		t.Fatalf("status = %s (seats %d)", res.Status, res.SeatsInUse)
	}
}
