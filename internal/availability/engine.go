// Package availability decides whether a reservation request can be seated.
// Check is a pure function over the rule set, the day's existing bookings and
// a caller-supplied clock, so every rejection path is unit-testable without
// a database or wall time.
package availability

import (
	"time"

	"github.com/PranavSlathia/Vartalaap/internal/rules"
)

// Status is the outcome of one availability check. Rejections carry the first
// failing rule; checks short-circuit in a fixed order so the caller always
// hears the most fundamental problem first.
type Status string

const (
	Available             Status = "available"
	RejectedClosed        Status = "rejected-closed"
	RejectedOutsideHours  Status = "rejected-outside-hours"
	RejectedTooSoon       Status = "rejected-too-soon"
	RejectedPartyTooLarge Status = "rejected-party-too-large"
	RejectedCapacity      Status = "rejected-capacity"
)

// Booking is one existing reservation as seen by the engine. StartMins is
// minutes since midnight in business time on Date ("2006-01-02").
type Booking struct {
	Date      string
	StartMins int
	PartySize int
}

// Result is the full answer for one request. Alternatives holds up to two
// same-day start times (minutes since midnight) that pass the complete check,
// nearest-earlier first when both exist.
type Result struct {
	Status       Status
	Date         string
	TimeMins     int
	PartySize    int
	SeatsInUse   int
	Alternatives []int
}

// Check evaluates a request for partySize seats on date at timeMins against
// the rule set and the day's bookings. The rules short-circuit: closed day,
// operating window, advance bounds, party size, then capacity. Capacity
// rejections come back with nearby alternative times when any exist.
func Check(rs *rules.RuleSet, bookings []Booking, date time.Time, timeMins, partySize int, now time.Time) Result {
	res := Result{
		Date:      date.Format("2006-01-02"),
		TimeMins:  timeMins,
		PartySize: partySize,
	}

	res.Status = checkOnce(rs, bookings, date, timeMins, partySize, now, &res.SeatsInUse)
	if res.Status == RejectedCapacity {
		res.Alternatives = alternatives(rs, bookings, date, timeMins, partySize, now)
	}
	return res
}

// checkOnce runs the short-circuit rule chain for a single candidate time.
func checkOnce(rs *rules.RuleSet, bookings []Booking, date time.Time, timeMins, partySize int, now time.Time, seatsInUse *int) Status {
	dateKey := date.Format("2006-01-02")

	day := rs.OperatingHours[date.Weekday()]
	if day.Closed || rs.ClosedDates[dateKey] {
		return RejectedClosed
	}

	open, err := rules.ParseClock(day.Open)
	if err != nil {
		return RejectedClosed
	}
	close, err := rules.ParseClock(day.Close)
	if err != nil {
		return RejectedClosed
	}
	// Only the seating time has to fall inside the operating window; a party
	// seated near close simply dines past it.
	if timeMins < open || timeMins > close {
		return RejectedOutsideHours
	}

	loc := now.Location()
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc).
		Add(time.Duration(timeMins) * time.Minute)
	if start.Sub(now) < time.Duration(rs.MinAdvanceMins)*time.Minute {
		return RejectedTooSoon
	}
	if start.After(now.AddDate(0, 0, rs.MaxAdvanceDays)) {
		return RejectedTooSoon
	}

	if partySize > rs.MaxPhonePartySize {
		return RejectedPartyTooLarge
	}
	if limit, capped := peakCap(rs, timeMins); capped && partySize > limit {
		return RejectedPartyTooLarge
	}

	used := seatsOverlapping(rs, bookings, dateKey, timeMins)
	if seatsInUse != nil {
		*seatsInUse = used
	}
	if used+partySize > rs.TotalSeats {
		return RejectedCapacity
	}
	return Available
}

// peakCap returns the strictest peak-window party cap covering timeMins.
func peakCap(rs *rules.RuleSet, timeMins int) (int, bool) {
	limit, capped := 0, false
	for _, w := range rs.PeakWindows {
		start, err := rules.ParseClock(w.Start)
		if err != nil {
			continue
		}
		end, err := rules.ParseClock(w.End)
		if err != nil {
			continue
		}
		if timeMins >= start && timeMins < end && w.MaxPartySize > 0 {
			if !capped || w.MaxPartySize < limit {
				limit, capped = w.MaxPartySize, true
			}
		}
	}
	return limit, capped
}

// seatsOverlapping sums the party sizes of bookings whose occupied interval
// intersects the candidate's. A booking occupies its dining window plus the
// turnover buffer.
func seatsOverlapping(rs *rules.RuleSet, bookings []Booking, dateKey string, timeMins int) int {
	span := rs.DiningWindowMins + rs.BufferMins
	candStart, candEnd := timeMins, timeMins+span

	used := 0
	for _, b := range bookings {
		if b.Date != dateKey {
			continue
		}
		bStart, bEnd := b.StartMins, b.StartMins+span
		if bStart < candEnd && candStart < bEnd {
			used += b.PartySize
		}
	}
	return used
}

// alternatives searches outward in 30-minute steps for up to two same-day
// times that pass the full check: the nearest earlier and the nearest later.
func alternatives(rs *rules.RuleSet, bookings []Booking, date time.Time, timeMins, partySize int, now time.Time) []int {
	const step = 30
	const maxSteps = 8 // four hours either way

	var earlier, later int
	haveEarlier, haveLater := false, false

	for i := 1; i <= maxSteps && !haveEarlier; i++ {
		t := timeMins - i*step
		if t < 0 {
			break
		}
		if checkOnce(rs, bookings, date, t, partySize, now, nil) == Available {
			earlier, haveEarlier = t, true
		}
	}
	for i := 1; i <= maxSteps && !haveLater; i++ {
		t := timeMins + i*step
		if t >= 24*60 {
			break
		}
		if checkOnce(rs, bookings, date, t, partySize, now, nil) == Available {
			later, haveLater = t, true
		}
	}

	var out []int
	if haveEarlier {
		out = append(out, earlier)
	}
	if haveLater {
		out = append(out, later)
	}
	return out
}
