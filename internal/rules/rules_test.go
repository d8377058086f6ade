package rules

import (
	"testing"
	"time"
)

const sampleYAML = `
business:
  name: Himalayan Kitchen
  timezone: Asia/Kolkata
  greeting: "Namaste! Himalayan Kitchen mein aapka swagat hai."
  operating_hours:
    monday: closed
    tuesday: "11:00-22:30"
    wednesday: "11:00-22:30"
    thursday: "11:00-22:30"
    friday: "11:00-22:30"
    saturday: "11:00-23:00"
    sunday: "11:00-23:00"
reservation_rules:
  closed_dates: ["2026-10-20"]
  total_seats: 40
  dining_window_mins: 90
  buffer_between_bookings_mins: 15
  min_advance_booking_mins: 30
  max_advance_booking_days: 30
  max_phone_party_size: 10
  peak_windows:
    - start: "19:00"
      end: "21:00"
      max_party_size: 6
`

func TestParse_FullFile(t *testing.T) {
	rs, err := Parse("himalayan_kitchen", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rs.BusinessName != "Himalayan Kitchen" {
		t.Fatalf("name = %q", rs.BusinessName)
	}
	if !rs.OperatingHours[time.Monday].Closed {
		t.Fatalf("expected monday closed")
	}
	if w := rs.OperatingHours[time.Saturday]; w.Open != "11:00" || w.Close != "23:00" {
		t.Fatalf("saturday window = %+v", w)
	}
	if !rs.ClosedDates["2026-10-20"] {
		t.Fatalf("expected closed date recorded")
	}
	if len(rs.PeakWindows) != 1 || rs.PeakWindows[0].MaxPartySize != 6 {
		t.Fatalf("peak windows = %+v", rs.PeakWindows)
	}
}

func TestParse_BadHoursRejected(t *testing.T) {
	bad := "business:\n  operating_hours:\n    tuesday: \"11am to 10pm\"\n"
	if _, err := Parse("x", []byte(bad)); err == nil {
		t.Fatalf("expected error for malformed hours")
	}
}

func TestDefault_IsUsable(t *testing.T) {
	rs := Default("x")
	if rs.TotalSeats != 40 || rs.MaxPhonePartySize != 10 {
		t.Fatalf("unexpected defaults: %+v", rs)
	}
	if !rs.OperatingHours[time.Monday].Closed {
		t.Fatalf("expected default monday closed")
	}
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"00:00", 0, true},
		{"11:30", 690, true},
		{"22:30", 1350, true},
		{"9 baje", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseClock(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("%q: err = %v", tc.in, err)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("%q: got %d want %d", tc.in, got, tc.want)
		}
	}
	if FormatClock(1350) != "22:30" {
		t.Fatalf("format round trip failed")
	}
}
