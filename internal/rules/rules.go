// Package rules holds the per-business reservation policy loaded once at
// session start. A RuleSet is immutable for the lifetime of a call.
package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DayWindow is one weekday's operating window. Closed days have Closed set
// and empty Open/Close.
type DayWindow struct {
	Closed bool
	Open   string // "HH:MM"
	Close  string // "HH:MM"
}

// PeakWindow is a daily time range with a stricter party-size cap.
type PeakWindow struct {
	Start        string `yaml:"start"` // "HH:MM"
	End          string `yaml:"end"`   // "HH:MM"
	MaxPartySize int    `yaml:"max_party_size"`
}

// RuleSet is the immutable-for-the-call booking configuration.
type RuleSet struct {
	BusinessID   string
	BusinessName string
	Timezone     string
	Greeting     string

	OperatingHours map[time.Weekday]DayWindow
	ClosedDates    map[string]bool // "2006-01-02"

	TotalSeats        int
	DiningWindowMins  int
	BufferMins        int
	MinAdvanceMins    int
	MaxAdvanceDays    int
	MaxPhonePartySize int
	PeakWindows       []PeakWindow
}

// ruleFile mirrors the YAML layout of config/business/<id>.yaml.
type ruleFile struct {
	Business struct {
		Name           string            `yaml:"name"`
		Timezone       string            `yaml:"timezone"`
		Greeting       string            `yaml:"greeting"`
		OperatingHours map[string]string `yaml:"operating_hours"` // weekday -> "HH:MM-HH:MM" or "closed"
	} `yaml:"business"`
	ReservationRules struct {
		ClosedDates       []string     `yaml:"closed_dates"`
		TotalSeats        int          `yaml:"total_seats"`
		DiningWindowMins  int          `yaml:"dining_window_mins"`
		BufferMins        int          `yaml:"buffer_between_bookings_mins"`
		MinAdvanceMins    int          `yaml:"min_advance_booking_mins"`
		MaxAdvanceDays    int          `yaml:"max_advance_booking_days"`
		MaxPhonePartySize int          `yaml:"max_phone_party_size"`
		PeakWindows       []PeakWindow `yaml:"peak_windows"`
	} `yaml:"reservation_rules"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Default returns the rule set used when no business file exists.
func Default(businessID string) *RuleSet {
	hours := make(map[time.Weekday]DayWindow, 7)
	for _, wd := range []time.Weekday{time.Sunday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday} {
		hours[wd] = DayWindow{Open: "11:00", Close: "22:30"}
	}
	hours[time.Monday] = DayWindow{Closed: true}
	return &RuleSet{
		BusinessID:        businessID,
		BusinessName:      "restaurant",
		Timezone:          "Asia/Kolkata",
		Greeting:          "Namaste! Aapka swagat hai. Yeh call transcribe ho sakti hai. Main aapki kya madad kar sakti hoon?",
		OperatingHours:    hours,
		ClosedDates:       map[string]bool{},
		TotalSeats:        40,
		DiningWindowMins:  90,
		BufferMins:        15,
		MinAdvanceMins:    30,
		MaxAdvanceDays:    30,
		MaxPhonePartySize: 10,
	}
}

// Load reads <dir>/<businessID>.yaml. A missing file yields Default.
func Load(dir, businessID string) (*RuleSet, error) {
	path := filepath.Join(dir, businessID+".yaml")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(businessID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", path, err)
	}
	return Parse(businessID, raw)
}

// Parse decodes a YAML rule file, filling unset values from Default.
func Parse(businessID string, raw []byte) (*RuleSet, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return nil, fmt.Errorf("rules: parse %s: %w", businessID, err)
	}

	rs := Default(businessID)
	if rf.Business.Name != "" {
		rs.BusinessName = rf.Business.Name
	}
	if rf.Business.Timezone != "" {
		rs.Timezone = rf.Business.Timezone
	}
	if rf.Business.Greeting != "" {
		rs.Greeting = rf.Business.Greeting
	}
	if len(rf.Business.OperatingHours) > 0 {
		hours := make(map[time.Weekday]DayWindow, 7)
		for name, wd := range weekdayNames {
			spec, ok := rf.Business.OperatingHours[name]
			if !ok || strings.EqualFold(strings.TrimSpace(spec), "closed") {
				hours[wd] = DayWindow{Closed: true}
				continue
			}
			open, close, err := splitWindow(spec)
			if err != nil {
				return nil, fmt.Errorf("rules: %s %s: %w", businessID, name, err)
			}
			hours[wd] = DayWindow{Open: open, Close: close}
		}
		rs.OperatingHours = hours
	}

	rr := rf.ReservationRules
	for _, d := range rr.ClosedDates {
		rs.ClosedDates[d] = true
	}
	if rr.TotalSeats > 0 {
		rs.TotalSeats = rr.TotalSeats
	}
	if rr.DiningWindowMins > 0 {
		rs.DiningWindowMins = rr.DiningWindowMins
	}
	if rr.BufferMins > 0 {
		rs.BufferMins = rr.BufferMins
	}
	if rr.MinAdvanceMins > 0 {
		rs.MinAdvanceMins = rr.MinAdvanceMins
	}
	if rr.MaxAdvanceDays > 0 {
		rs.MaxAdvanceDays = rr.MaxAdvanceDays
	}
	if rr.MaxPhonePartySize > 0 {
		rs.MaxPhonePartySize = rr.MaxPhonePartySize
	}
	rs.PeakWindows = rr.PeakWindows
	return rs, nil
}

// Location resolves the business timezone, falling back to IST.
func (r *RuleSet) Location() *time.Location {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		loc, _ = time.LoadLocation("Asia/Kolkata")
	}
	return loc
}

func splitWindow(spec string) (string, string, error) {
	parts := strings.SplitN(strings.TrimSpace(spec), "-", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid hours %q", spec)
	}
	open, close := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if _, err := ParseClock(open); err != nil {
		return "", "", err
	}
	if _, err := ParseClock(close); err != nil {
		return "", "", err
	}
	return open, close, nil
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(mins int) string {
	mins = ((mins % 1440) + 1440) % 1440
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}
