// Package slots holds the structured booking state for one call and the
// typed extraction patch that mutates it. Every field obeys last-value-wins:
// a correction overwrites, never merges.
package slots

import (
	"sync"
	"time"
)

// FieldName identifies one booking slot.
type FieldName string

const (
	FieldPartySize       FieldName = "party_size"
	FieldDate            FieldName = "date"
	FieldTime            FieldName = "time"
	FieldName_           FieldName = "name"
	FieldSpecialRequests FieldName = "special_requests"
)

// Intent is the caller intent the extraction step attributed to a turn.
type Intent string

const (
	IntentUnknown     Intent = ""
	IntentReservation Intent = "make_reservation"
	IntentModify      Intent = "modify_reservation"
	IntentCancel      Intent = "cancel_reservation"
	IntentInquiry     Intent = "inquiry"
	IntentChitchat    Intent = "chitchat"
	IntentOperator    Intent = "operator_request"
	IntentConfirmYes  Intent = "confirm_yes"
	IntentConfirmNo   Intent = "confirm_no"
	IntentEndCall     Intent = "end_call"
)

// FieldAction distinguishes "not mentioned" from "explicitly cleared" in an
// extraction result; a loosely-typed map cannot carry that distinction.
type FieldAction int

const (
	FieldNotMentioned FieldAction = iota
	FieldSet
	FieldCleared
)

// IntField is a typed partial int value.
type IntField struct {
	Action FieldAction
	Value  int
}

// StringField is a typed partial string value.
type StringField struct {
	Action FieldAction
	Value  string
}

// DateField is a typed partial calendar date (midnight in business time).
type DateField struct {
	Action FieldAction
	Value  time.Time
}

// SetInt builds a set IntField.
func SetInt(v int) IntField { return IntField{Action: FieldSet, Value: v} }

// SetString builds a set StringField.
func SetString(v string) StringField { return StringField{Action: FieldSet, Value: v} }

// SetDate builds a set DateField.
func SetDate(v time.Time) DateField { return DateField{Action: FieldSet, Value: v} }

// Extraction is the validated structured output of the extraction step for
// one finalized utterance. Fields left NotMentioned leave the slot set
// untouched.
type Extraction struct {
	Intent     Intent
	Confidence float64

	PartySize       IntField
	Date            DateField
	Time            StringField // "HH:MM"
	Name            StringField
	SpecialRequests StringField
}

// Empty reports whether the extraction carries no slot content.
func (e Extraction) Empty() bool {
	return e.PartySize.Action == FieldNotMentioned &&
		e.Date.Action == FieldNotMentioned &&
		e.Time.Action == FieldNotMentioned &&
		e.Name.Action == FieldNotMentioned &&
		e.SpecialRequests.Action == FieldNotMentioned
}

// SlotSet is a snapshot of the booking fields. Nil pointers mean unset.
type SlotSet struct {
	PartySize       *int
	Date            *time.Time
	Time            *string
	Name            *string
	SpecialRequests *string
}

// MissingFields lists the required fields still unset, in ask order.
func (s SlotSet) MissingFields() []FieldName {
	var missing []FieldName
	if s.PartySize == nil {
		missing = append(missing, FieldPartySize)
	}
	if s.Date == nil {
		missing = append(missing, FieldDate)
	}
	if s.Time == nil {
		missing = append(missing, FieldTime)
	}
	if s.Name == nil {
		missing = append(missing, FieldName_)
	}
	return missing
}

// Complete reports whether all required booking fields are set.
func (s SlotSet) Complete() bool { return len(s.MissingFields()) == 0 }

// ChangeKind classifies what Apply did to one field.
type ChangeKind int

const (
	ChangeSet ChangeKind = iota + 1
	ChangeCorrected
	ChangeCleared
)

// Changeset maps each touched field to what happened to it.
type Changeset map[FieldName]ChangeKind

// Corrected lists the fields whose existing value was overwritten, so the
// turn coordinator can acknowledge the correction verbally.
func (c Changeset) Corrected() []FieldName {
	var out []FieldName
	for _, f := range []FieldName{FieldPartySize, FieldDate, FieldTime, FieldName_, FieldSpecialRequests} {
		if c[f] == ChangeCorrected {
			out = append(out, f)
		}
	}
	return out
}

// Store owns the mutable SlotSet for one session. Only the orchestrator's
// turn path mutates it; snapshots are value copies safe to read concurrently.
type Store struct {
	mu  sync.Mutex
	set SlotSet
}

// NewStore returns an empty slot store.
func NewStore() *Store { return &Store{} }

// Snapshot returns a copy of the current slots.
func (st *Store) Snapshot() SlotSet {
	st.mu.Lock()
	defer st.mu.Unlock()
	return copySet(st.set)
}

// Apply merges one extraction into the slot set. Each field is handled
// independently: unset fields get set, differing values get overwritten and
// marked corrected, explicit clears empty the field. Returns the changeset.
func (st *Store) Apply(e Extraction) Changeset {
	st.mu.Lock()
	defer st.mu.Unlock()

	cs := Changeset{}

	switch e.PartySize.Action {
	case FieldSet:
		if e.PartySize.Value >= 1 {
			v := e.PartySize.Value
			switch {
			case st.set.PartySize == nil:
				st.set.PartySize = &v
				cs[FieldPartySize] = ChangeSet
			case *st.set.PartySize != v:
				st.set.PartySize = &v
				cs[FieldPartySize] = ChangeCorrected
			}
		}
	case FieldCleared:
		if st.set.PartySize != nil {
			st.set.PartySize = nil
			cs[FieldPartySize] = ChangeCleared
		}
	}

	switch e.Date.Action {
	case FieldSet:
		v := e.Date.Value
		switch {
		case st.set.Date == nil:
			st.set.Date = &v
			cs[FieldDate] = ChangeSet
		case !sameDate(*st.set.Date, v):
			st.set.Date = &v
			cs[FieldDate] = ChangeCorrected
		}
	case FieldCleared:
		if st.set.Date != nil {
			st.set.Date = nil
			cs[FieldDate] = ChangeCleared
		}
	}

	applyString(&st.set.Time, e.Time, FieldTime, cs)
	applyString(&st.set.Name, e.Name, FieldName_, cs)
	applyString(&st.set.SpecialRequests, e.SpecialRequests, FieldSpecialRequests, cs)

	return cs
}

func applyString(slot **string, f StringField, name FieldName, cs Changeset) {
	switch f.Action {
	case FieldSet:
		if f.Value == "" {
			return
		}
		switch {
		case *slot == nil:
			v := f.Value
			*slot = &v
			cs[name] = ChangeSet
		case **slot != f.Value:
			v := f.Value
			*slot = &v
			cs[name] = ChangeCorrected
		}
	case FieldCleared:
		if *slot != nil {
			*slot = nil
			cs[name] = ChangeCleared
		}
	}
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func copySet(s SlotSet) SlotSet {
	out := SlotSet{}
	if s.PartySize != nil {
		v := *s.PartySize
		out.PartySize = &v
	}
	if s.Date != nil {
		v := *s.Date
		out.Date = &v
	}
	if s.Time != nil {
		v := *s.Time
		out.Time = &v
	}
	if s.Name != nil {
		v := *s.Name
		out.Name = &v
	}
	if s.SpecialRequests != nil {
		v := *s.SpecialRequests
		out.SpecialRequests = &v
	}
	return out
}
