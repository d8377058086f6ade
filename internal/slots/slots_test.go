package slots

import (
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestApply_LastAssertedValueWins(t *testing.T) {
	st := NewStore()

	cs := st.Apply(Extraction{PartySize: SetInt(4)})
	if cs[FieldPartySize] != ChangeSet {
		t.Fatalf("first set: %v", cs)
	}

	// "actually 6 log" - a correction overwrites and is marked as such.
	cs = st.Apply(Extraction{PartySize: SetInt(6)})
	if cs[FieldPartySize] != ChangeCorrected {
		t.Fatalf("expected corrected, got %v", cs)
	}
	if got := st.Snapshot().PartySize; got == nil || *got != 6 {
		t.Fatalf("party size = %v, want 6", got)
	}

	// Re-asserting the same value touches nothing.
	cs = st.Apply(Extraction{PartySize: SetInt(6)})
	if len(cs) != 0 {
		t.Fatalf("same value produced changes: %v", cs)
	}
}

func TestApply_FieldsAreIndependent(t *testing.T) {
	st := NewStore()
	st.Apply(Extraction{
		PartySize: SetInt(4),
		Time:      SetString("19:00"),
	})

	// Both party size and time restated in one utterance; each applies on
	// its own, no ordering dependency.
	cs := st.Apply(Extraction{
		PartySize: SetInt(6),
		Time:      SetString("20:00"),
		Name:      SetString("Sharma"),
	})
	if cs[FieldPartySize] != ChangeCorrected || cs[FieldTime] != ChangeCorrected {
		t.Fatalf("expected two corrections: %v", cs)
	}
	if cs[FieldName_] != ChangeSet {
		t.Fatalf("expected fresh name set: %v", cs)
	}
	got := cs.Corrected()
	if len(got) != 2 {
		t.Fatalf("Corrected() = %v", got)
	}
}

func TestApply_NotMentionedLeavesValues(t *testing.T) {
	st := NewStore()
	st.Apply(Extraction{PartySize: SetInt(4), Date: SetDate(day(2026, time.September, 1))})

	cs := st.Apply(Extraction{Time: SetString("19:30")})
	snap := st.Snapshot()
	if snap.PartySize == nil || *snap.PartySize != 4 {
		t.Fatalf("party size disturbed: %v", snap.PartySize)
	}
	if snap.Date == nil {
		t.Fatalf("date disturbed")
	}
	if _, touched := cs[FieldPartySize]; touched {
		t.Fatalf("untouched field in changeset: %v", cs)
	}
}

func TestApply_ExplicitClear(t *testing.T) {
	st := NewStore()
	st.Apply(Extraction{SpecialRequests: SetString("window seat")})

	cs := st.Apply(Extraction{SpecialRequests: StringField{Action: FieldCleared}})
	if cs[FieldSpecialRequests] != ChangeCleared {
		t.Fatalf("expected cleared: %v", cs)
	}
	if st.Snapshot().SpecialRequests != nil {
		t.Fatalf("clear did not empty field")
	}

	// Clearing an already-empty field is a no-op.
	cs = st.Apply(Extraction{SpecialRequests: StringField{Action: FieldCleared}})
	if len(cs) != 0 {
		t.Fatalf("clear of empty field produced changes: %v", cs)
	}
}

func TestApply_RejectsNonPositivePartySize(t *testing.T) {
	st := NewStore()
	st.Apply(Extraction{PartySize: SetInt(0)})
	if st.Snapshot().PartySize != nil {
		t.Fatalf("accepted party size 0")
	}
}

func TestMissingFields(t *testing.T) {
	st := NewStore()
	st.Apply(Extraction{PartySize: SetInt(2), Time: SetString("13:00")})
	snap := st.Snapshot()
	if snap.Complete() {
		t.Fatalf("incomplete set reported complete")
	}
	missing := snap.MissingFields()
	if len(missing) != 2 || missing[0] != FieldDate || missing[1] != FieldName_ {
		t.Fatalf("missing = %v", missing)
	}

	st.Apply(Extraction{Date: SetDate(day(2026, time.September, 1)), Name: SetString("Asha")})
	if !st.Snapshot().Complete() {
		t.Fatalf("complete set reported incomplete")
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	st := NewStore()
	st.Apply(Extraction{PartySize: SetInt(4)})
	snap := st.Snapshot()
	*snap.PartySize = 99
	if got := st.Snapshot().PartySize; *got != 4 {
		t.Fatalf("snapshot aliased store: %d", *got)
	}
}
