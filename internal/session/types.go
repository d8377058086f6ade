package session

import (
	"time"

	"github.com/PranavSlathia/Vartalaap/internal/language"
	"github.com/PranavSlathia/Vartalaap/internal/slots"
)

// Phase is where the reservation conversation currently stands.
type Phase int

const (
	PhaseGreeting Phase = iota
	PhaseGathering
	PhaseAwaitingConfirmation
	PhaseCompleted
	PhaseTransferred
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseGreeting:
		return "greeting"
	case PhaseGathering:
		return "gathering"
	case PhaseAwaitingConfirmation:
		return "awaiting_confirmation"
	case PhaseCompleted:
		return "completed"
	case PhaseTransferred:
		return "transferred"
	case PhaseClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Outcome summarizes how the call ended.
type Outcome string

const (
	OutcomeResolved      Outcome = "resolved"
	OutcomeFallback      Outcome = "fallback"
	OutcomeDropped       Outcome = "dropped"
	OutcomeError         Outcome = "error"
	OutcomePrivacyOptOut Outcome = "privacy_opt_out"
)

// Consent is what the caller allowed the business to keep.
type Consent string

const (
	ConsentNone       Consent = "none"
	ConsentTranscript Consent = "transcript"
	ConsentWhatsApp   Consent = "whatsapp"
)

// PersistDetail reports whether per-turn detail may be written out.
func (c Consent) PersistDetail() bool { return c != ConsentNone }

// Turn is the record of one completed exchange.
type Turn struct {
	Seq               int
	User              string
	AssistantSpoken   string
	Language          language.Label
	Intent            slots.Intent
	Changes           slots.Changeset
	Interrupted       bool
	FallbackUsed      bool
	UtteranceLatency  time.Duration
	ReplyLatency      time.Duration
	GenerateLatency   time.Duration
	FirstAudioLatency time.Duration
	At                time.Time
}
