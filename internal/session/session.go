// Package session orchestrates one phone call end to end: caller audio in,
// transcription, language tracking, slot extraction, the deterministic
// reservation flow, and speech out through the turn coordinator. One Session
// per call; all turn processing happens on a single goroutine so the slot
// store and phase transitions never race.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PranavSlathia/Vartalaap/internal/availability"
	"github.com/PranavSlathia/Vartalaap/internal/barge"
	"github.com/PranavSlathia/Vartalaap/internal/language"
	"github.com/PranavSlathia/Vartalaap/internal/llm"
	"github.com/PranavSlathia/Vartalaap/internal/logger"
	"github.com/PranavSlathia/Vartalaap/internal/rules"
	"github.com/PranavSlathia/Vartalaap/internal/slots"
	"github.com/PranavSlathia/Vartalaap/internal/store"
	"github.com/PranavSlathia/Vartalaap/internal/stt"
	"github.com/PranavSlathia/Vartalaap/internal/turn"
)

// Language adoption bands. Above the high band a detection switches the call
// language immediately; in the middle band it switches but gets logged for
// review; below it the prior language holds.
const (
	langAdoptConf = 0.85
	langWatchConf = 0.70
)

// Transcriber is the live STT surface the session consumes.
type Transcriber interface {
	Connect() error
	SendPCM16(pcm []byte) error
	Interims() <-chan string
	Finalized() <-chan stt.Utterance
	RecentlyDetectedVoice(window time.Duration) bool
	Close() error
}

// Speaker runs reply turns. Satisfied by turn.Coordinator.
type Speaker interface {
	Run(ctx context.Context, req turn.Request) (turn.Result, error)
	Speak(ctx context.Context, text string) (turn.Result, error)
	Cancel()
	IsSpeaking() bool
}

// Extractor produces the typed slot patch for one utterance.
type Extractor interface {
	Extract(ctx context.Context, userUtterance, assistantReply string, history []llm.Message, now time.Time) (slots.Extraction, error)
}

// Config holds per-call tunables.
type Config struct {
	UtteranceTimeout time.Duration // silence before a re-prompt
	ExtractBudget    time.Duration
	BargeIn          barge.Config
}

// DefaultConfig matches the pipeline budgets used in production.
func DefaultConfig() Config {
	return Config{
		UtteranceTimeout: 12 * time.Second,
		ExtractBudget:    15 * time.Second,
		BargeIn:          barge.DefaultConfig(),
	}
}

// Session is the per-call orchestrator.
type Session struct {
	cfg     Config
	rules   *rules.RuleSet
	stt     Transcriber
	coord   Speaker
	extract Extractor
	store   store.Store
	detect  *barge.Detector
	log     *logger.Logger
	clock   func() time.Time

	// OnInterim, when set, receives live partial transcripts.
	OnInterim func(text string)

	id        string
	startedAt time.Time

	mu            sync.Mutex
	phase         Phase
	lang          language.Label
	langConf      float64
	consent       Consent
	whatsapp      string
	outcome       Outcome
	slotStore     *slots.Store
	history       []llm.Message
	turns         []Turn
	transcript    strings.Builder
	lastAssistant string
	reprompted    bool
	booked        bool
	interrupted   bool
}

// New builds a session. The barge-in detector is owned by the session so its
// trigger can cancel the in-flight turn directly.
func New(cfg Config, rs *rules.RuleSet, t Transcriber, coord Speaker, ex Extractor, st store.Store, log *logger.Logger) *Session {
	s := &Session{
		cfg:       cfg,
		rules:     rs,
		stt:       t,
		coord:     coord,
		extract:   ex,
		store:     st,
		log:       log,
		clock:     time.Now,
		id:        uuid.NewString(),
		phase:     PhaseGreeting,
		lang:      language.Hindi,
		consent:   ConsentTranscript,
		slotStore: slots.NewStore(),
	}
	s.detect = barge.NewDetector(cfg.BargeIn, func(_ time.Time, speechMs int) {
		s.onBargeIn(speechMs)
	})
	return s
}

// ID returns the call identifier.
func (s *Session) ID() string { return s.id }

// Phase returns the current conversation phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Language returns the current call language.
func (s *Session) Language() language.Label {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

// Turns returns a copy of the completed turn records.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns...)
}

// FeedCallerAudio pushes caller PCM into transcription and barge detection.
func (s *Session) FeedCallerAudio(pcm []byte) {
	_ = s.stt.SendPCM16(pcm)
	s.detect.FeedPCM16(pcm)
}

// SetConsent overrides the caller's consent level, e.g. from a DTMF menu.
func (s *Session) SetConsent(c Consent) {
	s.mu.Lock()
	s.consent = c
	s.mu.Unlock()
}

// SetCallerNumber records the caller's number from telephony metadata. It is
// written to the call record only when consent covers WhatsApp follow-ups.
func (s *Session) SetCallerNumber(number string) {
	s.mu.Lock()
	s.whatsapp = number
	s.mu.Unlock()
}

// Start connects transcription, speaks the greeting and runs the turn loop
// until the call ends. It returns a stop function that force-closes the call.
func (s *Session) Start(ctx context.Context) (func(), error) {
	if err := s.stt.Connect(); err != nil {
		return nil, err
	}
	s.startedAt = s.clock()
	callCtx, cancel := context.WithCancel(ctx)

	// Mirror the coordinator's speaking state into the barge detector.
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-callCtx.Done():
				return
			case <-ticker.C:
				s.detect.SetSpeaking(s.coord.IsSpeaking())
			}
		}
	}()

	// Forward interim transcripts when anyone listens.
	go func() {
		for {
			select {
			case <-callCtx.Done():
				return
			case text, ok := <-s.stt.Interims():
				if !ok {
					return
				}
				if s.OnInterim != nil && text != "" {
					s.OnInterim(text)
				}
			}
		}
	}()

	go s.run(callCtx)

	stop := func() { cancel() }
	return stop, nil
}

func (s *Session) run(ctx context.Context) {
	s.log.Info("call started", "call_id", s.id, "business", s.rules.BusinessID)

	if _, err := s.coord.Speak(ctx, s.rules.Greeting); err != nil {
		s.log.Error("greeting failed", "call_id", s.id, "error", err)
	}
	s.mu.Lock()
	s.phase = PhaseGathering
	s.lastAssistant = s.rules.Greeting
	s.mu.Unlock()
	s.appendTranscript("bot", s.rules.Greeting)

	timeout := s.cfg.UtteranceTimeout
	for {
		select {
		case <-ctx.Done():
			s.finish(OutcomeDropped)
			return
		case u, ok := <-s.stt.Finalized():
			if !ok {
				s.finish(OutcomeDropped)
				return
			}
			s.handleUtterance(ctx, u)
			if done := s.Phase(); done == PhaseClosing || done == PhaseTransferred {
				s.finish(s.currentOutcome())
				return
			}
		case <-time.After(timeout):
			if ended := s.handleTimeout(ctx); ended {
				s.finish(s.currentOutcome())
				return
			}
		}
	}
}

// onBargeIn fires from the detector when the caller talks over the bot.
func (s *Session) onBargeIn(speechMs int) {
	s.log.Info("barge-in", "call_id", s.id, "speech_ms", speechMs)
	s.mu.Lock()
	s.interrupted = true
	s.mu.Unlock()
	s.coord.Cancel()
}

// handleTimeout deals with silence. The first timeout re-prompts; a second
// consecutive one hands the call to a human rather than looping forever.
func (s *Session) handleTimeout(ctx context.Context) bool {
	s.mu.Lock()
	again := s.reprompted
	s.reprompted = true
	lang := s.lang
	s.mu.Unlock()

	if again {
		s.log.Warn("caller unresponsive, handing off", "call_id", s.id)
		s.speakOverride(ctx, pick(operatorHandoff, lang))
		s.mu.Lock()
		s.phase = PhaseTransferred
		if s.outcome == "" {
			s.outcome = OutcomeFallback
		}
		s.mu.Unlock()
		return true
	}

	// Voice without a transcript means we failed to understand; pure
	// silence means the caller may have stepped away.
	msg := pick(repromptSilent, lang)
	if s.stt.RecentlyDetectedVoice(s.cfg.UtteranceTimeout) {
		msg = pick(repromptUnclear, lang)
	}
	s.speakOverride(ctx, msg)
	return false
}

func (s *Session) handleUtterance(ctx context.Context, u stt.Utterance) {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return
	}
	now := s.clock().In(s.rules.Location())

	s.mu.Lock()
	s.reprompted = false
	phase := s.phase
	s.mu.Unlock()
	s.appendTranscript("caller", text)

	// Acknowledgement noises carry no content, except while waiting for a
	// yes/no where "haan" is the whole answer.
	if phase != PhaseAwaitingConfirmation && language.IsFillerOnly(text) {
		return
	}

	s.adoptLanguage(text)

	if s.handlePrivacyOptOut(ctx, text) {
		return
	}

	ext := s.runExtraction(ctx, text, now)
	changes := s.slotStore.Apply(ext)

	override := s.decide(ctx, ext, changes, now)

	started := s.clock()
	var res turn.Result
	var err error
	if override != "" {
		res, err = s.coord.Speak(ctx, override)
	} else {
		res, err = s.coord.Run(ctx, turn.Request{
			Messages:     s.buildMessages(text, now),
			FallbackText: pick(fallbackApology, s.Language()),
		})
	}
	if err != nil {
		s.log.Error("turn failed", "call_id", s.id, "error", err)
		s.mu.Lock()
		s.outcome = OutcomeError
		s.phase = PhaseClosing
		s.mu.Unlock()
		return
	}

	s.recordTurn(text, ext, changes, res, u.Latency, s.clock().Sub(started))
}

// adoptLanguage applies the banded adoption policy to one utterance.
func (s *Session) adoptLanguage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	label, conf := language.Detect(text, s.lang, s.langConf)
	if label == language.Unknown {
		return
	}
	switch {
	case conf > langAdoptConf:
		s.lang, s.langConf = label, conf
	case conf >= langWatchConf:
		if label != s.lang {
			s.log.Debug("language switch at middling confidence", "call_id", s.id, "from", string(s.lang), "to", string(label), "conf", conf)
		}
		s.lang, s.langConf = label, conf
	default:
		// Keep the prior; a single noisy utterance should not flip the
		// call language.
	}
}

// handlePrivacyOptOut downgrades consent when the caller asks not to be
// recorded. Returns true when the utterance was only about privacy.
func (s *Session) handlePrivacyOptOut(ctx context.Context, text string) bool {
	if !wantsPrivacy(text) {
		return false
	}
	s.mu.Lock()
	s.consent = ConsentNone
	s.outcome = OutcomePrivacyOptOut
	lang := s.lang
	s.mu.Unlock()
	s.log.Info("caller opted out of retention", "call_id", s.id)
	s.speakOverride(ctx, pick(privacyAck, lang))
	return true
}

func wantsPrivacy(text string) bool {
	t := strings.ToLower(text)
	if !strings.Contains(t, "record") && !strings.Contains(t, "data") {
		return false
	}
	for _, marker := range []string{"mat", "nahi", "not", "don't", "delete", "hatao"} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

func (s *Session) runExtraction(ctx context.Context, text string, now time.Time) slots.Extraction {
	ectx, cancel := context.WithTimeout(ctx, s.cfg.ExtractBudget)
	defer cancel()

	s.mu.Lock()
	lastAssistant := s.lastAssistant
	history := append([]llm.Message(nil), s.history...)
	s.mu.Unlock()

	ext, err := s.extract.Extract(ectx, text, lastAssistant, history, now)
	if err != nil {
		// The turn continues without slot content; the next utterance can
		// recover what this one lost.
		s.log.Warn("extraction failed", "call_id", s.id, "error", err)
		return slots.Extraction{Intent: slots.IntentChitchat}
	}
	return ext
}

// decide runs the deterministic reservation flow. It returns the response to
// speak verbatim, or empty when the model should answer (inquiries,
// chitchat).
func (s *Session) decide(ctx context.Context, ext slots.Extraction, changes slots.Changeset, now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	lang := s.lang

	switch ext.Intent {
	case slots.IntentOperator:
		s.phase = PhaseTransferred
		if s.outcome == "" {
			s.outcome = OutcomeFallback
		}
		return pick(operatorHandoff, lang)
	case slots.IntentEndCall:
		s.phase = PhaseClosing
		if s.outcome == "" {
			if s.booked {
				s.outcome = OutcomeResolved
			} else {
				s.outcome = OutcomeDropped
			}
		}
		return pick(goodbye, lang)
	}

	if s.phase == PhaseAwaitingConfirmation {
		switch ext.Intent {
		case slots.IntentConfirmYes:
			return s.commitLocked(ctx, lang, now)
		case slots.IntentConfirmNo:
			s.phase = PhaseGathering
			return pick(confirmChange, lang)
		}
		if len(changes) > 0 {
			// They answered the confirmation with a correction; fall
			// through and re-drive the flow with the new values.
			s.phase = PhaseGathering
		} else {
			set := s.slotStore.Snapshot()
			if set.Complete() {
				return confirmationMessage(set, lang, now)
			}
			s.phase = PhaseGathering
		}
	}

	wantsBooking := ext.Intent == slots.IntentReservation || ext.Intent == slots.IntentModify || len(changes) > 0
	if !wantsBooking {
		return "" // inquiries and chitchat go to the model
	}

	set := s.slotStore.Snapshot()
	ack := ""
	if len(changes.Corrected()) > 0 {
		ack = pick(correctionAcks, lang) + " "
	}

	if !set.Complete() {
		s.phase = PhaseGathering
		return ack + fieldQuestion(set.MissingFields()[0], lang)
	}

	res := s.checkAvailability(ctx, set, now)
	if res.Status != availability.Available {
		s.phase = PhaseGathering
		return ack + rejectionMessage(res, s.rules, lang, now)
	}
	s.phase = PhaseAwaitingConfirmation
	return ack + confirmationMessage(set, lang, now)
}

// commitLocked books the pending reservation. Called with s.mu held. The
// commit re-validates inside the store, so a conflicting booking that landed
// since the pre-check surfaces here as a fresh rejection with alternatives.
func (s *Session) commitLocked(ctx context.Context, lang language.Label, now time.Time) string {
	set := s.slotStore.Snapshot()
	if !set.Complete() {
		s.phase = PhaseGathering
		return fieldQuestion(set.MissingFields()[0], lang)
	}
	mins, err := rules.ParseClock(*set.Time)
	if err != nil {
		s.phase = PhaseGathering
		return fieldQuestion(slots.FieldTime, lang)
	}

	r := store.Reservation{
		BusinessID: s.rules.BusinessID,
		Date:       set.Date.Format("2006-01-02"),
		StartMins:  mins,
		PartySize:  *set.PartySize,
	}
	if set.Name != nil {
		r.Name = *set.Name
	}
	if set.SpecialRequests != nil {
		r.SpecialRequests = *set.SpecialRequests
	}

	committed, err := s.store.Commit(ctx, s.rules, r, now)
	if errors.Is(err, store.ErrCommitConflict) {
		s.log.Info("commit conflict, slot taken", "call_id", s.id, "date", r.Date, "time", *set.Time)
		s.phase = PhaseGathering
		return rejectionMessage(s.checkAvailability(ctx, set, now), s.rules, lang, now)
	}
	if err != nil {
		s.log.Error("commit failed", "call_id", s.id, "error", err)
		s.outcome = OutcomeError
		return pick(fallbackApology, lang)
	}

	s.log.Info("reservation booked", "call_id", s.id, "reservation_id", committed.ID,
		"date", r.Date, "time", *set.Time, "party_size", r.PartySize)
	s.booked = true
	s.phase = PhaseCompleted
	s.outcome = OutcomeResolved
	return bookingSuccess(set, s.rules.BusinessName, lang, now)
}

func (s *Session) checkAvailability(ctx context.Context, set slots.SlotSet, now time.Time) availability.Result {
	dateKey := set.Date.Format("2006-01-02")
	mins, err := rules.ParseClock(*set.Time)
	if err != nil {
		return availability.Result{Status: availability.RejectedOutsideHours, Date: dateKey}
	}
	bookings, err := s.store.BookingsOn(ctx, s.rules.BusinessID, dateKey)
	if err != nil {
		// Treat a read failure as full: better to apologize than to promise
		// a table we cannot verify.
		s.log.Error("bookings read failed", "call_id", s.id, "error", err)
		return availability.Result{Status: availability.RejectedCapacity, Date: dateKey, TimeMins: mins}
	}
	return availability.Check(s.rules, bookings, *set.Date, mins, *set.PartySize, now)
}

func (s *Session) buildMessages(userText string, now time.Time) []llm.Message {
	s.mu.Lock()
	history := append([]llm.Message(nil), s.history...)
	s.mu.Unlock()

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{
		Role:    "system",
		Content: buildSystemPrompt(s.rules, s.slotStore.Snapshot(), now),
	})
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: "user", Content: userText})
	return msgs
}

func (s *Session) speakOverride(ctx context.Context, text string) {
	if _, err := s.coord.Speak(ctx, text); err != nil {
		s.log.Error("speak failed", "call_id", s.id, "error", err)
	}
	s.mu.Lock()
	s.lastAssistant = text
	s.mu.Unlock()
	s.appendTranscript("bot", text)
}

func (s *Session) recordTurn(user string, ext slots.Extraction, changes slots.Changeset, res turn.Result, uttLatency, replyLatency time.Duration) {
	spoken := res.SpokenText
	s.mu.Lock()
	interrupted := s.interrupted || res.State == turn.StateCancelled
	s.interrupted = false
	rec := Turn{
		Seq:               len(s.turns) + 1,
		User:              user,
		AssistantSpoken:   spoken,
		Language:          s.lang,
		Intent:            ext.Intent,
		Changes:           changes,
		Interrupted:       interrupted,
		FallbackUsed:      res.FallbackUsed,
		UtteranceLatency:  uttLatency,
		ReplyLatency:      replyLatency,
		GenerateLatency:   res.GenerateLatency,
		FirstAudioLatency: res.FirstAudioLatency,
		At:                s.clock(),
	}
	s.turns = append(s.turns, rec)

	reply := res.FullReply
	if reply == "" {
		reply = spoken
	}
	s.history = append(s.history,
		llm.Message{Role: "user", Content: user},
		llm.Message{Role: "assistant", Content: reply},
	)
	s.lastAssistant = spoken
	s.mu.Unlock()

	s.appendTranscript("bot", spoken)
}

func (s *Session) appendTranscript(who, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.transcript.WriteString(who)
	s.transcript.WriteString(": ")
	s.transcript.WriteString(text)
	s.transcript.WriteString("\n")
	s.mu.Unlock()
}

func (s *Session) currentOutcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == "" {
		if s.booked {
			return OutcomeResolved
		}
		return OutcomeDropped
	}
	return s.outcome
}

// finish closes transcription and writes the call record. The transcript is
// persisted only with consent; the summary row is always written so the
// business can see call volume.
func (s *Session) finish(outcome Outcome) {
	_ = s.stt.Close()

	s.mu.Lock()
	if s.outcome == "" {
		s.outcome = outcome
	}
	rec := store.CallRecord{
		CallID:     s.id,
		BusinessID: s.rules.BusinessID,
		StartedAt:  s.startedAt,
		EndedAt:    s.clock(),
		Outcome:    string(s.outcome),
		Language:   string(s.lang),
		Consent:    string(s.consent),
	}
	if s.consent.PersistDetail() {
		rec.Transcript = s.transcript.String()
	}
	if s.consent == ConsentWhatsApp {
		rec.WhatsApp = s.whatsapp
	}
	s.mu.Unlock()

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.SaveCall(saveCtx, rec); err != nil {
		s.log.Error("call record write failed", "call_id", s.id, "error", err)
	}
	s.log.Info("call finished", "call_id", s.id, "outcome", rec.Outcome, "turns", len(s.turns))
}
