package session

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PranavSlathia/Vartalaap/internal/llm"
	"github.com/PranavSlathia/Vartalaap/internal/logger"
	"github.com/PranavSlathia/Vartalaap/internal/rules"
	"github.com/PranavSlathia/Vartalaap/internal/slots"
	"github.com/PranavSlathia/Vartalaap/internal/store"
	"github.com/PranavSlathia/Vartalaap/internal/stt"
	"github.com/PranavSlathia/Vartalaap/internal/turn"
)

type fakeSTT struct {
	finalized chan stt.Utterance
	interims  chan string

	mu    sync.Mutex
	voice bool
}

func newFakeSTT() *fakeSTT {
	return &fakeSTT{
		finalized: make(chan stt.Utterance, 8),
		interims:  make(chan string, 8),
	}
}

func (f *fakeSTT) Connect() error                               { return nil }
func (f *fakeSTT) SendPCM16(pcm []byte) error                   { return nil }
func (f *fakeSTT) Interims() <-chan string                      { return f.interims }
func (f *fakeSTT) Finalized() <-chan stt.Utterance              { return f.finalized }
func (f *fakeSTT) RecentlyDetectedVoice(_ time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voice
}

func (f *fakeSTT) setVoice(on bool) {
	f.mu.Lock()
	f.voice = on
	f.mu.Unlock()
}
func (f *fakeSTT) Close() error                                 { return nil }
func (f *fakeSTT) say(text string)                              { f.finalized <- stt.Utterance{Text: text, Confidence: 0.95} }

type fakeSpeaker struct {
	mu           sync.Mutex
	spoken       chan string
	requests     []turn.Request
	cancels      int
	speaking     bool
	replyText    string
	genLatency   time.Duration
	audioLatency time.Duration
}

func newFakeSpeaker() *fakeSpeaker {
	return &fakeSpeaker{
		spoken:       make(chan string, 16),
		replyText:    "model reply",
		genLatency:   120 * time.Millisecond,
		audioLatency: 340 * time.Millisecond,
	}
}

func (f *fakeSpeaker) Run(_ context.Context, req turn.Request) (turn.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply := f.replyText
	f.mu.Unlock()
	f.spoken <- reply
	return turn.Result{
		State:             turn.StateCompleted,
		FullReply:         reply,
		SpokenText:        reply,
		GenerateLatency:   f.genLatency,
		FirstAudioLatency: f.audioLatency,
	}, nil
}

func (f *fakeSpeaker) Speak(_ context.Context, text string) (turn.Result, error) {
	f.spoken <- text
	return turn.Result{State: turn.StateCompleted, SpokenText: text}, nil
}

func (f *fakeSpeaker) Cancel() {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
}

func (f *fakeSpeaker) IsSpeaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speaking
}

func (f *fakeSpeaker) setSpeaking(on bool) {
	f.mu.Lock()
	f.speaking = on
	f.mu.Unlock()
}

func (f *fakeSpeaker) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

func (f *fakeSpeaker) lastRequest() (turn.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return turn.Request{}, false
	}
	return f.requests[len(f.requests)-1], true
}

type fakeExtractor struct {
	mu     sync.Mutex
	byText map[string]slots.Extraction
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{byText: map[string]slots.Extraction{}}
}

func (f *fakeExtractor) on(text string, e slots.Extraction) {
	f.mu.Lock()
	f.byText[text] = e
	f.mu.Unlock()
}

func (f *fakeExtractor) Extract(_ context.Context, user, _ string, _ []llm.Message, _ time.Time) (slots.Extraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.byText[user]; ok {
		return e, nil
	}
	return slots.Extraction{Intent: slots.IntentChitchat, Confidence: 0.5}, nil
}

var testIST = time.FixedZone("IST", 5*3600+30*60)

// Tuesday noon; the restaurant is open Tue-Sun.
var testNow = time.Date(2026, time.September, 1, 12, 0, 0, 0, testIST)

func newTestSession(t *testing.T, rs *rules.RuleSet, cfg Config) (*Session, *fakeSTT, *fakeSpeaker, *fakeExtractor, *store.Memory, func()) {
	t.Helper()
	fstt := newFakeSTT()
	sp := newFakeSpeaker()
	ex := newFakeExtractor()
	mem := store.NewMemory()
	s := New(cfg, rs, fstt, sp, ex, mem, logger.Nop())
	s.clock = func() time.Time { return testNow }
	stop, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s, fstt, sp, ex, mem, stop
}

func nextSpoken(t *testing.T, sp *fakeSpeaker) string {
	t.Helper()
	select {
	case text := <-sp.spoken:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the bot to speak")
		return ""
	}
}

func expectQuiet(t *testing.T, sp *fakeSpeaker, d time.Duration) {
	t.Helper()
	select {
	case text := <-sp.spoken:
		t.Fatalf("expected silence, bot said %q", text)
	case <-time.After(d):
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func fullExtraction(name string) slots.Extraction {
	return slots.Extraction{
		Intent:     slots.IntentReservation,
		Confidence: 0.9,
		PartySize:  slots.SetInt(4),
		Date:       slots.SetDate(time.Date(2026, time.September, 2, 0, 0, 0, 0, testIST)),
		Time:       slots.SetString("19:00"),
		Name:       slots.SetString(name),
	}
}

func TestGreetingThenFieldQuestions(t *testing.T) {
	rs := rules.Default("biz1")
	_, fstt, sp, ex, _, stop := newTestSession(t, rs, DefaultConfig())
	defer stop()

	if got := nextSpoken(t, sp); got != rs.Greeting {
		t.Fatalf("greeting = %q, want %q", got, rs.Greeting)
	}

	ex.on("table book karna hai", slots.Extraction{Intent: slots.IntentReservation, Confidence: 0.9})
	fstt.say("table book karna hai")
	if got := nextSpoken(t, sp); got != "Kitne logon ke liye table chahiye?" {
		t.Fatalf("first question = %q", got)
	}

	ex.on("4 logon ke liye", slots.Extraction{
		Intent: slots.IntentReservation, Confidence: 0.9, PartySize: slots.SetInt(4),
	})
	fstt.say("4 logon ke liye")
	if got := nextSpoken(t, sp); got != "Kis din ke liye reservation karein?" {
		t.Fatalf("second question = %q", got)
	}
}

func TestCompleteBookingFlow(t *testing.T) {
	rs := rules.Default("biz1")
	s, fstt, sp, ex, mem, stop := newTestSession(t, rs, DefaultConfig())
	defer stop()
	nextSpoken(t, sp) // greeting

	ex.on("kal shaam 7 baje 4 logon ke liye, naam Rohan", fullExtraction("Rohan"))
	fstt.say("kal shaam 7 baje 4 logon ke liye, naam Rohan")
	confirm := nextSpoken(t, sp)
	if !strings.Contains(confirm, "Kya yeh sahi hai?") {
		t.Fatalf("expected confirmation readback, got %q", confirm)
	}
	if !strings.Contains(confirm, "Rohan") || !strings.Contains(confirm, "4 logon") {
		t.Fatalf("confirmation missing details: %q", confirm)
	}
	if got := s.Phase(); got != PhaseAwaitingConfirmation {
		t.Fatalf("phase = %v, want awaiting_confirmation", got)
	}

	ex.on("haan ji, sahi hai", slots.Extraction{Intent: slots.IntentConfirmYes, Confidence: 0.95})
	fstt.say("haan ji, sahi hai")
	success := nextSpoken(t, sp)
	if !strings.Contains(success, "confirm ho gayi") {
		t.Fatalf("expected booking success, got %q", success)
	}
	if got := s.Phase(); got != PhaseCompleted {
		t.Fatalf("phase = %v, want completed", got)
	}

	res := mem.Reservations()
	if len(res) != 1 {
		t.Fatalf("reservations = %d, want 1", len(res))
	}
	if res[0].PartySize != 4 || res[0].Date != "2026-09-02" || res[0].StartMins != 19*60 || res[0].Name != "Rohan" {
		t.Fatalf("unexpected reservation %+v", res[0])
	}

	ex.on("bas, dhanyawad", slots.Extraction{Intent: slots.IntentEndCall, Confidence: 0.95})
	fstt.say("bas, dhanyawad")
	if got := nextSpoken(t, sp); !strings.Contains(got, "Dhanyawad") {
		t.Fatalf("expected goodbye, got %q", got)
	}

	eventually(t, func() bool { return len(mem.Calls()) == 1 }, "call record never written")
	rec := mem.Calls()[0]
	if rec.Outcome != string(OutcomeResolved) {
		t.Fatalf("outcome = %q, want resolved", rec.Outcome)
	}
	if rec.Transcript == "" {
		t.Fatal("expected transcript with default consent")
	}
	if !strings.Contains(rec.Transcript, "caller: haan ji, sahi hai") {
		t.Fatalf("transcript missing caller line:\n%s", rec.Transcript)
	}
}

func TestCommitConflictOffersAlternatives(t *testing.T) {
	rs := rules.Default("biz1")
	rs.TotalSeats = 4
	s, fstt, sp, ex, mem, stop := newTestSession(t, rs, DefaultConfig())
	defer stop()
	nextSpoken(t, sp) // greeting

	ex.on("kal 7 baje 4 log, Rohan", fullExtraction("Rohan"))
	fstt.say("kal 7 baje 4 log, Rohan")
	nextSpoken(t, sp) // confirmation readback

	// Another channel grabs the last seats between readback and the yes.
	_, err := mem.Commit(context.Background(), rs, store.Reservation{
		BusinessID: "biz1", Date: "2026-09-02", StartMins: 19 * 60, PartySize: 4,
	}, testNow)
	if err != nil {
		t.Fatalf("competing commit: %v", err)
	}

	ex.on("haan", slots.Extraction{Intent: slots.IntentConfirmYes, Confidence: 0.95})
	fstt.say("haan")
	rejection := nextSpoken(t, sp)
	if !strings.Contains(rejection, "available nahi hai") {
		t.Fatalf("expected capacity rejection, got %q", rejection)
	}
	if !strings.Contains(rejection, "5 baje shaam") {
		t.Fatalf("expected the 17:00 alternative, got %q", rejection)
	}
	if got := s.Phase(); got != PhaseGathering {
		t.Fatalf("phase = %v, want gathering after conflict", got)
	}
	if len(mem.Reservations()) != 1 {
		t.Fatalf("reservations = %d, want only the competing one", len(mem.Reservations()))
	}
}

func TestConfirmNoReturnsToGathering(t *testing.T) {
	rs := rules.Default("biz1")
	s, fstt, sp, ex, _, stop := newTestSession(t, rs, DefaultConfig())
	defer stop()
	nextSpoken(t, sp) // greeting

	ex.on("kal 7 baje 4 log, Rohan", fullExtraction("Rohan"))
	fstt.say("kal 7 baje 4 log, Rohan")
	nextSpoken(t, sp) // confirmation readback

	ex.on("nahi, galat hai", slots.Extraction{Intent: slots.IntentConfirmNo, Confidence: 0.9})
	fstt.say("nahi, galat hai")
	if got := nextSpoken(t, sp); got != "Theek hai, kya change karna chahenge?" {
		t.Fatalf("change prompt = %q", got)
	}
	if got := s.Phase(); got != PhaseGathering {
		t.Fatalf("phase = %v, want gathering", got)
	}
}

func TestCorrectionAcknowledged(t *testing.T) {
	rs := rules.Default("biz1")
	_, fstt, sp, ex, _, stop := newTestSession(t, rs, DefaultConfig())
	defer stop()
	nextSpoken(t, sp) // greeting

	ex.on("4 log", slots.Extraction{Intent: slots.IntentReservation, Confidence: 0.9, PartySize: slots.SetInt(4)})
	fstt.say("4 log")
	nextSpoken(t, sp) // date question

	ex.on("nahi, 6 log", slots.Extraction{Intent: slots.IntentModify, Confidence: 0.9, PartySize: slots.SetInt(6)})
	fstt.say("nahi, 6 log")
	got := nextSpoken(t, sp)
	if !strings.HasPrefix(got, "Theek hai, update kar diya.") {
		t.Fatalf("expected correction ack prefix, got %q", got)
	}
	if !strings.Contains(got, "Kis din ke liye") {
		t.Fatalf("expected follow-up date question, got %q", got)
	}
}

func TestFillerIgnoredWhileGathering(t *testing.T) {
	rs := rules.Default("biz1")
	_, fstt, sp, _, _, stop := newTestSession(t, rs, DefaultConfig())
	defer stop()
	nextSpoken(t, sp) // greeting

	fstt.say("hmm haan")
	expectQuiet(t, sp, 150*time.Millisecond)
}

func TestChitchatGoesToModel(t *testing.T) {
	rs := rules.Default("biz1")
	_, fstt, sp, ex, _, stop := newTestSession(t, rs, DefaultConfig())
	defer stop()
	nextSpoken(t, sp) // greeting

	ex.on("aap kab tak khule rehte ho", slots.Extraction{Intent: slots.IntentInquiry, Confidence: 0.8})
	fstt.say("aap kab tak khule rehte ho")
	if got := nextSpoken(t, sp); got != "model reply" {
		t.Fatalf("expected model turn, got %q", got)
	}

	req, ok := sp.lastRequest()
	if !ok {
		t.Fatal("no Run request recorded")
	}
	if len(req.Messages) < 2 || req.Messages[0].Role != "system" {
		t.Fatalf("expected system prompt first, got %+v", req.Messages)
	}
	if last := req.Messages[len(req.Messages)-1]; last.Role != "user" || last.Content != "aap kab tak khule rehte ho" {
		t.Fatalf("expected user message last, got %+v", last)
	}
	if req.FallbackText == "" {
		t.Fatal("expected a fallback line on model turns")
	}
}

func TestTurnRecordsPipelineLatencies(t *testing.T) {
	rs := rules.Default("biz1")
	s, fstt, sp, ex, _, stop := newTestSession(t, rs, DefaultConfig())
	defer stop()
	nextSpoken(t, sp) // greeting

	ex.on("kuch batao", slots.Extraction{Intent: slots.IntentInquiry, Confidence: 0.8})
	fstt.say("kuch batao")
	nextSpoken(t, sp)

	eventually(t, func() bool { return len(s.Turns()) == 1 }, "turn never recorded")
	rec := s.Turns()[0]
	if rec.GenerateLatency != sp.genLatency {
		t.Fatalf("generate latency = %v, want %v", rec.GenerateLatency, sp.genLatency)
	}
	if rec.FirstAudioLatency != sp.audioLatency {
		t.Fatalf("first audio latency = %v, want %v", rec.FirstAudioLatency, sp.audioLatency)
	}
}

func TestEnglishCallerGetsEnglishTemplates(t *testing.T) {
	rs := rules.Default("biz1")
	_, fstt, sp, ex, _, stop := newTestSession(t, rs, DefaultConfig())
	defer stop()
	nextSpoken(t, sp) // greeting

	utt := "I would like to reserve for four people please"
	ex.on(utt, slots.Extraction{Intent: slots.IntentReservation, Confidence: 0.9, PartySize: slots.SetInt(4)})
	fstt.say(utt)
	if got := nextSpoken(t, sp); got != "Which day should I book it for?" {
		t.Fatalf("expected English date question, got %q", got)
	}
}

func TestSilenceRepromptsThenHandsOff(t *testing.T) {
	rs := rules.Default("biz1")
	cfg := DefaultConfig()
	cfg.UtteranceTimeout = 60 * time.Millisecond
	s, _, sp, _, mem, stop := newTestSession(t, rs, cfg)
	defer stop()
	nextSpoken(t, sp) // greeting

	if got := nextSpoken(t, sp); !strings.Contains(got, "Kya aap wahan hain?") {
		t.Fatalf("expected silence re-prompt, got %q", got)
	}
	if got := nextSpoken(t, sp); !strings.Contains(got, "connect kar rahi hoon") {
		t.Fatalf("expected operator handoff, got %q", got)
	}
	eventually(t, func() bool { return s.Phase() == PhaseTransferred }, "never transferred")
	eventually(t, func() bool { return len(mem.Calls()) == 1 }, "call record never written")
	if got := mem.Calls()[0].Outcome; got != string(OutcomeFallback) {
		t.Fatalf("outcome = %q, want fallback", got)
	}
}

func TestUnclearRepromptWhenVoiceHeard(t *testing.T) {
	rs := rules.Default("biz1")
	cfg := DefaultConfig()
	cfg.UtteranceTimeout = 60 * time.Millisecond
	_, fstt, sp, _, _, stop := newTestSession(t, rs, cfg)
	defer stop()
	fstt.setVoice(true)
	nextSpoken(t, sp) // greeting

	if got := nextSpoken(t, sp); !strings.Contains(got, "samajh nahi payi") {
		t.Fatalf("expected unclear re-prompt, got %q", got)
	}
}

func TestPrivacyOptOutSkipsTranscript(t *testing.T) {
	rs := rules.Default("biz1")
	_, fstt, sp, _, mem, stop := newTestSession(t, rs, DefaultConfig())
	nextSpoken(t, sp) // greeting

	fstt.say("yeh call record mat karo")
	if got := nextSpoken(t, sp); !strings.Contains(got, "koi record save nahi hoga") {
		t.Fatalf("expected privacy acknowledgement, got %q", got)
	}
	stop()

	eventually(t, func() bool { return len(mem.Calls()) == 1 }, "call record never written")
	rec := mem.Calls()[0]
	if rec.Outcome != string(OutcomePrivacyOptOut) {
		t.Fatalf("outcome = %q, want privacy_opt_out", rec.Outcome)
	}
	if rec.Consent != string(ConsentNone) {
		t.Fatalf("consent = %q, want none", rec.Consent)
	}
	if rec.Transcript != "" {
		t.Fatalf("transcript persisted despite opt-out:\n%s", rec.Transcript)
	}
}

func TestWhatsAppConsentPersistsCallerNumber(t *testing.T) {
	rs := rules.Default("biz1")
	s, fstt, sp, ex, mem, stop := newTestSession(t, rs, DefaultConfig())
	defer stop()
	s.SetCallerNumber("+919876543210")
	s.SetConsent(ConsentWhatsApp)
	nextSpoken(t, sp) // greeting

	ex.on("bas, dhanyawad", slots.Extraction{Intent: slots.IntentEndCall, Confidence: 0.95})
	fstt.say("bas, dhanyawad")
	nextSpoken(t, sp) // goodbye

	eventually(t, func() bool { return len(mem.Calls()) == 1 }, "call record never written")
	rec := mem.Calls()[0]
	if rec.Consent != string(ConsentWhatsApp) {
		t.Fatalf("consent = %q, want whatsapp", rec.Consent)
	}
	if rec.WhatsApp != "+919876543210" {
		t.Fatalf("whatsapp = %q, want the caller number", rec.WhatsApp)
	}

	// Transcript consent alone keeps the number off the record.
	s2, fstt2, sp2, ex2, mem2, stop2 := newTestSession(t, rs, DefaultConfig())
	defer stop2()
	s2.SetCallerNumber("+919876543210")
	nextSpoken(t, sp2) // greeting
	ex2.on("bas, dhanyawad", slots.Extraction{Intent: slots.IntentEndCall, Confidence: 0.95})
	fstt2.say("bas, dhanyawad")
	nextSpoken(t, sp2)
	eventually(t, func() bool { return len(mem2.Calls()) == 1 }, "second call record never written")
	if got := mem2.Calls()[0].WhatsApp; got != "" {
		t.Fatalf("whatsapp = %q, want empty without whatsapp consent", got)
	}
}

func TestBargeInCancelsTurn(t *testing.T) {
	rs := rules.Default("biz1")
	s, _, sp, _, _, stop := newTestSession(t, rs, DefaultConfig())
	defer stop()
	nextSpoken(t, sp) // greeting

	sp.setSpeaking(true)
	// Let the ticker arm the detector before audio arrives.
	time.Sleep(60 * time.Millisecond)

	for fed := 0; fed < 400; fed += 50 {
		s.FeedCallerAudio(pcmSine(50, 16000, 3000))
	}
	eventually(t, func() bool { return sp.cancelCount() >= 1 }, "barge-in never cancelled the turn")
	if got := sp.cancelCount(); got != 1 {
		t.Fatalf("cancels = %d, want exactly 1 per speaking segment", got)
	}
}

func TestCoughWhileSpeakingDoesNotCancel(t *testing.T) {
	rs := rules.Default("biz1")
	s, _, sp, _, _, stop := newTestSession(t, rs, DefaultConfig())
	defer stop()
	nextSpoken(t, sp) // greeting

	sp.setSpeaking(true)
	time.Sleep(60 * time.Millisecond)

	// 150ms bursts separated by enough silence to close each episode.
	for i := 0; i < 3; i++ {
		s.FeedCallerAudio(pcmSine(150, 16000, 3000))
		s.FeedCallerAudio(make([]byte, 16000/1000*100*2)) // 100ms silence
	}
	time.Sleep(50 * time.Millisecond)
	if got := sp.cancelCount(); got != 0 {
		t.Fatalf("cancels = %d, want 0 for short bursts", got)
	}
}

func pcmSine(ms, rate int, amp float64) []byte {
	n := rate * ms / 1000
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(amp * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	return buf
}
