// Package extract turns one finalized caller utterance into a typed slot
// patch. It runs a second, JSON-mode model call after the conversational
// reply, then normalizes the loose strings the model returns (relative Hindi
// dates, "7 baje" style times) into the values the slot store accepts.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PranavSlathia/Vartalaap/internal/llm"
	"github.com/PranavSlathia/Vartalaap/internal/logger"
	"github.com/PranavSlathia/Vartalaap/internal/slots"
)

// clearMarker is what the model outputs when the caller explicitly retracted
// a field, as opposed to null for "not mentioned this turn".
const clearMarker = "CLEAR"

const systemPrompt = `You are analyzing a restaurant voice conversation to extract reservation details.

Output ONLY valid JSON with these fields:
{
  "intent": "MAKE_RESERVATION" | "MODIFY" | "CANCEL" | "INQUIRY" | "CHITCHAT" | "OPERATOR" | "CONFIRM_YES" | "CONFIRM_NO" | "END_CALL",
  "party_size": number or null or "CLEAR",
  "date": "YYYY-MM-DD" or "today" or "tomorrow" or null or "CLEAR",
  "time": "HH:MM" (24h format) or null or "CLEAR",
  "name": string or null or "CLEAR",
  "special_requests": string or null or "CLEAR",
  "confidence": 0.0 to 1.0
}

Extraction Rules:
- Only extract EXPLICITLY stated information, never assume
- Use null when a field was not mentioned this turn; use "CLEAR" only when the caller explicitly retracted it ("special request hatao")
- Hindi numbers: "char log" = 4, "paanch" = 5, "do" = 2, "teen" = 3
- Dates: "kal" = tomorrow, "parson" = day after tomorrow, "aaj" = today
- Times: "7 baje" = "19:00", "saat baje shaam" = "19:00", "dopahar" = afternoon (null - need specific)
- "shaam" alone = evening (null - need specific time)
- If user says "table book karna hai" without details, intent is MAKE_RESERVATION but fields are null
- CONFIRM_YES / CONFIRM_NO only for a direct yes or no to the assistant's question
- confidence should be high (0.8+) only when information is explicitly stated`

// Completer is the JSON-mode model call the extractor depends on.
type Completer interface {
	ExtractJSON(ctx context.Context, messages []llm.Message) ([]byte, error)
}

// Extractor runs the second-pass extraction call for each turn.
type Extractor struct {
	llm Completer
	log *logger.Logger
}

// New builds an extractor over the given model client.
func New(c Completer, log *logger.Logger) *Extractor {
	return &Extractor{llm: c, log: log}
}

// rawExtraction matches the model's JSON contract before normalization.
type rawExtraction struct {
	Intent          string          `json:"intent"`
	PartySize       json.RawMessage `json:"party_size"`
	Date            *string         `json:"date"`
	Time            *string         `json:"time"`
	Name            *string         `json:"name"`
	SpecialRequests *string         `json:"special_requests"`
	Confidence      float64         `json:"confidence"`
}

// Extract analyzes one turn. now anchors relative dates to business time.
// On model failure the turn simply carries no slot content; the conversation
// keeps going.
func (e *Extractor) Extract(ctx context.Context, userUtterance, assistantReply string, history []llm.Message, now time.Time) (slots.Extraction, error) {
	prompt := buildPrompt(userUtterance, assistantReply, history)
	raw, err := e.llm.ExtractJSON(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		e.log.Warn("extraction call failed", "error", err)
		return slots.Extraction{}, fmt.Errorf("extract: %w", err)
	}

	var re rawExtraction
	if err := json.Unmarshal(raw, &re); err != nil {
		e.log.Warn("extraction returned malformed json", "error", err)
		return slots.Extraction{}, fmt.Errorf("extract: decode: %w", err)
	}
	return normalize(re, now), nil
}

func buildPrompt(userUtterance, assistantReply string, history []llm.Message) string {
	var sb strings.Builder
	sb.WriteString("Analyze this restaurant voice conversation turn:\n\n")
	if summary := summarizeHistory(history); summary != "" {
		sb.WriteString("Previous context: ")
		sb.WriteString(summary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("User: ")
	sb.WriteString(userUtterance)
	sb.WriteString("\nAssistant: ")
	sb.WriteString(assistantReply)
	sb.WriteString("\n\nExtract reservation details from the USER's message. Output JSON only.")
	return sb.String()
}

// summarizeHistory keeps the last four turns, truncated, for context.
func summarizeHistory(history []llm.Message) string {
	if len(history) == 0 {
		return ""
	}
	recent := history
	if len(recent) > 4 {
		recent = recent[len(recent)-4:]
	}
	var lines []string
	for _, m := range recent {
		role := "Bot"
		if m.Role == "user" {
			role = "User"
		}
		content := m.Content
		if len(content) > 100 {
			content = content[:100] + "..."
		}
		lines = append(lines, role+": "+content)
	}
	return strings.Join(lines, "\n")
}

var intentMap = map[string]slots.Intent{
	"MAKE_RESERVATION":   slots.IntentReservation,
	"MODIFY":             slots.IntentModify,
	"MODIFY_RESERVATION": slots.IntentModify,
	"CANCEL":             slots.IntentCancel,
	"CANCEL_RESERVATION": slots.IntentCancel,
	"INQUIRY":            slots.IntentInquiry,
	"CHITCHAT":           slots.IntentChitchat,
	"OPERATOR":           slots.IntentOperator,
	"OPERATOR_REQUEST":   slots.IntentOperator,
	"CONFIRM_YES":        slots.IntentConfirmYes,
	"CONFIRM_NO":         slots.IntentConfirmNo,
	"END_CALL":           slots.IntentEndCall,
}

func normalize(re rawExtraction, now time.Time) slots.Extraction {
	out := slots.Extraction{
		Intent:     slots.IntentChitchat,
		Confidence: clamp01(re.Confidence),
	}
	if intent, ok := intentMap[strings.ToUpper(strings.TrimSpace(re.Intent))]; ok {
		out.Intent = intent
	}

	out.PartySize = normalizePartySize(re.PartySize)
	out.Date = normalizeDate(re.Date, now)
	out.Time = normalizeTime(re.Time)
	out.Name = normalizeText(re.Name)
	out.SpecialRequests = normalizeText(re.SpecialRequests)
	return out
}

func normalizePartySize(raw json.RawMessage) slots.IntField {
	if len(raw) == 0 || string(raw) == "null" {
		return slots.IntField{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.EqualFold(strings.TrimSpace(s), clearMarker) {
			return slots.IntField{Action: slots.FieldCleared}
		}
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n >= 1 {
			return slots.SetInt(n)
		}
		return slots.IntField{}
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil && n >= 1 {
		return slots.SetInt(n)
	}
	return slots.IntField{}
}

func normalizeDate(raw *string, now time.Time) slots.DateField {
	if raw == nil {
		return slots.DateField{}
	}
	s := strings.ToLower(strings.TrimSpace(*raw))
	if strings.EqualFold(s, clearMarker) {
		return slots.DateField{Action: slots.FieldCleared}
	}
	if d, ok := ParseSpokenDate(s, now); ok {
		return slots.SetDate(d)
	}
	return slots.DateField{}
}

func normalizeTime(raw *string) slots.StringField {
	if raw == nil {
		return slots.StringField{}
	}
	s := strings.TrimSpace(*raw)
	if strings.EqualFold(s, clearMarker) {
		return slots.StringField{Action: slots.FieldCleared}
	}
	if t, ok := ParseSpokenTime(s); ok {
		return slots.SetString(t)
	}
	return slots.StringField{}
}

func normalizeText(raw *string) slots.StringField {
	if raw == nil {
		return slots.StringField{}
	}
	s := strings.TrimSpace(*raw)
	if strings.EqualFold(s, clearMarker) {
		return slots.StringField{Action: slots.FieldCleared}
	}
	if s == "" {
		return slots.StringField{}
	}
	return slots.SetString(s)
}

// ParseSpokenDate resolves a date string against today in business time.
// Accepts relative Hindi and English words plus YYYY-MM-DD and DD-MM-YYYY.
func ParseSpokenDate(s string, now time.Time) (time.Time, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch s {
	case "":
		return time.Time{}, false
	case "today", "aaj":
		return today, true
	case "tomorrow", "kal":
		return today.AddDate(0, 0, 1), true
	case "day after tomorrow", "parson":
		return today.AddDate(0, 0, 2), true
	}
	if d, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return d, true
	}
	if d, err := time.ParseInLocation("02-01-2006", s, now.Location()); err == nil {
		return d, true
	}
	return time.Time{}, false
}

var (
	clockRe    = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	bareHourRe = regexp.MustCompile(`^(\d{1,2})$`)
)

// ParseSpokenTime normalizes a time string to "HH:MM". A bare hour of six or
// less is assumed to mean evening, matching how callers say "7 baje" for
// dinner times.
func ParseSpokenTime(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if m := clockRe.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			return "", false
		}
		return fmt.Sprintf("%02d:%02d", hour, minute), true
	}
	if m := bareHourRe.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		if hour > 23 {
			return "", false
		}
		if hour <= 6 {
			hour += 12
		}
		return fmt.Sprintf("%02d:00", hour), true
	}
	return "", false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
