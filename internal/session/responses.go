package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/PranavSlathia/Vartalaap/internal/availability"
	"github.com/PranavSlathia/Vartalaap/internal/language"
	"github.com/PranavSlathia/Vartalaap/internal/rules"
	"github.com/PranavSlathia/Vartalaap/internal/slots"
)

// Fixed response templates, bilingual. Hinglish serves Hindi and Hinglish
// callers; the English variants are used only when the caller settled on
// English. All template paths bypass the model so the deterministic parts of
// the flow stay deterministic.

var fieldQuestions = map[slots.FieldName]map[language.Label]string{
	slots.FieldPartySize: {
		language.Hinglish: "Kitne logon ke liye table chahiye?",
		language.English:  "For how many people would you like the table?",
	},
	slots.FieldDate: {
		language.Hinglish: "Kis din ke liye reservation karein?",
		language.English:  "Which day should I book it for?",
	},
	slots.FieldTime: {
		language.Hinglish: "Kaunsi time prefer karenge - lunch ya dinner?",
		language.English:  "What time would you prefer, lunch or dinner?",
	},
	slots.FieldName_: {
		language.Hinglish: "Booking ke liye aapka naam bata dijiye?",
		language.English:  "May I have a name for the booking?",
	},
}

var correctionAcks = map[language.Label]string{
	language.Hinglish: "Theek hai, update kar diya.",
	language.English:  "Alright, I have updated that.",
}

var confirmChange = map[language.Label]string{
	language.Hinglish: "Theek hai, kya change karna chahenge?",
	language.English:  "Alright, what would you like to change?",
}

var operatorHandoff = map[language.Label]string{
	language.Hinglish: "Zaroor, main aapko staff se connect kar rahi hoon. Thoda hold kijiye.",
	language.English:  "Of course, I am connecting you to our staff. Please hold.",
}

var repromptUnclear = map[language.Label]string{
	language.Hinglish: "Maaf kijiye, main samajh nahi payi. Kya aap dobara bol sakte hain?",
	language.English:  "Sorry, I did not catch that. Could you say it again?",
}

var repromptSilent = map[language.Label]string{
	language.Hinglish: "Kya aap wahan hain? Main reservation mein madad kar sakti hoon.",
	language.English:  "Are you still there? I can help with a reservation.",
}

var goodbye = map[language.Label]string{
	language.Hinglish: "Dhanyawad! Aapka din shubh ho.",
	language.English:  "Thank you! Have a lovely day.",
}

var privacyAck = map[language.Label]string{
	language.Hinglish: "Theek hai, is call ka koi record save nahi hoga.",
	language.English:  "Understood, nothing from this call will be saved.",
}

var fallbackApology = map[language.Label]string{
	language.Hinglish: "Maaf kijiye, thodi dikkat ho gayi. Kya aap dobara bol sakte hain?",
	language.English:  "Sorry, something went wrong on our side. Could you say that again?",
}

// pick resolves a template for the caller's language, treating Hindi and
// Hinglish the same and falling back to Hinglish for unknown.
func pick(m map[language.Label]string, lang language.Label) string {
	if lang == language.English {
		if s, ok := m[language.English]; ok {
			return s
		}
	}
	return m[language.Hinglish]
}

// fieldQuestion returns the question for the first missing field.
func fieldQuestion(field slots.FieldName, lang language.Label) string {
	if qs, ok := fieldQuestions[field]; ok {
		return pick(qs, lang)
	}
	return pick(repromptUnclear, lang)
}

// confirmationMessage reads back the complete reservation for a yes/no.
func confirmationMessage(set slots.SlotSet, lang language.Label, now time.Time) string {
	date := spokenDate(*set.Date, now, lang)
	t := spokenTime(*set.Time, lang)
	name := "Guest"
	if set.Name != nil {
		name = *set.Name
	}
	if lang == language.English {
		return fmt.Sprintf("Let me confirm - %s at %s, for %d people, under the name %s. Is that right?",
			date, t, *set.PartySize, name)
	}
	return fmt.Sprintf("Main confirm karti hoon - %s ko %s, %d logon ke liye, %s ji ke naam se. Kya yeh sahi hai?",
		date, t, *set.PartySize, name)
}

// bookingSuccess announces the committed reservation.
func bookingSuccess(set slots.SlotSet, businessName string, lang language.Label, now time.Time) string {
	date := spokenDate(*set.Date, now, lang)
	t := spokenTime(*set.Time, lang)
	name := "Guest"
	if set.Name != nil {
		name = *set.Name
	}
	if lang == language.English {
		return fmt.Sprintf("Wonderful! Your booking is confirmed - %s at %s for %d people under %s. See you at %s!",
			date, t, *set.PartySize, name, businessName)
	}
	return fmt.Sprintf("Bahut accha! Aapki booking confirm ho gayi - %s ko %s, %d logon ke liye, %s ji ke naam se. %s mein milte hain!",
		date, t, *set.PartySize, name, businessName)
}

// rejectionMessage explains why the slot cannot be booked, offering
// alternatives when the engine found any.
func rejectionMessage(res availability.Result, rs *rules.RuleSet, lang language.Label, now time.Time) string {
	switch res.Status {
	case availability.RejectedClosed:
		day := weekdayName(res.Date, lang)
		if lang == language.English {
			return fmt.Sprintf("Sorry, we are closed on %s. Would another day work?", day)
		}
		return fmt.Sprintf("Maaf kijiye, %s ko hum band rehte hain. Kya koi aur din suit karega?", day)
	case availability.RejectedOutsideHours:
		day := rs.OperatingHours[weekdayOf(res.Date)]
		if lang == language.English {
			return fmt.Sprintf("Sorry, we are not open at %s. We are open from %s to %s.",
				spokenTime(rules.FormatClock(res.TimeMins), lang), day.Open, day.Close)
		}
		return fmt.Sprintf("Maaf kijiye, %s par hum open nahi hain. Hum %s se %s tak khule hain.",
			spokenTime(rules.FormatClock(res.TimeMins), lang), day.Open, day.Close)
	case availability.RejectedTooSoon:
		if lang == language.English {
			return fmt.Sprintf("Sorry, bookings need at least %d minutes of notice and at most %d days in advance. Would another time work?",
				rs.MinAdvanceMins, rs.MaxAdvanceDays)
		}
		return fmt.Sprintf("Maaf kijiye, reservation kam se kam %d minute pehle aur zyada se zyada %d din pehle honi chahiye. Koi aur time chalega?",
			rs.MinAdvanceMins, rs.MaxAdvanceDays)
	case availability.RejectedPartyTooLarge:
		if lang == language.English {
			return fmt.Sprintf("Sorry, phone bookings go up to %d people. For larger groups please reach us on WhatsApp.",
				rs.MaxPhonePartySize)
		}
		return fmt.Sprintf("%d logon ke liye phone par booking nahi ho sakti - max %d tak. Bade groups ke liye WhatsApp par contact karein.",
			res.PartySize, rs.MaxPhonePartySize)
	case availability.RejectedCapacity:
		t := spokenTime(rules.FormatClock(res.TimeMins), lang)
		if len(res.Alternatives) == 0 {
			if lang == language.English {
				return fmt.Sprintf("Sorry, %s is fully booked. Would another day or time work?", t)
			}
			return fmt.Sprintf("Maaf kijiye, %s slot available nahi hai. Kya aap koi aur din ya time try karna chahenge?", t)
		}
		alts := make([]string, len(res.Alternatives))
		for i, a := range res.Alternatives {
			alts[i] = spokenTime(rules.FormatClock(a), lang)
		}
		if lang == language.English {
			return fmt.Sprintf("Sorry, %s is fully booked. %s is available - would that work?",
				t, strings.Join(alts, " or "))
		}
		return fmt.Sprintf("Maaf kijiye, %s slot available nahi hai. %s available hai - kaunsa better hai?",
			t, strings.Join(alts, " ya "))
	default:
		return pick(repromptUnclear, lang)
	}
}

// spokenDate renders a date the way a caller would say it: aaj, kal, or the
// weekday plus day-month.
func spokenDate(d time.Time, now time.Time, lang language.Label) string {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case sameDay(d, today):
		if lang == language.English {
			return "today"
		}
		return "aaj"
	case sameDay(d, today.AddDate(0, 0, 1)):
		if lang == language.English {
			return "tomorrow"
		}
		return "kal"
	default:
		return d.Format("Monday, 2 January")
	}
}

// spokenTime renders "19:00" as "7 baje shaam" for Hindi ears, or keeps the
// clock for English.
func spokenTime(hhmm string, lang language.Label) string {
	mins, err := rules.ParseClock(hhmm)
	if err != nil {
		return hhmm
	}
	hour, minute := mins/60, mins%60
	if lang == language.English {
		return hhmm
	}
	display := hour
	if display > 12 {
		display -= 12
	}
	var part string
	switch {
	case hour >= 17:
		part = "shaam"
	case hour >= 12:
		part = "dopahar"
	default:
		part = "subah"
	}
	if minute == 0 {
		return fmt.Sprintf("%d baje %s", display, part)
	}
	return fmt.Sprintf("%d baj kar %d minute %s", display, minute, part)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func weekdayOf(dateKey string) time.Weekday {
	d, err := time.Parse("2006-01-02", dateKey)
	if err != nil {
		return time.Sunday
	}
	return d.Weekday()
}

var hindiWeekdays = map[time.Weekday]string{
	time.Sunday:    "Ravivar",
	time.Monday:    "Somvar",
	time.Tuesday:   "Mangalvar",
	time.Wednesday: "Budhvar",
	time.Thursday:  "Guruvar",
	time.Friday:    "Shukravar",
	time.Saturday:  "Shanivar",
}

func weekdayName(dateKey string, lang language.Label) string {
	wd := weekdayOf(dateKey)
	if lang == language.English {
		return wd.String()
	}
	return hindiWeekdays[wd]
}
