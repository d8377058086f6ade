package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/PranavSlathia/Vartalaap/internal/rules"
	"github.com/PranavSlathia/Vartalaap/internal/slots"
)

// fewShot holds example exchanges injected into the system prompt. Kept to a
// handful; the deterministic flow handles the mechanical paths, the model
// only speaks for inquiries and chitchat.
var fewShot = []struct{ user, assistant string }{
	{
		"Main kal shaam ko 4 logon ke liye table book karna chahti hoon, 7 baje",
		"Zaroor! Kal shaam 7 baje, 4 logon ke liye. Booking ke liye aapka naam bata dijiye?",
	},
	{
		"Table book karna hai",
		"Zaroor! Kitne logon ke liye table chahiye?",
	},
	{
		"Aap kab tak khule rehte ho?",
		"Hum Tuesday se Sunday, 11 baje se raat 10:30 tak khule rehte hain. Monday ko closed hai.",
	},
	{
		"Vegetarian options hain?",
		"Haan, bilkul! Humare paas kaafi vegetarian options hain. Kya aap reservation bhi karna chahenge?",
	},
	{
		"15 logon ke liye table chahiye",
		"15 logon ke liye phone par booking nahi ho sakti - max 10 tak. Bade groups ke liye WhatsApp par contact karein.",
	},
	{
		"Kisi se baat karni hai",
		"Zaroor, main aapko connect kar rahi hoon.",
	},
}

// buildSystemPrompt assembles the conversational prompt from the business
// rules, the clock and the slots gathered so far.
func buildSystemPrompt(rs *rules.RuleSet, set slots.SlotSet, now time.Time) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are a friendly voice assistant for %s, a restaurant in India.\n\n", rs.BusinessName)
	fmt.Fprintf(&sb, "## Current Information\n- Current date/time: %s (%s)\n\n",
		now.Format("Monday, January 2, 2006 at 3:04 PM"), rs.Timezone)

	sb.WriteString("## Operating Hours\n")
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		day := rs.OperatingHours[wd]
		if day.Closed {
			fmt.Fprintf(&sb, "  - %s: closed\n", wd)
		} else {
			fmt.Fprintf(&sb, "  - %s: %s-%s\n", wd, day.Open, day.Close)
		}
	}

	fmt.Fprintf(&sb, "\n## Reservation Rules\n")
	fmt.Fprintf(&sb, "- Maximum party size (phone): %d people\n", rs.MaxPhonePartySize)
	fmt.Fprintf(&sb, "- Minimum advance booking: %d minutes\n", rs.MinAdvanceMins)
	fmt.Fprintf(&sb, "- Maximum advance booking: %d days\n", rs.MaxAdvanceDays)
	fmt.Fprintf(&sb, "- Total capacity: %d seats\n", rs.TotalSeats)

	if known := knownSlots(set); known != "" {
		fmt.Fprintf(&sb, "\n## Details Gathered So Far\n%s\n", known)
	}

	sb.WriteString(`
## Guidelines
- Be concise - responses should be 1-2 sentences for voice
- Use natural, conversational language
- Adapt to Hindi, English, or Hinglish based on caller's language
- For Hindi speakers, use simple conversational Hindi with polite forms ("ji", "aap")
- Always confirm reservation details before finalizing (date, time, party size, name)
- Do not accept delivery orders - politely redirect to Zomato/Swiggy
- For large parties, redirect to WhatsApp
`)

	sb.WriteString("\n## Example Conversations\n\n")
	for i, ex := range fewShot {
		fmt.Fprintf(&sb, "Example %d:\n  User: %s\n  Assistant: %s\n\n", i+1, ex.user, ex.assistant)
	}
	return sb.String()
}

func knownSlots(set slots.SlotSet) string {
	var lines []string
	if set.PartySize != nil {
		lines = append(lines, fmt.Sprintf("- Party size: %d", *set.PartySize))
	}
	if set.Date != nil {
		lines = append(lines, "- Date: "+set.Date.Format("2006-01-02"))
	}
	if set.Time != nil {
		lines = append(lines, "- Time: "+*set.Time)
	}
	if set.Name != nil {
		lines = append(lines, "- Name: "+*set.Name)
	}
	if set.SpecialRequests != nil {
		lines = append(lines, "- Special requests: "+*set.SpecialRequests)
	}
	return strings.Join(lines, "\n")
}
