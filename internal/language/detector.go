// Package language classifies caller utterances into hindi, english or
// hinglish (romanized Hindi / code-mix). Detection is a pure computation over
// the utterance text plus the prior label; the adoption policy (confidence
// bands) belongs to the session, not here.
package language

import (
	"strings"
	"unicode"
)

// Label is the detected language of a caller utterance.
type Label string

const (
	Unknown  Label = ""
	Hindi    Label = "hindi"
	English  Label = "english"
	Hinglish Label = "hinglish"
)

// priorWeight controls how strongly the previous label pulls the confidence
// of a matching detection; it smooths single-turn flips.
const priorWeight = 0.25

// fillerTokens never count as language evidence and, when an utterance is
// made only of them, leave the session's language and slots untouched.
var fillerTokens = map[string]bool{
	"haan": true, "han": true, "ha": true, "ji": true, "hmm": true,
	"hm": true, "um": true, "uh": true, "umm": true, "achha": true,
	"accha": true, "acha": true, "ok": true, "okay": true, "theek": true,
	"thik": true, "hai": true, "huh": true, "yeah": true, "yes": true,
	"no": true, "na": true, "arre": true, "bas": true, "hello": true,
}

// romanHindi is a fixed vocabulary of common romanized Hindi words used as
// hinglish evidence. Kept small on purpose: a few strong markers beat a
// dictionary for short telephone utterances.
var romanHindi = map[string]bool{
	"nahi": true, "nahin": true, "karna": true, "karo": true, "karein": true,
	"chahiye": true, "log": true, "logon": true, "baje": true, "kal": true,
	"aaj": true, "parson": true, "shaam": true, "subah": true, "dopahar": true,
	"table": false, // english loanword, not evidence either way
	"booking": false,
	"kitne": true, "kaunsa": true, "kaunsi": true, "kya": true, "kab": true,
	"mera": true, "mere": true, "naam": true, "din": true, "raat": true,
	"khana": true, "seat": false, "hum": true, "aap": true, "aapka": true,
	"main": true, "mujhe": true, "humein": true, "liye": true, "wala": true,
	"badal": true, "time": false, "par": true, "pe": true, "se": true,
	"ko": true, "ke": true, "ki": true, "ka": true, "mein": true,
	"bhi": true, "aur": true, "ya": true, "abhi": true, "sahi": true,
	"galat": true, "band": true, "khula": true, "milte": true, "dhanyawad": true,
	"shukriya": true, "namaste": true, "actually": false,
}

// IsFillerOnly reports whether every token of the utterance is a stoplisted
// acknowledgement or hesitation sound.
func IsFillerOnly(text string) bool {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return true
	}
	for _, tok := range tokens {
		if !fillerTokens[tok] {
			return false
		}
	}
	return true
}

// Detect classifies one utterance. Filler-only utterances return the prior
// unchanged. The returned confidence is the dominant-class share of
// substantive tokens, smoothed toward the prior when labels agree.
func Detect(text string, prior Label, priorConf float64) (Label, float64) {
	tokens := tokenize(text)
	if IsFillerOnly(text) {
		return prior, priorConf
	}

	var devanagari, hindiRoman, english int
	for _, tok := range tokens {
		if fillerTokens[tok] {
			continue
		}
		switch {
		case hasDevanagari(tok):
			devanagari++
		case romanHindi[tok]:
			hindiRoman++
		default:
			english++
		}
	}
	total := devanagari + hindiRoman + english
	if total == 0 {
		return prior, priorConf
	}

	var label Label
	var share float64
	hindiEvidence := devanagari + hindiRoman
	switch {
	case devanagari > 0 && english == 0:
		label = Hindi
		share = float64(hindiEvidence) / float64(total)
	case hindiEvidence > 0 && english > 0:
		label = Hinglish
		share = float64(maxInt(hindiEvidence, english)) / float64(total)
		// Code-mix is itself the signal; a balanced mix is a confident
		// hinglish call, not an uncertain one.
		share = 1 - (share-0.5)*0.5
	case hindiRoman > 0:
		// Romanized Hindi with no English content still reads as code-mix
		// on the wire (Latin script), which is what hinglish means here.
		label = Hinglish
		share = float64(hindiRoman) / float64(total)
	default:
		label = English
		share = float64(english) / float64(total)
	}

	conf := share
	if prior == label && priorConf > 0 {
		conf = (1-priorWeight)*share + priorWeight*priorConf
	}
	if conf > 1 {
		conf = 1
	}
	return label, conf
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hasDevanagari(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Devanagari, r) {
			return true
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
