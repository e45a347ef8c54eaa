// Package sms classifies inbound texts and drives the reply pipeline:
// compliance keywords first, then loop protection, review feedback, and
// finally urgency scoring for everything else.
package sms

import (
	"regexp"
	"strings"
)

// Kind is the classification of one inbound text, in priority order.
type Kind string

const (
	// KindStatusEcho is a delivery-lifecycle callback that hit the inbound
	// path; replying would loop.
	KindStatusEcho Kind = "status_echo"
	KindStop       Kind = "stop"
	KindAutoReply  Kind = "auto_reply"
	KindHelp       Kind = "help"
	KindStart      Kind = "start"
	KindPositive   Kind = "feedback_positive"
	KindNegative   Kind = "feedback_negative"
	KindEmergency  Kind = "emergency"
	KindStandard   Kind = "standard"
)

type Classification struct {
	Kind Kind
	// Keyword is the token that decided the classification, when one did.
	Keyword    string
	Confidence float64
}

var stopKeywords = []string{
	"stop", "unsubscribe", "cancel", "end", "quit", "opt out", "opt-out", "arrêt", "arreter",
}

// Phrases that identify another bot: replying would start a loop.
var autoReplyMarkers = []string{
	"driving", "away from my phone", "auto-reply", "out of office", "unavailable", "vacation",
}

var helpKeywords = []string{"help", "info", "aide"}

var positiveFeedback = []string{"good", "great", "awesome", "excellent", "yes"}
var negativeFeedback = []string{"bad", "poor", "terrible", "horrible", "no", "worst"}

var lifecycleStatuses = map[string]bool{
	"queued": true, "sending": true, "sent": true,
	"delivered": true, "undelivered": true, "failed": true,
}

// Classify runs the priority chain on one inbound text. smsStatus is the
// provider's SmsStatus field when present.
func Classify(body, smsStatus string) Classification {
	if lifecycleStatuses[strings.ToLower(smsStatus)] {
		return Classification{Kind: KindStatusEcho, Keyword: smsStatus}
	}

	clean := strings.ToLower(strings.TrimSpace(body))

	if kw, ok := matchStop(clean); ok {
		return Classification{Kind: KindStop, Keyword: kw, Confidence: 1}
	}
	for _, m := range autoReplyMarkers {
		if strings.Contains(clean, m) {
			return Classification{Kind: KindAutoReply, Keyword: m, Confidence: 1}
		}
	}
	for _, k := range helpKeywords {
		if clean == k {
			return Classification{Kind: KindHelp, Keyword: k, Confidence: 1}
		}
	}
	if clean == "start" || clean == "unstop" {
		return Classification{Kind: KindStart, Keyword: clean, Confidence: 1}
	}
	for _, k := range positiveFeedback {
		if clean == k {
			return Classification{Kind: KindPositive, Keyword: k, Confidence: 1}
		}
	}
	for _, k := range negativeFeedback {
		if clean == k {
			return Classification{Kind: KindNegative, Keyword: k, Confidence: 1}
		}
	}
	return classifyUrgency(clean)
}

func matchStop(clean string) (string, bool) {
	for _, kw := range stopKeywords {
		if clean == kw {
			return kw, true
		}
	}
	for _, kw := range stopKeywords {
		if wordBoundary(kw).MatchString(clean) {
			return kw, true
		}
	}
	return "", false
}

// All keyword sets are static, so every boundary regexp is compiled up front;
// Classify runs concurrently in webhook handlers and must not write shared
// state.
var boundaryRes = compileBoundaries(stopKeywords, highSeverity, mediumSeverity, lowSeverity)

func compileBoundaries(sets ...[]string) map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp)
	for _, set := range sets {
		for _, kw := range set {
			out[kw] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
		}
	}
	return out
}

func wordBoundary(kw string) *regexp.Regexp { return boundaryRes[kw] }

// Keyword severity for urgency scoring. High means immediate danger or
// property damage; medium means urgent but survivable.
var (
	highSeverity = []string{
		"burst", "explode", "flood", "flooding", "sewage", "gas smell",
		"water everywhere", "overflowing",
	}
	mediumSeverity = []string{
		"emergency", "urgent", "no water", "overflow", "toilet overflow",
		"basement", "ceiling",
	}
	lowSeverity = []string{
		"leak", "leaking", "clog", "clogged", "backup", "backed up", "no hot water",
	}

	notUrgentRe = regexp.MustCompile(`\b(?:not urgent|not an emergency|can wait|when convenient)\b`)

	urgencyPhrases = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:right now|immediately|asap|as soon as possible)\b`),
		regexp.MustCompile(`\b(?:can'?t wait|need help now|please hurry)\b`),
		regexp.MustCompile(`\b(?:water (?:is|everywhere|flooding)|exploded)\b`),
	}
	standardPhrases = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:quote|estimate|price|cost|how much)\b`),
		regexp.MustCompile(`\b(?:schedule|appointment|when can|next week|next month)\b`),
		regexp.MustCompile(`\b(?:small leak|dripping|minor)\b`),
	}
)

// classifyUrgency scores emergency against scheduling indicators. Explicit
// non-urgent language always wins.
func classifyUrgency(clean string) Classification {
	if notUrgentRe.MatchString(clean) {
		return Classification{Kind: KindStandard, Confidence: 0.85}
	}

	var emergencyScore int
	var firstKeyword string
	score := func(keywords []string, weight int) {
		for _, kw := range keywords {
			if wordBoundary(kw).MatchString(clean) {
				emergencyScore += weight
				if firstKeyword == "" {
					firstKeyword = kw
				}
			}
		}
	}
	score(highSeverity, 3)
	score(mediumSeverity, 2)
	score(lowSeverity, 1)
	for _, re := range urgencyPhrases {
		if re.MatchString(clean) {
			emergencyScore += 2
		}
	}

	var standardScore int
	for _, re := range standardPhrases {
		if re.MatchString(clean) {
			standardScore++
		}
	}

	switch {
	case emergencyScore >= 3:
		c := 0.7 + float64(emergencyScore)*0.05
		if c > 0.95 {
			c = 0.95
		}
		return Classification{Kind: KindEmergency, Keyword: firstKeyword, Confidence: c}
	case emergencyScore >= 1 && standardScore == 0:
		return Classification{Kind: KindEmergency, Keyword: firstKeyword, Confidence: 0.6 + float64(emergencyScore)*0.1}
	default:
		return Classification{Kind: KindStandard, Confidence: 0.7}
	}
}
