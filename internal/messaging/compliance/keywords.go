package compliance

import (
	"regexp"
	"strings"
)

// Intent is the appointment-confirmation meaning of a short reply.
type Intent string

const (
	IntentNone    Intent = ""
	IntentConfirm Intent = "confirm"
	IntentDecline Intent = "decline"
)

var nonWord = regexp.MustCompile(`[^a-z0-9_]+`)

var (
	stopTokens = tokenSet("stop", "stopall", "unsubscribe", "cancel", "end", "quit")

	confirmTokens = tokenSet("yes", "yep", "yeah", "y", "ok", "okay", "sure", "confirm", "confirmed")
	declineTokens = tokenSet("no", "nope", "nah", "cancel", "reschedule")
)

func tokenSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Normalize lowercases body and turns every run of non-word characters into a
// single space.
func Normalize(body string) string {
	return strings.TrimSpace(nonWord.ReplaceAllString(strings.ToLower(body), " "))
}

// Tokens splits a normalized body into words.
func Tokens(body string) []string {
	return strings.Fields(Normalize(body))
}

func containsAny(tokens []string, set map[string]struct{}) bool {
	for _, tok := range tokens {
		if _, ok := set[tok]; ok {
			return true
		}
	}
	return false
}

// IsStopMessage returns true when any whole word of body is a STOP keyword.
func IsStopMessage(body string) bool {
	return containsAny(Tokens(body), stopTokens)
}

// ParseConfirmationIntent classifies a reply to an appointment prompt.
// Anything mentioning stop/unsubscribe yields IntentNone so opt-out handling
// wins. Decline tokens are checked before confirm tokens.
func ParseConfirmationIntent(body string) Intent {
	normalized := Normalize(body)
	if normalized == "" {
		return IntentNone
	}
	if strings.Contains(normalized, "stop") || strings.Contains(normalized, "unsubscribe") {
		return IntentNone
	}
	tokens := strings.Fields(normalized)
	if containsAny(tokens, declineTokens) {
		return IntentDecline
	}
	if containsAny(tokens, confirmTokens) {
		return IntentConfirm
	}
	return IntentNone
}
