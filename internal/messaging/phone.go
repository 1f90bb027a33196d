package messaging

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const defaultRegion = "US"

// NormalizeE164 formats a phone number as E.164, assuming US numbering when
// no country code is given. Unparseable or invalid numbers yield "".
func NormalizeE164(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil {
		return ""
	}
	if !phonenumbers.IsValidNumber(number) {
		return ""
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}

// MaskPhone keeps the last four digits for logs.
func MaskPhone(e164 string) string {
	if len(e164) <= 4 {
		return e164
	}
	return strings.Repeat("*", len(e164)-4) + e164[len(e164)-4:]
}
