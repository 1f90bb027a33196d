package policy

import "strings"

// NormalizePostalCode keeps the digits of raw and truncates to a 5-digit ZIP.
// Anything shorter than five digits normalizes to "".
func NormalizePostalCode(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			if b.Len() == 5 {
				break
			}
		}
	}
	if b.Len() < 5 {
		return ""
	}
	return b.String()
}

// IsPostalCodeAllowed reports whether zip falls inside the service area.
func IsPostalCodeAllowed(zip string, p ServiceAreaPolicy) bool {
	if !p.Enabled {
		return true
	}
	normalized := NormalizePostalCode(zip)
	if normalized == "" {
		return p.AllowUnknown
	}
	for _, allowed := range p.PostalCodes {
		if NormalizePostalCode(allowed) == normalized {
			return true
		}
	}
	return false
}
