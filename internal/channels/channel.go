// Package channels names the messaging channels a conversation can run on.
package channels

import "strings"

// Channel identifies the transport of a conversation message.
type Channel string

const (
	SMS   Channel = "sms"
	Email Channel = "email"
	DM    Channel = "dm"
	Call  Channel = "call"
	Web   Channel = "web"
)

// Parse lowercases and trims a raw channel value. Unknown values are kept
// as-is so callers can apply their own fallback.
func Parse(raw string) Channel {
	return Channel(strings.ToLower(strings.TrimSpace(raw)))
}

// SupportsOptOut reports whether STOP keywords carry opt-out meaning here.
func (c Channel) SupportsOptOut() bool {
	return c == SMS || c == Email
}

func (c Channel) String() string {
	return string(c)
}
