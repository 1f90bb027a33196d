package policy

import "github.com/wolfman30/haulops-crm/internal/channels"

// ResolveCandidateChannels returns the reply channels to try, in order, for
// an inbound message on the given channel. Unknown channels fall back to
// sms then email.
func ResolveCandidateChannels(inbound channels.Channel) []channels.Channel {
	switch channels.Parse(string(inbound)) {
	case channels.SMS, channels.Call:
		return []channels.Channel{channels.SMS}
	case channels.Email:
		return []channels.Channel{channels.Email}
	case channels.DM:
		return []channels.Channel{channels.DM}
	default:
		return []channels.Channel{channels.SMS, channels.Email}
	}
}
