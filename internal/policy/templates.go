package policy

import (
	"errors"
	"strings"

	"github.com/wolfman30/haulops-crm/internal/channels"
)

// ErrTemplateNotFound is returned when no body resolves for a channel pair.
var ErrTemplateNotFound = errors.New("policy: template not found")

// ResolveTemplateForChannel picks the most specific body in group for the
// inbound/reply pair: "inbound:reply", then "reply", then the default.
func ResolveTemplateForChannel(group TemplateGroup, inbound, reply channels.Channel) (string, error) {
	keys := []string{
		string(inbound) + ":" + string(reply),
		string(reply),
	}
	for _, key := range keys {
		if body := strings.TrimSpace(group.Channels[key]); body != "" {
			return body, nil
		}
	}
	if body := strings.TrimSpace(group.Default); body != "" {
		return body, nil
	}
	return "", ErrTemplateNotFound
}

// Group returns the named template group.
func (p TemplatesPolicy) Group(name TemplateGroupName) (TemplateGroup, bool) {
	g, ok := p.Groups[name]
	return g, ok
}

// RenderTemplate substitutes {{key}} placeholders. Unknown placeholders are
// dropped.
func RenderTemplate(body string, vars map[string]string) string {
	out := body
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	for {
		start := strings.Index(out, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(out[start:], "}}")
		if end < 0 {
			break
		}
		out = out[:start] + out[start+end+2:]
	}
	return strings.TrimSpace(out)
}
