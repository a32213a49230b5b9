package handler

import (
	"sort"
	"strings"
)

// Capability describes one advertised IRCv3 capability, generalized from
// irc/capabilities.go's Capability/ServerCapabilities to cover spec.md
// §4.5's full list and the connection-dependent (TLS-only, insecure-only)
// value computation STS and sasl both need.
type Capability struct {
	Name string
	// Value, if non-nil, computes this capability's CAP LS value string
	// for a given connection (e.g. "sasl=PLAIN,EXTERNAL,SCRAM-SHA-256" only over TLS,
	// "sts=port=6697" only over plaintext). A nil Value means the
	// capability is advertised bare.
	Value func(isTLS bool) (value string, offered bool)
}

// ServerCapabilities is the catalog spec.md §4.5 names. The sts values
// (port 6697, duration 604800) are fixed literals, not read from
// configuration.
var ServerCapabilities = []Capability{
	{Name: "message-tags"},
	{Name: "server-time"},
	{Name: "account-tag"},
	{Name: "account-notify"},
	{Name: "away-notify"},
	{Name: "extended-join"},
	{Name: "multi-prefix"},
	{Name: "userhost-in-names"},
	{Name: "chghost"},
	{Name: "setname"},
	{Name: "invite-notify"},
	{Name: "labeled-response"},
	{Name: "batch"},
	{Name: "echo-message"},
	{Name: "cap-notify"},
	{Name: "account-registration"},
	{Name: "draft/chathistory"},
	{
		Name: "multiline",
		Value: func(bool) (string, bool) {
			return "max-bytes=4096,max-lines=24", true
		},
	},
	{
		Name: "sasl",
		Value: func(isTLS bool) (string, bool) {
			if !isTLS {
				return "", false
			}
			return "PLAIN,EXTERNAL,SCRAM-SHA-256", true
		},
	},
	{
		Name: "sts",
		Value: func(isTLS bool) (string, bool) {
			if isTLS {
				return "duration=604800", true
			}
			return "port=6697", true
		},
	},
}

// Capabilities tracks one connection's negotiation state, generalized
// from irc/capabilities.go's ClientCapabilities to record per-request
// atomicity (REQ either enables every listed cap or none of them).
type Capabilities struct {
	Negotiating bool
	Ended       bool // CAP END already received, or implied by first non-CAP command pre-302
	Enabled     map[string]string
}

// NewCapabilities returns an empty, not-yet-negotiating tracker.
func NewCapabilities() Capabilities {
	return Capabilities{Enabled: make(map[string]string)}
}

// Has reports whether name is enabled, regardless of its value.
func (c Capabilities) Has(name string) bool {
	_, ok := c.Enabled[name]
	return ok
}

func lookupCapability(name string) (Capability, bool) {
	for _, cap := range ServerCapabilities {
		if cap.Name == name {
			return cap, true
		}
	}
	return Capability{}, false
}

// capString renders one capability's LS token ("name" or "name=value").
func capString(cap Capability, isTLS bool) (string, bool) {
	if cap.Value == nil {
		return cap.Name, true
	}
	value, offered := cap.Value(isTLS)
	if !offered {
		return "", false
	}
	if value == "" {
		return cap.Name, true
	}
	return cap.Name + "=" + value, true
}

// availableCapTokens returns every capability token offered on this
// connection, sorted for deterministic LS output.
func availableCapTokens(isTLS bool) []string {
	var out []string
	for _, cap := range ServerCapabilities {
		if tok, ok := capString(cap, isTLS); ok {
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

// resolveCapRequest validates a space-separated REQ list against the
// catalog, per spec.md §4.5's atomicity rule: either every requested name
// is known (and toggled) or none are applied. It returns the names that
// would be enabled/disabled and whether the whole request is valid.
func resolveCapRequest(raw string, isTLS bool) (toEnable, toDisable []string, ok bool) {
	names := strings.Fields(raw)
	if len(names) == 0 {
		return nil, nil, false
	}
	for _, n := range names {
		remove := strings.HasPrefix(n, "-")
		name := strings.TrimPrefix(n, "-")
		cap, known := lookupCapability(name)
		if !known {
			return nil, nil, false
		}
		if !remove {
			if _, offered := capString(cap, isTLS); !offered {
				return nil, nil, false
			}
			toEnable = append(toEnable, name)
		} else {
			toDisable = append(toDisable, name)
		}
	}
	return toEnable, toDisable, true
}
