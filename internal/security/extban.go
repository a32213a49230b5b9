package security

import (
	"strings"

	"github.com/presbrey/ircd/internal/modes"
)

// UserContext carries the fields an extended ban or a plain hostmask ban
// is evaluated against.
type UserContext struct {
	Nick          string
	User          string
	Host          string
	RealHost      string
	IP            string
	Account       string // "" if unauthenticated
	RealName      string
	ServerName    string
	Channels      []string
	OperType      string // "" if not an operator
	CertFP        string
	SASLMechanism string
}

// Hostmask returns the nick!user@host form used for plain wildcard bans.
func (u UserContext) Hostmask() string {
	return u.Nick + "!" + u.User + "@" + u.Host
}

// MatchBan evaluates a single ban mask (plain hostmask or an extended
// ban of the form "$type:arg") against a user context, per spec.md §4.6.
func MatchBan(mask string, u UserContext) bool {
	if !strings.HasPrefix(mask, "$") {
		return modes.MatchHostmask(mask, u.Hostmask()) ||
			modes.MatchHostmask(mask, u.Nick+"!"+u.User+"@"+u.RealHost)
	}

	body := mask[1:]
	typ, arg, hasArg := strings.Cut(body, ":")

	switch typ {
	case "a":
		return hasArg && u.Account != "" && modes.MatchMask(arg, u.Account)
	case "r":
		return hasArg && modes.MatchMask(arg, u.RealName)
	case "s":
		return hasArg && modes.MatchMask(arg, u.ServerName)
	case "c":
		if !hasArg {
			return false
		}
		for _, ch := range u.Channels {
			if modes.EqualFold(ch, arg) {
				return true
			}
		}
		return false
	case "o":
		return hasArg && u.OperType != "" && modes.MatchMask(arg, u.OperType)
	case "x":
		return hasArg && u.CertFP != "" && strings.EqualFold(arg, u.CertFP)
	case "z":
		return hasArg && strings.EqualFold(arg, u.SASLMechanism)
	case "U":
		return u.Account == ""
	case "j":
		// $j: pattern is evaluated by the caller against a specific
		// channel's join mask list; here it degrades to realname-style
		// mask matching against the hostmask, matching the "untyped"
		// extended-ban fallback semantics of other daemons.
		return hasArg && modes.MatchHostmask(arg, u.Hostmask())
	default:
		return false
	}
}

// MatchAny reports whether any mask in masks matches u.
func MatchAny(masks []string, u UserContext) bool {
	for _, m := range masks {
		if MatchBan(m, u) {
			return true
		}
	}
	return false
}
