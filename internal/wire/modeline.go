package wire

import "strings"

// ModeChange is one '+' or '-' mode character with its optional argument.
type ModeChange struct {
	Add  bool
	Char byte
	Arg  string
}

// FormatModeLine collapses a slice of mode changes into the wire form
// "+abc-de args…", per spec.md §4.1: runs of same-direction characters
// are collapsed together and arguments trail in order.
func FormatModeLine(changes []ModeChange) string {
	if len(changes) == 0 {
		return ""
	}
	var flags strings.Builder
	var args []string

	sign := byte(0)
	for _, c := range changes {
		want := byte('-')
		if c.Add {
			want = '+'
		}
		if want != sign {
			flags.WriteByte(want)
			sign = want
		}
		flags.WriteByte(c.Char)
		if c.Arg != "" {
			args = append(args, c.Arg)
		}
	}

	parts := append([]string{flags.String()}, args...)
	return strings.Join(parts, " ")
}

// ParseModeLine splits a "+abc-de" mode string into individual add/remove
// characters, without resolving arguments (callers consume arguments from
// the parameter list per-character using a mode table, since which modes
// take arguments is context-dependent — user vs. channel, set vs. unset).
func ParseModeLine(modeStr string) []struct {
	Add  bool
	Char byte
} {
	var out []struct {
		Add  bool
		Char byte
	}
	add := true
	for i := 0; i < len(modeStr); i++ {
		switch modeStr[i] {
		case '+':
			add = true
		case '-':
			add = false
		default:
			out = append(out, struct {
				Add  bool
				Char byte
			}{add, modeStr[i]})
		}
	}
	return out
}

// SplitCapList splits a long capability list into lines that, once
// serialized as a CAP LS/NEW response with a '*' continuation marker,
// each stay within MaxLineBytes. prefixLen is the length of everything
// before the capability list itself on the wire (":server CAP nick LS "),
// so the budget can account for it precisely.
func SplitCapList(caps []string, prefixLen int) []string {
	const continuation = " *"
	budget := MaxLineBytes - 2 - prefixLen // -2 for CRLF

	var lines []string
	var cur []string
	curLen := 0
	for _, c := range caps {
		add := len(c) + 1 // separating space
		if curLen+add > budget-len(continuation) && len(cur) > 0 {
			lines = append(lines, strings.Join(cur, " "))
			cur = nil
			curLen = 0
		}
		cur = append(cur, c)
		curLen += add
	}
	lines = append(lines, strings.Join(cur, " "))
	return lines
}
