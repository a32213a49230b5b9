package modes

import (
	"regexp"
	"strings"
	"sync"
)

// regexSpecial matches the regex metacharacters that patternToRegex
// escapes: every one except the wildcard tokens '*' and '?' that the
// hostmask grammar itself defines.
var regexSpecial = regexp.MustCompile(`[.+()^$\[\]{}|\\]`)

// patternToRegex converts an RFC wildcard pattern ('*' any run, '?' any
// one char) into an anchored regular expression, with every other
// metacharacter escaped so literal dots etc. in hostmasks match literally.
func patternToRegex(pattern string) string {
	var b strings.Builder
	b.WriteByte('^')
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			s := string(c)
			if regexSpecial.MatchString(s) {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('$')
	return b.String()
}

var (
	maskCacheMu sync.Mutex
	maskCache   = make(map[string]*regexp.Regexp)
)

func compileMask(pattern string) *regexp.Regexp {
	maskCacheMu.Lock()
	defer maskCacheMu.Unlock()
	if re, ok := maskCache[pattern]; ok {
		return re
	}
	re := regexp.MustCompile(patternToRegex(pattern))
	maskCache[pattern] = re
	return re
}

// MatchMask reports whether text matches the RFC wildcard pattern.
// For a pattern containing no metacharacter this is plain equality,
// satisfying spec.md §8's hostmask wildcard testable property.
func MatchMask(pattern, text string) bool {
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == text
	}
	return compileMask(pattern).MatchString(text)
}

// MatchHostmask reports whether a full "nick!user@host" string matches a
// hostmask pattern, comparing case-insensitively per RFC 1459 mapping.
func MatchHostmask(pattern, hostmask string) bool {
	return MatchMask(ToLowerRFC1459(pattern), ToLowerRFC1459(hostmask))
}
