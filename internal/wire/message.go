// Package wire implements the IRC line codec: parsing and serializing
// the `['@' tags SP] [':' prefix SP] command (SP param)* [SP ':' trailing]
// CRLF` grammar shared by the client and TS6 server-to-server protocols,
// including IRCv3 message-tag escaping.
package wire

import (
	"fmt"
	"strings"
)

// MaxLineBytes is the line limit excluding the IRCv3 tag prefix (512
// bytes including the trailing CRLF, per RFC 2812 and spec.md §6).
const MaxLineBytes = 512

// MaxFrameBytes is the total frame limit including tags (spec.md §3, §6).
const MaxFrameBytes = 8191

// Tags is an ordered set of IRCv3 message tags. A present-but-empty value
// is distinct from an absent key, so Tags stores membership via a
// companion "has" set rather than relying on Go's zero value for string.
type Tags struct {
	order  []string
	values map[string]string
	has    map[string]bool
}

// NewTags returns an empty tag set.
func NewTags() *Tags {
	return &Tags{values: make(map[string]string), has: make(map[string]bool)}
}

// Set records key=value (value may be empty).
func (t *Tags) Set(key, value string) {
	if !t.has[key] {
		t.order = append(t.order, key)
	}
	t.values[key] = value
	t.has[key] = true
}

// Get returns the value for key and whether it is present at all.
func (t *Tags) Get(key string) (string, bool) {
	if t == nil {
		return "", false
	}
	v, ok := t.has[key]
	if !ok {
		return "", false
	}
	return t.values[key], v
}

// Len reports the number of tags.
func (t *Tags) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// Keys returns tag keys in insertion order.
func (t *Tags) Keys() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.order...)
}

var tagEscaper = strings.NewReplacer(
	`\`, `\\`,
	`;`, `\:`,
	` `, `\s`,
	"\r", `\r`,
	"\n", `\n`,
)

var tagUnescaper = strings.NewReplacer(
	`\:`, `;`,
	`\s`, ` `,
	`\r`, "\r",
	`\n`, "\n",
	`\\`, `\`,
)

func unescapeTagValue(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i == len(s)-1 {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i+1])
		}
		i++
	}
	return b.String()
}

func escapeTagValue(s string) string { return tagEscaper.Replace(s) }

// ParseTags parses the content between '@' and the following space (not
// including either delimiter).
func ParseTags(raw string) (*Tags, error) {
	tags := NewTags()
	if raw == "" {
		return tags, nil
	}
	for _, pair := range strings.Split(raw, ";") {
		if pair == "" {
			return nil, fmt.Errorf("%w: empty tag in %q", ErrInvalidTag, raw)
		}
		key, value, hasValue := strings.Cut(pair, "=")
		if key == "" {
			return nil, fmt.Errorf("%w: empty tag key in %q", ErrInvalidTag, raw)
		}
		if hasValue {
			tags.Set(key, unescapeTagValue(value))
		} else {
			tags.Set(key, "")
			tags.has[key] = true
		}
	}
	return tags, nil
}

// String serializes the tag set as it would appear after '@' (without the
// leading '@' or trailing space).
func (t *Tags) String() string {
	if t.Len() == 0 {
		return ""
	}
	parts := make([]string, 0, len(t.order))
	for _, k := range t.order {
		v := t.values[k]
		if v == "" {
			parts = append(parts, k)
		} else {
			parts = append(parts, k+"="+escapeTagValue(v))
		}
	}
	return strings.Join(parts, ";")
}

// Message is the fully-parsed, owned representation of one IRC line.
type Message struct {
	Tags    *Tags
	Prefix  string
	Command string
	Params  []string
}

// New constructs a Message with no tags or prefix.
func New(command string, params ...string) *Message {
	return &Message{Command: strings.ToUpper(command), Params: params}
}

// Reply builds a response message carrying the same tag/label plumbing
// callers typically want to echo (callers set Tags explicitly when label
// propagation applies; see package handler).
func (m *Message) Reply(prefix, command string, params ...string) *Message {
	return &Message{Prefix: prefix, Command: strings.ToUpper(command), Params: params}
}

// Parse decodes a single line (without its trailing CRLF) into a Message.
func Parse(line string) (*Message, error) {
	if line == "" {
		return nil, fmt.Errorf("%w: empty line", ErrMissingCommand)
	}

	msg := &Message{}

	if line[0] == '@' {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("%w: tags with no command", ErrMissingCommand)
		}
		tags, err := ParseTags(line[1:sp])
		if err != nil {
			return nil, err
		}
		msg.Tags = tags
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	if line == "" {
		return nil, fmt.Errorf("%w: no command after tags", ErrMissingCommand)
	}

	if line[0] == ':' {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("%w: prefix with no command", ErrMissingCommand)
		}
		msg.Prefix = line[1:sp]
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	if line == "" {
		return nil, ErrMissingCommand
	}

	sp := strings.IndexByte(line, ' ')
	if sp < 0 {
		msg.Command = strings.ToUpper(line)
		return msg, nil
	}
	msg.Command = strings.ToUpper(line[:sp])

	rest := strings.TrimLeft(line[sp+1:], " ")
	for rest != "" {
		if rest[0] == ':' {
			msg.Params = append(msg.Params, rest[1:])
			break
		}
		next := strings.IndexByte(rest, ' ')
		if next < 0 {
			msg.Params = append(msg.Params, rest)
			break
		}
		msg.Params = append(msg.Params, rest[:next])
		rest = strings.TrimLeft(rest[next+1:], " ")
	}

	return msg, nil
}

// needsTrailing reports whether param must be colon-prefixed on encode:
// it is empty, contains a space, or itself starts with ':'.
func needsTrailing(param string) bool {
	return param == "" || strings.Contains(param, " ") || strings.HasPrefix(param, ":")
}

// String serializes the message back to wire form (without CRLF).
func (m *Message) String() string {
	var b strings.Builder

	if m.Tags.Len() > 0 {
		b.WriteByte('@')
		b.WriteString(m.Tags.String())
		b.WriteByte(' ')
	}
	if m.Prefix != "" {
		b.WriteByte(':')
		b.WriteString(m.Prefix)
		b.WriteByte(' ')
	}
	b.WriteString(m.Command)

	for i, param := range m.Params {
		b.WriteByte(' ')
		last := i == len(m.Params)-1
		if last && needsTrailing(param) {
			b.WriteByte(':')
		}
		b.WriteString(param)
	}

	return b.String()
}

// Bytes serializes the message with the trailing CRLF appended.
func (m *Message) Bytes() []byte {
	return append([]byte(m.String()), '\r', '\n')
}

// ParseHostmask splits "nick!user@host" into its parts. Missing
// components are returned empty, matching lenient client input handling.
func ParseHostmask(hostmask string) (nick, user, host string) {
	bang := strings.IndexByte(hostmask, '!')
	if bang < 0 {
		return hostmask, "", ""
	}
	nick = hostmask[:bang]
	rest := hostmask[bang+1:]
	at := strings.IndexByte(rest, '@')
	if at < 0 {
		return nick, rest, ""
	}
	return nick, rest[:at], rest[at+1:]
}

// FormatHostmask joins nick/user/host into "nick!user@host".
func FormatHostmask(nick, user, host string) string {
	return fmt.Sprintf("%s!%s@%s", nick, user, host)
}
