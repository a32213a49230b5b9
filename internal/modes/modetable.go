package modes

// ArgPolicy describes when a mode character consumes an argument.
type ArgPolicy int

const (
	ArgNever ArgPolicy = iota
	ArgOnSet
	ArgOnUnset
	ArgAlways
	ArgList // list-query mode: no arg means "show the list"
)

// ChannelModeKind classifies a channel mode character for dispatch.
type ChannelModeKind int

const (
	KindBoolean ChannelModeKind = iota
	KindList                   // +b/+e/+I
	KindKeyed                  // +k
	KindLimit                  // +l
	KindPrivilege               // +o/+h/+v/+a/+q(owner)
)

// ChannelModeDef describes one channel mode character's behavior.
type ChannelModeDef struct {
	Char   byte
	Kind   ChannelModeKind
	ArgPol ArgPolicy
}

// ChannelModeTable is keyed by mode character. List modes (+b/+e/+I)
// require an argument to add/remove but take none to query; that is
// represented by ArgList rather than ArgAlways.
var ChannelModeTable = map[byte]ChannelModeDef{
	'i': {'i', KindBoolean, ArgNever},
	'k': {'k', KindKeyed, ArgOnSet},
	'l': {'l', KindLimit, ArgOnSet},
	'b': {'b', KindList, ArgList},
	'e': {'e', KindList, ArgList},
	'I': {'I', KindList, ArgList},
	'q': {'q', KindPrivilege, ArgAlways},
	'a': {'a', KindPrivilege, ArgAlways},
	'o': {'o', KindPrivilege, ArgAlways},
	'h': {'h', KindPrivilege, ArgAlways},
	'v': {'v', KindPrivilege, ArgAlways},
	't': {'t', KindBoolean, ArgNever},
	'm': {'m', KindBoolean, ArgNever},
	'n': {'n', KindBoolean, ArgNever},
	'p': {'p', KindBoolean, ArgNever},
	's': {'s', KindBoolean, ArgNever},
	'r': {'r', KindBoolean, ArgNever},
	'c': {'c', KindBoolean, ArgNever}, // no_colors
	'C': {'C', KindBoolean, ArgNever}, // no_ctcp
	'S': {'S', KindBoolean, ArgNever}, // ssl_only
	'M': {'M', KindBoolean, ArgNever}, // reduced_moderation
	'Q': {'Q', KindBoolean, ArgNever}, // no kicking
	'O': {'O', KindBoolean, ArgNever}, // operator-only channel
}

// UserModeDef describes one user mode character.
type UserModeDef struct {
	Char         byte
	ServerOnly   bool // only the server may set this (e.g. 'o')
	Snomask      bool // part of the snomask bit family
}

// UserModeTable is keyed by mode character, covering the RFC 2812 +iwoas
// core plus the extended set the teacher's irc.go doc comment enumerates.
var UserModeTable = map[byte]UserModeDef{
	'i': {'i', false, false},
	'w': {'w', false, false},
	'o': {'o', true, false},
	'O': {'O', true, false},
	'a': {'a', false, false},
	'r': {'r', true, false},
	'x': {'x', false, false}, // cloak
	's': {'s', false, true},  // base snomask toggle; per-char bits layered via Snomask()
	'b': {'b', true, false},  // bot
	'S': {'S', true, false},  // service
	'z': {'z', false, false}, // secure/TLS indicator, server-maintained
}

// PrivilegeRank orders channel privilege characters from highest to
// lowest, used for multi-prefix rendering and "highest privilege wins"
// comparisons.
var PrivilegeRank = []byte{'q', 'a', 'o', 'h', 'v'}

// PrivilegePrefix maps a privilege mode character to its NAMES-reply
// symbol.
var PrivilegePrefix = map[byte]byte{
	'q': '~',
	'a': '&',
	'o': '@',
	'h': '%',
	'v': '+',
}
