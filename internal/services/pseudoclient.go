package services

import (
	"fmt"
	"log"
	"strings"

	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/matrix"
	"github.com/presbrey/ircd/internal/wire"
)

// commandFunc handles one NickServ/ChanServ subcommand: the invoking
// user and the arguments following the command word.
type commandFunc func(caller *matrix.User, args []string)

// pseudoClient is an in-Matrix user with no real connection: its Sender
// is itself, so PRIVMSG lines routed to it by the normal
// matrix.User.Send path are parsed back into commands instead of bytes
// on a socket. Grounded on internal/handler/peer.go's peerSender, which
// solves the same "deliver into a non-socket receiver" shape for
// remote-owned users.
type pseudoClient struct {
	nick     string
	info     string
	mtx      *matrix.Matrix
	commands map[string]commandFunc
	help     []string
}

func newPseudoClient(nick, info string, mtx *matrix.Matrix) *pseudoClient {
	return &pseudoClient{
		nick:     nick,
		info:     info,
		mtx:      mtx,
		commands: make(map[string]commandFunc),
	}
}

// register introduces the pseudo-client into the Matrix as a Service
// user so PRIVMSG <nick> and WHOIS resolve to it like any other client.
func (p *pseudoClient) register(uid string, ts clock.Timestamp) *matrix.User {
	u := matrix.NewUser(uid, p.nick, p.nick, p.info, "services."+strings.ToLower(p.nick)+".", "0.0.0.0", p, ts)
	u.SetModes(matrix.UserModes{Service: true, Invisible: true}, ts)
	p.mtx.AddUser(u, nil)
	return u
}

// TrySend implements matrix.Sender: every line addressed to this
// pseudo-client arrives here instead of a socket buffer.
func (p *pseudoClient) TrySend(line string) bool {
	msg, err := wire.Parse(line)
	if err != nil {
		return false
	}
	if msg.Command != "PRIVMSG" && msg.Command != "NOTICE" || len(msg.Params) < 2 {
		return true
	}
	callerNick, _, _ := wire.ParseHostmask(msg.Prefix)
	caller, ok := p.mtx.GetUserByNick(callerNick)
	if !ok {
		return true
	}
	p.dispatch(caller, msg.Params[1])
	return true
}

// Closed always reports false: a pseudo-client never goes away on its
// own, only when the server shuts down and stops registering handlers.
func (p *pseudoClient) Closed() bool { return false }

func (p *pseudoClient) dispatch(caller *matrix.User, text string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}
	name := strings.ToUpper(fields[0])
	fn, ok := p.commands[name]
	if !ok {
		p.notice(caller, fmt.Sprintf("Unknown command %s. %s HELP for a command list.", name, p.nick))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("services: %s command %s panicked: %v", p.nick, name, r)
			p.notice(caller, "Internal error processing your request.")
		}
	}()
	fn(caller, fields[1:])
}

// notice delivers a NOTICE from this pseudo-client to caller, the
// standard services reply form (never PRIVMSG, so clients' own loop
// detection never mistakes it for a conversation).
func (p *pseudoClient) notice(caller *matrix.User, text string) {
	line := fmt.Sprintf(":%s NOTICE %s :%s", p.nick, caller.Nick(), text)
	caller.Send(line)
}

func (p *pseudoClient) sendHelp(caller *matrix.User) {
	for _, line := range p.help {
		p.notice(caller, line)
	}
}
