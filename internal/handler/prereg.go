package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/presbrey/ircd/internal/matrix"
	"github.com/presbrey/ircd/internal/security"
	"github.com/presbrey/ircd/internal/wire"
)

// registerPreRegistration installs every command spec.md §4.5 allows
// before registration completes: CAP, PASS, NICK, USER, AUTHENTICATE,
// WEBIRC, QUIT, PING/PONG (and STARTTLS, handled by the listener before a
// line ever reaches here, so it is not repeated in this table).
func (r *Registry) registerPreRegistration() {
	r.preReg["CAP"] = r.handleCAP
	r.preReg["PASS"] = r.handlePass
	r.preReg["NICK"] = r.handleNickPreReg
	r.preReg["USER"] = r.handleUser
	r.preReg["AUTHENTICATE"] = r.handleAuthenticate
	r.preReg["WEBIRC"] = r.handleWebirc
	r.preReg["QUIT"] = r.handleQuitPreReg
	r.preReg["PING"] = r.handlePing
	r.preReg["PONG"] = r.handlePong
}

func (r *Registry) handlePass(ctx *Context, params []string) {
	if len(params) < 1 {
		ctx.NeedMoreParams("PASS")
		return
	}
	ctx.Session.mu.Lock()
	ctx.Session.pass = params[0]
	ctx.Session.mu.Unlock()
}

func (r *Registry) handleNickPreReg(ctx *Context, params []string) {
	if len(params) < 1 {
		ctx.Numeric(wire.ERR_NONICKNAMEGIVEN, "No nickname given")
		return
	}
	nick := params[0]
	if !isValidNickname(nick) {
		ctx.Numeric(wire.ERR_ERRONEUSNICKNAME, nick, "Erroneous nickname")
		return
	}
	if _, taken := r.deps.Matrix.GetUserByNick(nick); taken {
		ctx.Numeric(wire.ERR_NICKNAMEINUSE, nick, "Nickname is already in use")
		return
	}

	ctx.Session.mu.Lock()
	ctx.Session.nick = nick
	ctx.Session.mu.Unlock()

	r.tryCompleteRegistration(ctx)
}

func (r *Registry) handleUser(ctx *Context, params []string) {
	if len(params) < 4 {
		ctx.NeedMoreParams("USER")
		return
	}
	ctx.Session.mu.Lock()
	ctx.Session.user = params[0]
	ctx.Session.realname = params[3]
	ctx.Session.mu.Unlock()

	r.tryCompleteRegistration(ctx)
}

// handleWebirc trusts the gateway's reported origin unconditionally: the
// gateway's password is not checked, and Deps carries no WEBIRC blocks
// to check it against.
func (r *Registry) handleWebirc(ctx *Context, params []string) {
	if len(params) < 4 {
		ctx.NeedMoreParams("WEBIRC")
		return
	}
	ctx.Session.mu.Lock()
	ctx.Session.webircHost = params[2]
	ctx.Session.webircIP = params[3]
	ctx.Session.mu.Unlock()
}

func (r *Registry) handleQuitPreReg(ctx *Context, params []string) {
	reason := "Client Quit"
	if len(params) > 0 {
		reason = params[0]
	}
	ctx.Session.conn.TrySend(fmt.Sprintf(":%s ERROR :Closing Link: %s", ctx.prefix(), reason))
	ctx.Session.conn.Close()
}

func (r *Registry) handlePing(ctx *Context, params []string) {
	if len(params) < 1 {
		ctx.NeedMoreParams("PING")
		return
	}
	ctx.Reply("PONG", ctx.Deps.Info.Name, params[0])
}

func (r *Registry) handlePong(ctx *Context, _ []string) {
	ctx.Session.mu.Lock()
	ctx.Session.lastPong = time.Now()
	ctx.Session.mu.Unlock()
}

// tryCompleteRegistration finishes registration once NICK, USER, any
// required connection PASS, and CAP negotiation (if started) have all
// settled, mirroring irc/client.go's tryCompleteRegistration /
// completeRegistration pair.
func (r *Registry) tryCompleteRegistration(ctx *Context) {
	s := ctx.Session
	s.mu.Lock()
	ready := !s.registered && s.nick != "" && s.user != "" &&
		!s.caps.Negotiating &&
		(s.sasl.State == SASLNone || s.sasl.State == SASLSuccess || s.sasl.State == SASLFailed || s.sasl.State == SASLAborted)
	nick := s.nick
	s.mu.Unlock()
	if !ready {
		return
	}

	if r.deps.ConnPassword != "" {
		s.mu.Lock()
		pass := s.pass
		s.mu.Unlock()
		if pass != r.deps.ConnPassword {
			ctx.Numeric(wire.ERR_PASSWDMISMATCH, "Password incorrect")
			s.conn.Close()
			return
		}
	}

	if _, taken := r.deps.Matrix.GetUserByNick(nick); taken {
		ctx.Numeric(wire.ERR_NICKNAMEINUSE, nick, "Nickname is already in use")
		return
	}

	host := s.remoteHost()
	uc := security.UserContext{Nick: nick, User: s.user, Host: host, RealHost: host, RealName: s.realname}
	if reason, banned := hostmaskBanned(r.deps.HostBans, uc); banned {
		ctx.Numeric(wire.ERR_YOUREBANNEDCREEP, fmt.Sprintf("You are banned from this server: %s", reason))
		s.conn.Close()
		return
	}
	if reason, banned := realnameBanned(r.deps.RealBans, s.realname); banned {
		ctx.Numeric(wire.ERR_YOUREBANNEDCREEP, fmt.Sprintf("You are banned from this server: %s", reason))
		s.conn.Close()
		return
	}
	if _, shunned := hostmaskBanned(r.deps.ShunBans, uc); shunned {
		s.mu.Lock()
		s.shunned = true
		s.mu.Unlock()
	}

	uid := r.deps.UIDGen.Next()
	ts := r.deps.Clock.Tick()

	visHost := host
	if r.deps.Cloaker != nil {
		visHost = r.deps.Cloaker.Cloak(host)
	}

	user := matrix.NewUser(uid, nick, s.user, s.realname, host, s.remoteIP(), s.conn, ts)
	user.SetCloakedHost(visHost)
	if !r.deps.Matrix.AddUser(user, nil) {
		ctx.Numeric(wire.ERR_NICKNAMEINUSE, nick, "Nickname is already in use")
		return
	}

	s.mu.Lock()
	s.uid = uid
	s.registered = true
	s.mu.Unlock()

	r.sendWelcome(ctx)
}

func (r *Registry) sendWelcome(ctx *Context) {
	info := r.deps.Info

	ctx.Numeric(wire.RPL_WELCOME, fmt.Sprintf("Welcome to the %s Network %s", info.Network, ctx.clientPrefix()))
	ctx.Numeric(wire.RPL_YOURHOST, fmt.Sprintf("Your host is %s, running version %s", info.Name, info.Version))
	ctx.Numeric(wire.RPL_CREATED, fmt.Sprintf("This server was created %s", info.Created.Format("Mon Jan 2 2006 at 15:04:05 MST")))
	ctx.Numeric(wire.RPL_MYINFO, info.Name, info.Version, "ioOarxz", "biklmnopqstvCMOQS")

	for _, line := range motdOrDefault(info) {
		ctx.Send(line)
	}
}

func motdOrDefault(info ServerInfo) []string {
	prefix := fmt.Sprintf(":%s ", info.Name)
	if len(info.MOTD) == 0 {
		return []string{
			prefix + fmt.Sprintf("%d :- %s Message of the Day -", wire.RPL_MOTDSTART, info.Name),
			prefix + fmt.Sprintf("%d :- %s", wire.RPL_MOTD, info.Description),
			prefix + fmt.Sprintf("%d :End of MOTD command", wire.RPL_ENDOFMOTD),
		}
	}
	lines := []string{prefix + fmt.Sprintf("%d :- %s Message of the Day -", wire.RPL_MOTDSTART, info.Name)}
	for _, l := range info.MOTD {
		lines = append(lines, prefix+fmt.Sprintf("%d :- %s", wire.RPL_MOTD, l))
	}
	return append(lines, prefix+fmt.Sprintf("%d :End of MOTD command", wire.RPL_ENDOFMOTD))
}

// isValidNickname enforces RFC 2812's nickname grammar: a letter or
// special character, followed by letters, digits, specials, or '-'.
func isValidNickname(nick string) bool {
	if nick == "" || len(nick) > 30 {
		return false
	}
	const specials = "[]\\`_^{|}"
	first := rune(nick[0])
	if !isLetter(first) && !strings.ContainsRune(specials, first) {
		return false
	}
	for _, c := range nick[1:] {
		if !isLetter(c) && !isDigit(c) && !strings.ContainsRune(specials, c) && c != '-' {
			return false
		}
	}
	return true
}

func isLetter(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }
func isDigit(r rune) bool  { return r >= '0' && r <= '9' }
