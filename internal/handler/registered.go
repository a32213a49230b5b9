package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/presbrey/ircd/internal/chanactor"
	"github.com/presbrey/ircd/internal/crdt"
	"github.com/presbrey/ircd/internal/matrix"
	"github.com/presbrey/ircd/internal/modes"
	"github.com/presbrey/ircd/internal/security"
	"github.com/presbrey/ircd/internal/wire"
)

const actorCallTimeout = 5 * time.Second

// registerRegistered installs the full client command set, generalized
// from irc/commands.go and irc/client.go's per-command handlers onto the
// Matrix/channel-actor model.
func (r *Registry) registerRegistered() {
	r.registered["CAP"] = r.handleCAP
	r.registered["PING"] = r.handlePing
	r.registered["PONG"] = r.handlePong
	r.registered["NICK"] = r.handleNickChange
	r.registered["JOIN"] = r.handleJoin
	r.registered["PART"] = r.handlePart
	r.registered["PRIVMSG"] = r.handleMessage(false)
	r.registered["NOTICE"] = r.handleMessage(true)
	r.registered["TAGMSG"] = r.handleTagmsg
	r.registered["TOPIC"] = r.handleTopic
	r.registered["MODE"] = r.handleMode
	r.registered["KICK"] = r.handleKick
	r.registered["INVITE"] = r.handleInvite
	r.registered["WHO"] = r.handleWho
	r.registered["WHOIS"] = r.handleWhois
	r.registered["AWAY"] = r.handleAway
	r.registered["MOTD"] = r.handleMotd
	r.registered["VERSION"] = r.handleVersion
	r.registered["MONITOR"] = r.handleMonitor
	r.registered["QUIT"] = r.handleQuitRegistered
	r.registered["CHATHISTORY"] = r.handleChatHistory
	r.registerOperCommands()
}

func (r *Registry) handleNickChange(ctx *Context, params []string) {
	if len(params) < 1 {
		ctx.Numeric(wire.ERR_NONICKNAMEGIVEN, "No nickname given")
		return
	}
	newNick := params[0]
	if !isValidNickname(newNick) {
		ctx.Numeric(wire.ERR_ERRONEUSNICKNAME, newNick, "Erroneous nickname")
		return
	}

	s := ctx.Session
	oldPrefix := ctx.clientPrefix()
	ts := r.deps.Clock.Tick()

	if !r.deps.Matrix.RenameUser(s.uid, newNick, ts, nil) {
		ctx.Numeric(wire.ERR_NICKNAMEINUSE, newNick, "Nickname is already in use")
		return
	}

	s.mu.Lock()
	s.nick = newNick
	s.mu.Unlock()

	line := ":" + oldPrefix + " NICK :" + newNick
	ctx.Send(line)

	cctx, cancel := context.WithTimeout(context.Background(), actorCallTimeout)
	defer cancel()
	if user, ok := r.deps.Matrix.GetUser(s.uid); ok {
		for _, ch := range user.Channels() {
			if actor, ok := r.deps.Channels.Get(ch); ok {
				actor.Broadcast(cctx, line, s.uid, nil)
			}
		}
	}
}

func (r *Registry) handleJoin(ctx *Context, params []string) {
	if len(params) < 1 {
		ctx.NeedMoreParams("JOIN")
		return
	}
	s := ctx.Session
	user, ok := r.deps.Matrix.GetUser(s.uid)
	if !ok {
		return
	}

	if r.deps.JoinLimiter != nil && !r.deps.JoinLimiter.AllowJoin(s.remoteIP()) {
		ctx.Send(fmt.Sprintf(":%s NOTICE %s :Flooding (too many joins, try again in a moment)", ctx.prefix(), s.nick))
		return
	}

	names := strings.Split(params[0], ",")
	var keys []string
	if len(params) > 1 {
		keys = strings.Split(params[1], ",")
	}

	cctx, cancel := context.WithTimeout(context.Background(), actorCallTimeout)
	defer cancel()

	for i, raw := range names {
		name := modes.NormalizeChannel(raw)
		key := ""
		if i < len(keys) {
			key = keys[i]
		}

		actor := r.deps.Channels.GetOrCreate(name)
		ts := r.deps.Clock.Tick()
		uc := security.UserContext{Nick: user.Nick(), User: user.Username(), Host: user.RealHost(), RealHost: user.RealHost(), Account: user.Account(), RealName: user.RealName()}

		p := chanactor.JoinParams{UID: s.uid, Hostmask: uc.Hostmask(), Key: key, JoinTime: ts.Wall, TS: ts}
		if err := actor.Join(cctx, p); err != nil {
			ctx.Numeric(wire.ERR_BANNEDFROMCHAN, raw, "Cannot join channel (you're banned)")
			continue
		}

		user.JoinedChannel(name)
		joinLine := fmt.Sprintf(":%s JOIN :%s", ctx.clientPrefix(), raw)
		ctx.Send(joinLine)
		actor.Broadcast(cctx, joinLine, s.uid, nil)

		r.sendTopicAndNames(ctx, actor, raw)
	}
}

// sendTopicAndNames answers a successful JOIN with the topic (if any) and
// the NAMES list, mirroring irc/commands.go's post-join numeric sequence.
func (r *Registry) sendTopicAndNames(ctx *Context, actor *chanactor.Actor, channel string) {
	cctx, cancel := context.WithTimeout(context.Background(), actorCallTimeout)
	defer cancel()

	snap, err := actor.Snapshot(cctx)
	if err != nil {
		return
	}
	if snap.Topic.Value.Text != "" {
		ctx.Numeric(wire.RPL_TOPIC, channel, snap.Topic.Value.Text)
	}

	names := make([]string, 0, len(snap.Members))
	for _, m := range snap.Members {
		nick := m.UID
		if u, ok := r.deps.Matrix.GetUser(m.UID); ok {
			nick = u.Nick()
		}
		names = append(names, privilegePrefix(m.Privilege)+nick)
	}
	ctx.Numeric(wire.RPL_NAMREPLY, "=", channel, strings.Join(names, " "))
	ctx.Numeric(wire.RPL_ENDOFNAMES, channel, "End of NAMES list")
}

// privilegePrefix renders the highest-ranked symbol a member's privilege
// set carries, per modes.PrivilegeRank / modes.PrivilegePrefix.
func privilegePrefix(p crdt.Privilege) string {
	for _, rank := range modes.PrivilegeRank {
		switch rank {
		case 'q':
			if p.Owner {
				return string(modes.PrivilegePrefix['q'])
			}
		case 'a':
			if p.Admin {
				return string(modes.PrivilegePrefix['a'])
			}
		case 'o':
			if p.Op {
				return string(modes.PrivilegePrefix['o'])
			}
		case 'h':
			if p.Halfop {
				return string(modes.PrivilegePrefix['h'])
			}
		case 'v':
			if p.Voice {
				return string(modes.PrivilegePrefix['v'])
			}
		}
	}
	return ""
}

func (r *Registry) handlePart(ctx *Context, params []string) {
	if len(params) < 1 {
		ctx.NeedMoreParams("PART")
		return
	}
	s := ctx.Session
	user, ok := r.deps.Matrix.GetUser(s.uid)
	if !ok {
		return
	}
	reason := ""
	if len(params) > 1 {
		reason = params[1]
	}

	cctx, cancel := context.WithTimeout(context.Background(), actorCallTimeout)
	defer cancel()

	for _, raw := range strings.Split(params[0], ",") {
		name := modes.NormalizeChannel(raw)
		actor, ok := r.deps.Channels.Get(name)
		if !ok {
			ctx.Numeric(wire.ERR_NOSUCHCHANNEL, raw, "No such channel")
			continue
		}
		ts := r.deps.Clock.Tick()
		if err := actor.Part(cctx, s.uid, reason, nil, ts); err != nil {
			ctx.Numeric(wire.ERR_NOTONCHANNEL, raw, "You're not on that channel")
			continue
		}
		user.PartedChannel(name)

		partLine := fmt.Sprintf(":%s PART %s :%s", ctx.clientPrefix(), raw, reason)
		ctx.Send(partLine)
		actor.Broadcast(cctx, partLine, s.uid, nil)

		if members, err := actor.GetMembers(cctx); err == nil && len(members) == 0 {
			r.deps.Channels.Destroy(name, ts)
		}
	}
}

// handleMessage returns a PRIVMSG or NOTICE handler; the two share every
// rule except that NOTICE never generates an error reply back to the
// sender (RFC 2812).
func (r *Registry) handleMessage(isNotice bool) HandlerFunc {
	command := "PRIVMSG"
	if isNotice {
		command = "NOTICE"
	}
	return func(ctx *Context, params []string) {
		if len(params) < 1 {
			if !isNotice {
				ctx.NeedMoreParams(command)
			}
			return
		}
		if len(params) < 2 {
			if !isNotice {
				ctx.Numeric(wire.ERR_NOTEXTTOSEND, "No text to send")
			}
			return
		}
		target, text := params[0], params[1]

		if r.deps.MessageLimiter != nil && !r.deps.MessageLimiter.AllowMessage(ctx.Session.remoteIP()) {
			if !isNotice {
				ctx.Send(fmt.Sprintf(":%s NOTICE %s :Flooding (too many messages, try again in a moment)", ctx.prefix(), ctx.Session.nick))
			}
			return
		}

		line := fmt.Sprintf(":%s %s %s :%s", ctx.clientPrefix(), command, target, text)

		cctx, cancel := context.WithTimeout(context.Background(), actorCallTimeout)
		defer cancel()

		nanotime := r.deps.Clock.Tick().Wall * int64(time.Millisecond)

		if strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&") {
			actor, ok := r.deps.Channels.Get(modes.NormalizeChannel(target))
			if !ok {
				if !isNotice {
					ctx.Numeric(wire.ERR_CANNOTSENDTOCHAN, target, "Cannot send to channel")
				}
				return
			}
			skip := ""
			if ctx.Session.caps.Has("echo-message") {
				ctx.Send(line)
			} else {
				skip = ctx.Session.uid
			}
			actor.Broadcast(cctx, line, skip, nil)
			r.recordMessage(command, ctx.Session.nick, target, text, nanotime)
			return
		}

		tgtUser, ok := r.deps.Matrix.GetUserByNick(target)
		if !ok {
			if !isNotice {
				ctx.Numeric(wire.ERR_NOSUCHNICK, target, "No such nick/channel")
			}
			return
		}
		tgtUser.Send(line)
		r.recordMessage(command, ctx.Session.nick, target, text, nanotime)
		if ctx.Session.caps.Has("echo-message") {
			ctx.Send(line)
		}
	}
}

func (r *Registry) handleTagmsg(ctx *Context, params []string) {
	if len(params) < 1 {
		return
	}
	target := params[0]
	line := ":" + ctx.clientPrefix() + " TAGMSG " + target

	cctx, cancel := context.WithTimeout(context.Background(), actorCallTimeout)
	defer cancel()
	if strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&") {
		if actor, ok := r.deps.Channels.Get(modes.NormalizeChannel(target)); ok {
			actor.Broadcast(cctx, line, ctx.Session.uid, func(uid string) bool { return true })
		}
		return
	}
	if u, ok := r.deps.Matrix.GetUserByNick(target); ok {
		u.Send(line)
	}
}

func (r *Registry) handleTopic(ctx *Context, params []string) {
	if len(params) < 1 {
		ctx.NeedMoreParams("TOPIC")
		return
	}
	name := modes.NormalizeChannel(params[0])
	actor, ok := r.deps.Channels.Get(name)
	if !ok {
		ctx.Numeric(wire.ERR_NOSUCHCHANNEL, params[0], "No such channel")
		return
	}

	cctx, cancel := context.WithTimeout(context.Background(), actorCallTimeout)
	defer cancel()

	if len(params) == 1 {
		snap, err := actor.Snapshot(cctx)
		if err != nil {
			return
		}
		if snap.Topic.Value.Text == "" {
			ctx.Numeric(wire.RPL_NOTOPIC, params[0], "No topic is set")
			return
		}
		ctx.Numeric(wire.RPL_TOPIC, params[0], snap.Topic.Value.Text)
		return
	}

	ts := r.deps.Clock.Tick()
	if err := actor.SetTopic(cctx, params[1], ctx.clientPrefix(), nil, ts); err != nil {
		ctx.Numeric(wire.ERR_CHANOPRIVSNEEDED, params[0], "You're not channel operator")
		return
	}
	line := fmt.Sprintf(":%s TOPIC %s :%s", ctx.clientPrefix(), params[0], params[1])
	ctx.Send(line)
	actor.Broadcast(cctx, line, ctx.Session.uid, nil)
}

func (r *Registry) handleMode(ctx *Context, params []string) {
	if len(params) < 1 {
		ctx.NeedMoreParams("MODE")
		return
	}
	target := params[0]
	if !strings.HasPrefix(target, "#") && !strings.HasPrefix(target, "&") {
		r.handleUserMode(ctx, params)
		return
	}

	name := modes.NormalizeChannel(target)
	actor, ok := r.deps.Channels.Get(name)
	if !ok {
		ctx.Numeric(wire.ERR_NOSUCHCHANNEL, target, "No such channel")
		return
	}

	cctx, cancel := context.WithTimeout(context.Background(), actorCallTimeout)
	defer cancel()

	if len(params) == 1 {
		snap, err := actor.Snapshot(cctx)
		if err == nil {
			ctx.Numeric(wire.RPL_CHANNELMODEIS, target, snap.Modes.String())
		}
		return
	}

	priv, _, _ := actor.GetMemberModes(cctx, ctx.Session.uid)
	ts := r.deps.Clock.Tick()
	applied, lists, err := actor.ApplyModeChange(cctx, ctx.Session.uid, priv, params[1], params[2:], nil, ts)
	if err != nil {
		ctx.Numeric(wire.ERR_CHANOPRIVSNEEDED, target, "You're not channel operator")
		return
	}
	for char, values := range lists {
		for _, v := range values {
			ctx.Numeric(listNumeric(char), target, v)
		}
		ctx.Numeric(listEndNumeric(char), target, "End of list")
	}
	if len(applied) == 0 {
		return
	}
	line := fmt.Sprintf(":%s MODE %s %s", ctx.clientPrefix(), target, wire.FormatModeLine(applied))
	ctx.Send(line)
	actor.Broadcast(cctx, line, ctx.Session.uid, nil)
}

func listNumeric(char byte) int {
	switch char {
	case 'e':
		return 348
	case 'I':
		return 346
	default:
		return wire.RPL_BANLIST
	}
}

func listEndNumeric(char byte) int {
	switch char {
	case 'e':
		return 349
	case 'I':
		return 347
	default:
		return wire.RPL_ENDOFBANLIST
	}
}

func (r *Registry) handleUserMode(ctx *Context, params []string) {
	if len(params) < 1 {
		return
	}
	s := ctx.Session
	if params[0] != s.nick {
		ctx.Numeric(wire.ERR_USERSDONTMATCH, "Cannot change mode for other users")
		return
	}
	user, ok := r.deps.Matrix.GetUser(s.uid)
	if !ok {
		return
	}
	if len(params) == 1 {
		ctx.Numeric(wire.RPL_UMODEIS, formatUserModes(user.Modes()))
		return
	}

	m := user.Modes()
	for _, ch := range wire.ParseModeLine(params[1]) {
		switch ch.Char {
		case 'i':
			m.Invisible = ch.Add
		case 'w':
			m.Wallops = ch.Add
		case 'b':
			m.Bot = ch.Add
		}
	}
	user.SetModes(m, r.deps.Clock.Tick())
	ctx.Send(fmt.Sprintf(":%s MODE %s %s", ctx.clientPrefix(), s.nick, params[1]))
}

func formatUserModes(m matrix.UserModes) string {
	var b strings.Builder
	b.WriteByte('+')
	if m.Invisible {
		b.WriteByte('i')
	}
	if m.Oper {
		b.WriteByte('o')
	}
	if m.Wallops {
		b.WriteByte('w')
	}
	if m.Bot {
		b.WriteByte('b')
	}
	return b.String()
}

func (r *Registry) handleKick(ctx *Context, params []string) {
	if len(params) < 2 {
		ctx.NeedMoreParams("KICK")
		return
	}
	name := modes.NormalizeChannel(params[0])
	actor, ok := r.deps.Channels.Get(name)
	if !ok {
		ctx.Numeric(wire.ERR_NOSUCHCHANNEL, params[0], "No such channel")
		return
	}
	target, ok := r.deps.Matrix.GetUserByNick(params[1])
	if !ok {
		ctx.Numeric(wire.ERR_USERNOTINCHANNEL, params[1], params[0], "They aren't on that channel")
		return
	}
	reason := params[1]
	if len(params) > 2 {
		reason = params[2]
	}

	cctx, cancel := context.WithTimeout(context.Background(), actorCallTimeout)
	defer cancel()
	ts := r.deps.Clock.Tick()
	if err := actor.Kick(cctx, ctx.Session.uid, target.UID(), reason, nil, ts); err != nil {
		ctx.Numeric(wire.ERR_CHANOPRIVSNEEDED, params[0], "You're not channel operator")
		return
	}
	target.PartedChannel(name)
	line := fmt.Sprintf(":%s KICK %s %s :%s", ctx.clientPrefix(), params[0], params[1], reason)
	ctx.Send(line)
	actor.Broadcast(cctx, line, ctx.Session.uid, nil)
}

func (r *Registry) handleInvite(ctx *Context, params []string) {
	if len(params) < 2 {
		ctx.NeedMoreParams("INVITE")
		return
	}
	target, ok := r.deps.Matrix.GetUserByNick(params[0])
	if !ok {
		ctx.Numeric(wire.ERR_NOSUCHNICK, params[0], "No such nick/channel")
		return
	}
	name := modes.NormalizeChannel(params[1])
	actor, ok := r.deps.Channels.Get(name)
	if !ok {
		ctx.Numeric(wire.ERR_NOSUCHCHANNEL, params[1], "No such channel")
		return
	}
	cctx, cancel := context.WithTimeout(context.Background(), actorCallTimeout)
	defer cancel()
	actor.Invite(cctx, target.UID())

	ctx.Numeric(wire.RPL_INVITING, params[1], params[0])
	line := fmt.Sprintf(":%s INVITE %s :%s", ctx.clientPrefix(), params[0], params[1])
	target.Send(line)
	if target.Modes().Invisible {
		return
	}
	if ctx.Session.caps.Has("invite-notify") {
		actor.Broadcast(cctx, line, ctx.Session.uid, func(uid string) bool { return true })
	}
}

func (r *Registry) handleWho(ctx *Context, params []string) {
	if len(params) < 1 {
		return
	}
	name := modes.NormalizeChannel(params[0])
	actor, ok := r.deps.Channels.Get(name)
	if !ok {
		ctx.Numeric(wire.RPL_ENDOFWHO, params[0], "End of WHO list")
		return
	}
	cctx, cancel := context.WithTimeout(context.Background(), actorCallTimeout)
	defer cancel()
	members, err := actor.GetMembers(cctx)
	if err == nil {
		for _, m := range members {
			u, ok := r.deps.Matrix.GetUser(m.UID)
			if !ok {
				continue
			}
			ctx.Numeric(352, params[0], u.Username(), u.VisibleHost(), r.deps.Info.Name, u.Nick(), "H", "0 "+u.RealName())
		}
	}
	ctx.Numeric(wire.RPL_ENDOFWHO, params[0], "End of WHO list")
}

func (r *Registry) handleWhois(ctx *Context, params []string) {
	if len(params) < 1 {
		ctx.NeedMoreParams("WHOIS")
		return
	}
	target := params[len(params)-1]
	user, ok := r.deps.Matrix.GetUserByNick(target)
	if !ok {
		ctx.Numeric(wire.ERR_NOSUCHNICK, target, "No such nick/channel")
		ctx.Numeric(wire.RPL_ENDOFWHOIS, target, "End of WHOIS list")
		return
	}

	ctx.Numeric(wire.RPL_WHOISUSER, user.Nick(), user.Username(), user.VisibleHost(), "*", user.RealName())
	ctx.Numeric(wire.RPL_WHOISSERVER, user.Nick(), r.deps.Info.Name, r.deps.Info.Description)
	if user.Modes().Oper {
		ctx.Numeric(wire.RPL_WHOISOPERATOR, user.Nick(), "is an IRC operator")
	}
	if msg, away := user.Away(); away {
		ctx.Numeric(wire.RPL_AWAY, user.Nick(), msg)
	}
	if user.Modes().Secure {
		ctx.Numeric(wire.RPL_WHOISSECURE, user.Nick(), "is using a secure connection")
	}
	// The real (uncloaked) host is disclosed only to the user themself
	// or an operator, mirroring original_source/handlers/user_query/whois.rs.
	if requester, ok := r.deps.Matrix.GetUser(ctx.Session.uid); ok {
		if requester.UID() == user.UID() || requester.Modes().Oper {
			ctx.Numeric(wire.RPL_WHOISACTUALLY, user.Nick(), user.RealHost(), "Actual host")
		}
	}
	if chans := user.Channels(); len(chans) > 0 {
		ctx.Numeric(wire.RPL_WHOISCHANNELS, user.Nick(), strings.Join(chans, " "))
	}
	ctx.Numeric(wire.RPL_ENDOFWHOIS, target, "End of WHOIS list")
}

func (r *Registry) handleAway(ctx *Context, params []string) {
	user, ok := r.deps.Matrix.GetUser(ctx.Session.uid)
	if !ok {
		return
	}
	ts := r.deps.Clock.Tick()
	if len(params) == 0 || params[0] == "" {
		user.SetAway("", false, ts)
		ctx.Numeric(wire.RPL_UNAWAY, "You are no longer marked as being away")
		return
	}
	user.SetAway(params[0], true, ts)
	ctx.Numeric(wire.RPL_NOWAWAY, "You have been marked as being away")
}

func (r *Registry) handleMotd(ctx *Context, _ []string) {
	for _, line := range motdOrDefault(r.deps.Info) {
		ctx.Send(line)
	}
}

func (r *Registry) handleVersion(ctx *Context, _ []string) {
	ctx.Numeric(351, r.deps.Info.Version, r.deps.Info.Name, "")
}

func (r *Registry) handleMonitor(ctx *Context, params []string) {
	if len(params) < 1 {
		ctx.NeedMoreParams("MONITOR")
		return
	}
	switch strings.ToUpper(params[0]) {
	case "+":
		if len(params) < 2 {
			return
		}
		var online, offline []string
		for _, nick := range strings.Split(params[1], ",") {
			if _, ok := r.deps.Matrix.GetUserByNick(nick); ok {
				online = append(online, nick)
			} else {
				offline = append(offline, nick)
			}
		}
		if len(online) > 0 {
			ctx.Numeric(730, strings.Join(online, ","))
		}
		if len(offline) > 0 {
			ctx.Numeric(731, strings.Join(offline, ","))
		}
	case "L":
		ctx.Numeric(732, "")
		ctx.Numeric(733, "End of MONITOR list")
	}
}

func (r *Registry) handleQuitRegistered(ctx *Context, params []string) {
	reason := "Client Quit"
	if len(params) > 0 {
		reason = params[0]
	}
	s := ctx.Session
	s.mu.Lock()
	s.quitting = true
	uid := s.uid
	s.mu.Unlock()

	r.quitUser(uid, reason, nil)
	ctx.Session.conn.TrySend(fmt.Sprintf(":%s ERROR :Closing Link: %s", ctx.prefix(), reason))
	ctx.Session.conn.Close()
}

