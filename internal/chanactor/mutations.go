package chanactor

import (
	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/crdt"
	"github.com/presbrey/ircd/internal/modes"
	"github.com/presbrey/ircd/internal/wire"
)

func (a *Actor) handleJoin(r joinReq) {
	p := r.params
	ts := a.tsFor(p.TS, p.Source)

	if a.modeSet.InviteOnly.Value && !a.invites[p.UID] && !a.matchAny(a.invex, p.Hostmask) {
		r.reply <- ErrInviteOnly
		return
	}
	if a.matchAny(a.bans, p.Hostmask) && !a.matchAny(a.excepts, p.Hostmask) {
		r.reply <- ErrBanned
		return
	}
	if a.modeSet.Key.Value != "" && a.modeSet.Key.Value != p.Key {
		r.reply <- ErrBadKey
		return
	}
	if limit := a.modeSet.Limit.Value; limit > 0 && len(a.members.Members()) >= limit {
		r.reply <- ErrChannelFull
		return
	}

	a.members.Join(p.UID, p.Priv, p.JoinTime, ts)
	delete(a.invites, p.UID)
	r.reply <- nil
}

func (a *Actor) matchAny(set *crdt.AWSet[string], hostmask string) bool {
	for _, mask := range set.Elements() {
		if modes.MatchHostmask(mask, hostmask) {
			return true
		}
	}
	return false
}

func (a *Actor) handlePart(r partReq) {
	if !a.members.IsMember(r.uid) {
		r.reply <- ErrNotMember
		return
	}
	ts := a.tsFor(r.ts, r.source)
	a.members.Part(r.uid, ts)
	r.reply <- nil
}

func (a *Actor) handleQuit(r quitReq) {
	if !a.members.IsMember(r.uid) {
		return
	}
	ts := a.tsFor(r.ts, r.source)
	a.members.Part(r.uid, ts)
}

func (a *Actor) handleSetTopic(r setTopicReq) {
	ts := a.tsFor(r.ts, r.source)
	a.topic.Set(crdt.TopicValue{Text: r.text, Setter: r.setter}, ts)
	r.reply <- nil
}

func (a *Actor) handleGetMembers(r getMembersReq) {
	uids := a.members.Members()
	out := make([]MemberInfo, 0, len(uids))
	for _, uid := range uids {
		priv := a.members.GetPrivilege(uid)
		out = append(out, MemberInfo{UID: uid, Privilege: priv})
	}
	r.reply <- out
}

func (a *Actor) handleGetMemberModes(r getMemberModesReq) {
	if !a.members.IsMember(r.uid) {
		r.reply <- memberModesResult{OK: false}
		return
	}
	r.reply <- memberModesResult{Priv: a.members.GetPrivilege(r.uid), OK: true}
}

func hasOpOrHigher(p crdt.Privilege) bool  { return p.Owner || p.Admin || p.Op }
func hasAdminOrHigher(p crdt.Privilege) bool { return p.Owner || p.Admin }

func setPrivBit(p crdt.Privilege, char byte, value bool) crdt.Privilege {
	switch char {
	case 'q':
		p.Owner = value
	case 'a':
		p.Admin = value
	case 'o':
		p.Op = value
	case 'h':
		p.Halfop = value
	case 'v':
		p.Voice = value
	}
	return p
}

// handleModeChange applies as many of the requested mode changes as the
// setter's privilege permits, skipping (not aborting on) changes the
// setter lacks rank for or characters the mode table doesn't recognize.
// A skipped change produces no error; Applied lists only the changes
// that took effect.
func (a *Actor) handleModeChange(r modeChangeReq) {
	parsed := wire.ParseModeLine(r.changeStr)
	ts := a.tsFor(r.ts, r.source)

	var applied []wire.ModeChange
	lists := make(map[byte][]string)
	argIdx := 0
	nextArg := func() (string, bool) {
		if argIdx >= len(r.args) {
			return "", false
		}
		v := r.args[argIdx]
		argIdx++
		return v, true
	}

	for _, pc := range parsed {
		def, ok := modes.ChannelModeTable[pc.Char]
		if !ok {
			continue
		}

		switch def.Kind {
		case modes.KindBoolean:
			if !hasOpOrHigher(r.setterPriv) {
				continue
			}
			a.setBoolMode(pc.Char, pc.Add, ts)
			applied = append(applied, wire.ModeChange{Add: pc.Add, Char: pc.Char})

		case modes.KindKeyed:
			if !hasOpOrHigher(r.setterPriv) {
				continue
			}
			if pc.Add {
				arg, ok := nextArg()
				if !ok {
					continue
				}
				a.modeSet.Key.Set(arg, ts)
				applied = append(applied, wire.ModeChange{Add: true, Char: pc.Char, Arg: arg})
			} else {
				a.modeSet.Key.Set("", ts)
				applied = append(applied, wire.ModeChange{Add: false, Char: pc.Char})
			}

		case modes.KindLimit:
			if !hasOpOrHigher(r.setterPriv) {
				continue
			}
			if pc.Add {
				arg, ok := nextArg()
				if !ok {
					continue
				}
				n := parsePositiveInt(arg)
				if n <= 0 {
					continue
				}
				a.modeSet.Limit.Set(n, ts)
				applied = append(applied, wire.ModeChange{Add: true, Char: pc.Char, Arg: arg})
			} else {
				a.modeSet.Limit.Set(0, ts)
				applied = append(applied, wire.ModeChange{Add: false, Char: pc.Char})
			}

		case modes.KindList:
			set := a.listSetFor(pc.Char)
			if set == nil {
				continue
			}
			arg, hasArg := nextArg()
			if !hasArg {
				lists[pc.Char] = set.Elements()
				continue
			}
			if !hasOpOrHigher(r.setterPriv) {
				continue
			}
			if pc.Add {
				set.Add(arg, ts)
			} else {
				set.Remove(arg, ts)
			}
			applied = append(applied, wire.ModeChange{Add: pc.Add, Char: pc.Char, Arg: arg})

		case modes.KindPrivilege:
			requireAdmin := pc.Char == 'q' || pc.Char == 'a'
			if requireAdmin && !hasAdminOrHigher(r.setterPriv) {
				continue
			}
			if !requireAdmin && !hasOpOrHigher(r.setterPriv) {
				continue
			}
			target, ok := nextArg()
			if !ok || !a.members.IsMember(target) {
				continue
			}
			cur := a.members.GetPrivilege(target)
			next := setPrivBit(cur, pc.Char, pc.Add)
			a.members.SetPrivilege(target, next, ts)
			applied = append(applied, wire.ModeChange{Add: pc.Add, Char: pc.Char, Arg: target})
		}
	}

	r.reply <- modeChangeResult{Applied: applied, Lists: lists}
}

func (a *Actor) setBoolMode(char byte, value bool, ts clock.Timestamp) {
	switch char {
	case 'n':
		a.modeSet.NoExternal.Set(value, ts)
	case 't':
		a.modeSet.TopicOpsOnly.Set(value, ts)
	case 'm':
		a.modeSet.Moderated.Set(value, ts)
	case 'i':
		a.modeSet.InviteOnly.Set(value, ts)
	case 's':
		a.modeSet.Secret.Set(value, ts)
	case 'p':
		a.modeSet.Private.Set(value, ts)
	case 'r':
		a.modeSet.RegisteredOnly.Set(value, ts)
	case 'c':
		a.modeSet.NoColors.Set(value, ts)
	case 'C':
		a.modeSet.NoCTCP.Set(value, ts)
	case 'S':
		a.modeSet.SSLOnly.Set(value, ts)
	case 'M':
		a.modeSet.ReducedModerate.Set(value, ts)
	}
}

func (a *Actor) listSetFor(char byte) *crdt.AWSet[string] {
	switch char {
	case 'b':
		return a.bans
	case 'e':
		return a.excepts
	case 'I':
		return a.invex
	default:
		return nil
	}
}

func parsePositiveInt(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return -1
		}
		n = n*10 + int(s[i]-'0')
	}
	return n
}

func (a *Actor) handleKick(r kickReq) {
	if !a.members.IsMember(r.targetUID) {
		r.reply <- ErrNotMember
		return
	}
	// Peer-origin kicks were already authorized by the sending server;
	// only local kicks are checked against the local copy of the
	// kicker's privilege here.
	if r.source == nil && !hasOpOrHigher(a.members.GetPrivilege(r.kickerUID)) {
		r.reply <- ErrNoPrivilege
		return
	}
	ts := a.tsFor(r.ts, r.source)
	a.members.Part(r.targetUID, ts)
	r.reply <- nil
}

func (a *Actor) handleBanAdd(r banAddReq) {
	ts := a.tsFor(r.ts, r.source)
	a.setFor(r.kind).Add(r.mask, ts)
	r.reply <- nil
}

func (a *Actor) handleBanRemove(r banRemoveReq) {
	ts := a.tsFor(r.ts, r.source)
	a.setFor(r.kind).Remove(r.mask, ts)
	r.reply <- nil
}

func (a *Actor) setFor(kind banKind) *crdt.AWSet[string] {
	switch kind {
	case banKindExcept:
		return a.excepts
	case banKindInvex:
		return a.invex
	default:
		return a.bans
	}
}

func (a *Actor) handleInvite(r inviteReq) {
	a.invites[r.uid] = true
	r.reply <- struct{}{}
}

func (a *Actor) handleBroadcast(r broadcastReq) {
	seenSID := make(map[string]bool)
	for _, uid := range a.members.Members() {
		if uid == r.skipUID {
			continue
		}
		if r.capFilter != nil && !r.capFilter(uid) {
			continue
		}
		if user, ok := a.mtx.GetUser(uid); ok {
			user.Send(r.line)
			continue
		}
		sid := uidSID(uid)
		if sid == "" || seenSID[sid] {
			continue
		}
		seenSID[sid] = true
		if a.rtr != nil {
			a.rtr.SendToPeer(sid, r.line)
		}
	}
	r.reply <- struct{}{}
}

func uidSID(uid string) string {
	if len(uid) < 3 {
		return ""
	}
	return uid[:3]
}

func (a *Actor) handleMerge(r mergeReq) {
	a.topic = a.topic.Merge(r.snap.Topic)
	a.modeSet = a.modeSet.Merge(r.snap.Modes)
	for _, info := range r.snap.Members {
		// Snapshot members carry no timestamps of their own: a member
		// not present locally is joined at a fresh local tick, and a
		// member already present keeps its local privilege. The
		// snapshot's Bans, Excepts and Invex lists are not merged.
		if !a.members.IsMember(info.UID) {
			a.members.Join(info.UID, info.Privilege, info.JoinTime, a.clk.Tick())
		}
	}
	r.reply <- nil
}

func (a *Actor) handleSnapshot(r snapshotReq) {
	members := a.handleGetMembersSync()
	r.reply <- Snapshot{
		Name:    a.name,
		Topic:   a.topic,
		Modes:   a.modeSet,
		Members: members,
		Bans:    a.bans.Elements(),
		Excepts: a.excepts.Elements(),
		Invex:   a.invex.Elements(),
	}
}

func (a *Actor) handleGetMembersSync() []MemberInfo {
	uids := a.members.Members()
	out := make([]MemberInfo, 0, len(uids))
	for _, uid := range uids {
		out = append(out, MemberInfo{UID: uid, Privilege: a.members.GetPrivilege(uid)})
	}
	return out
}
