package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/presbrey/ircd/internal/chanactor"
	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/crdt"
	"github.com/presbrey/ircd/internal/matrix"
	"github.com/presbrey/ircd/internal/modes"
)

const chanservCallTimeout = 3 * time.Second

// ChannelLookup resolves a normalized channel name to its live actor,
// satisfied by handler.ChannelManager.Get's method value. Declared here
// rather than importing package handler, the same narrow-interface
// discipline AccountStore and chanactor.Router already follow.
type ChannelLookup func(normalizedName string) (*chanactor.Actor, bool)

// chanRegistration is one registered channel's founder record.
type chanRegistration struct {
	Channel      string
	Founder      string // account name
	RegisteredAt time.Time
}

// ChanServ is the channel-registration pseudo-client. spec.md §4.10
// names it alongside NickServ but only details NickServ's command
// surface; REGISTER/DROP/HELP here are the minimal founder-registration
// analogue built in the same idiom, since ChanServ's full command set
// (access lists, SET, flags) is out of scope for this pass.
type ChanServ struct {
	*pseudoClient
	clk    *clock.Clock
	lookup ChannelLookup
	mu     sync.RWMutex
	regs   map[string]*chanRegistration // normalized channel -> registration
}

// NewChanServ builds the ChanServ command surface. lookup resolves a
// normalized channel name to its live actor.
func NewChanServ(mtx *matrix.Matrix, clk *clock.Clock, lookup ChannelLookup) *ChanServ {
	cs := &ChanServ{
		pseudoClient: newPseudoClient("ChanServ", "Channel Services", mtx),
		clk:          clk,
		lookup:       lookup,
		regs:         make(map[string]*chanRegistration),
	}
	cs.commands["REGISTER"] = cs.cmdRegister
	cs.commands["DROP"] = cs.cmdDrop
	cs.commands["INFO"] = cs.cmdInfo
	cs.commands["HELP"] = func(caller *matrix.User, _ []string) { cs.sendHelp(caller) }
	cs.help = []string{
		"***** ChanServ Help *****",
		"REGISTER <#channel>    - register a channel you currently own",
		"DROP <#channel>        - delete a channel's registration",
		"INFO <#channel>        - show a channel's registration info",
		"HELP                   - display this help",
		"***** End of Help *****",
	}
	return cs
}

// Start registers ChanServ as a live Matrix user under uid.
func (cs *ChanServ) Start(uid string) {
	cs.register(uid, cs.clk.Tick())
}

func (cs *ChanServ) cmdRegister(caller *matrix.User, args []string) {
	if len(args) < 1 {
		cs.notice(caller, "Syntax: REGISTER <#channel>")
		return
	}
	if caller.Account() == "" {
		cs.notice(caller, "You must IDENTIFY with NickServ before registering a channel.")
		return
	}
	name := modes.NormalizeChannel(args[0])
	actor, ok := cs.lookup(name)
	if !ok {
		cs.notice(caller, fmt.Sprintf("%s does not exist.", args[0]))
		return
	}

	cctx, cancel := context.WithTimeout(context.Background(), chanservCallTimeout)
	defer cancel()
	priv, member, err := actor.GetMemberModes(cctx, caller.UID())
	if err != nil || !member || !(priv.Owner || priv.Admin || priv.Op) {
		cs.notice(caller, fmt.Sprintf("You must be a channel operator on %s to register it.", args[0]))
		return
	}

	cs.mu.Lock()
	if _, exists := cs.regs[name]; exists {
		cs.mu.Unlock()
		cs.notice(caller, fmt.Sprintf("%s is already registered.", args[0]))
		return
	}
	cs.regs[name] = &chanRegistration{Channel: name, Founder: caller.Account(), RegisteredAt: time.Now()}
	cs.mu.Unlock()

	ts := cs.clk.Tick()
	setter := crdt.Privilege{Owner: true}
	if _, _, err := actor.ApplyModeChange(cctx, caller.UID(), setter, "+q", []string{caller.UID()}, nil, ts); err != nil {
		cs.notice(caller, "Registered, but granting founder status failed; ask an operator to set +q manually.")
		return
	}
	cs.notice(caller, fmt.Sprintf("%s is now registered to %s.", args[0], caller.Account()))
}

func (cs *ChanServ) cmdDrop(caller *matrix.User, args []string) {
	if len(args) < 1 {
		cs.notice(caller, "Syntax: DROP <#channel>")
		return
	}
	name := modes.NormalizeChannel(args[0])
	cs.mu.Lock()
	defer cs.mu.Unlock()
	reg, ok := cs.regs[name]
	if !ok {
		cs.notice(caller, fmt.Sprintf("%s is not registered.", args[0]))
		return
	}
	if reg.Founder != caller.Account() {
		cs.notice(caller, "Only the founder can drop this channel's registration.")
		return
	}
	delete(cs.regs, name)
	cs.notice(caller, fmt.Sprintf("%s has been dropped.", args[0]))
}

func (cs *ChanServ) cmdInfo(caller *matrix.User, args []string) {
	if len(args) < 1 {
		cs.notice(caller, "Syntax: INFO <#channel>")
		return
	}
	name := modes.NormalizeChannel(args[0])
	cs.mu.RLock()
	reg, ok := cs.regs[name]
	cs.mu.RUnlock()
	if !ok {
		cs.notice(caller, fmt.Sprintf("%s is not registered.", args[0]))
		return
	}
	cs.notice(caller, fmt.Sprintf("%s is registered to %s (since %s).", reg.Channel, reg.Founder, reg.RegisteredAt.Format(time.RFC1123)))
}
