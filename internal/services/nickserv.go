package services

import (
	"fmt"

	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/matrix"
)

// NickServ is the account-registration pseudo-client spec.md §4.10
// names explicitly: REGISTER, IDENTIFY, GHOST, DROP, SESSIONS, HELP.
type NickServ struct {
	*pseudoClient
	accounts *AccountStore
	clk      *clock.Clock
}

// NewNickServ builds the NickServ command surface over accounts. Call
// Start to register it as a live Matrix user.
func NewNickServ(mtx *matrix.Matrix, clk *clock.Clock, accounts *AccountStore) *NickServ {
	ns := &NickServ{
		pseudoClient: newPseudoClient("NickServ", "Nickname Services", mtx),
		accounts:     accounts,
		clk:          clk,
	}
	ns.commands["REGISTER"] = ns.cmdRegister
	ns.commands["IDENTIFY"] = ns.cmdIdentify
	ns.commands["GHOST"] = ns.cmdGhost
	ns.commands["DROP"] = ns.cmdDrop
	ns.commands["SESSIONS"] = ns.cmdSessions
	ns.commands["HELP"] = func(caller *matrix.User, _ []string) { ns.sendHelp(caller) }
	ns.help = []string{
		"***** NickServ Help *****",
		"REGISTER <password>    - register your current nickname",
		"IDENTIFY <password>    - log in to your registered nickname",
		"GHOST <nick>           - disconnect a session holding your nick",
		"DROP                   - delete your account registration",
		"SESSIONS               - list sessions logged in to your account",
		"HELP                   - display this help",
		"***** End of Help *****",
	}
	return ns
}

// Start registers NickServ as a live Matrix user under uid, typically
// the first UID cmd/ircd allocates at startup.
func (ns *NickServ) Start(uid string) {
	ns.register(uid, ns.clk.Tick())
}

func (ns *NickServ) cmdRegister(caller *matrix.User, args []string) {
	if len(args) < 1 {
		ns.notice(caller, "Syntax: REGISTER <password>")
		return
	}
	nick := caller.Nick()
	if err := ns.accounts.Register(nick, args[0]); err != nil {
		ns.notice(caller, err.Error())
		return
	}
	ns.login(caller, nick)
	ns.notice(caller, fmt.Sprintf("%s is now registered to you. Remember your password.", nick))
}

func (ns *NickServ) cmdIdentify(caller *matrix.User, args []string) {
	if len(args) < 1 {
		ns.notice(caller, "Syntax: IDENTIFY <password>")
		return
	}
	nick := caller.Nick()
	if !ns.accounts.Verify(nick, args[0]) {
		ns.notice(caller, "Invalid password.")
		return
	}
	ns.login(caller, nick)
	ns.notice(caller, fmt.Sprintf("You are now identified for %s.", nick))
}

// login records the account on caller through Matrix.SetAccount, which
// fires EventAccountChanged on the Matrix's observer — the same path
// every other local mutation (nick change, quit) uses to reach sync6's
// peer propagation, rather than this package reaching into
// chanactor.Router or a topology list of its own.
func (ns *NickServ) login(caller *matrix.User, account string) {
	ts := ns.clk.Tick()
	ns.mtx.SetAccount(caller.UID(), account, ts, nil)
	m := caller.Modes()
	m.Registered = true
	caller.SetModes(m, ts)
	ns.accounts.Touch(account)
}

func (ns *NickServ) cmdGhost(caller *matrix.User, args []string) {
	if len(args) < 1 {
		ns.notice(caller, "Syntax: GHOST <nick>")
		return
	}
	target := args[0]
	account := caller.Account()
	if account == "" {
		ns.notice(caller, "You must IDENTIFY before using GHOST.")
		return
	}
	victim, ok := ns.mtx.GetUserByNick(target)
	if !ok {
		ns.notice(caller, fmt.Sprintf("%s is not online.", target))
		return
	}
	if victim.Account() != account {
		ns.notice(caller, fmt.Sprintf("%s is not logged in to your account.", target))
		return
	}
	if victim.UID() == caller.UID() {
		ns.notice(caller, "You can't GHOST yourself.")
		return
	}
	victim.Send(fmt.Sprintf(":%s NOTICE %s :Ghosted by %s", ns.nick, victim.Nick(), caller.Nick()))
	victim.Send(fmt.Sprintf(":%s ERROR :Closing Link: Ghosted by %s", ns.nick, caller.Nick()))
	ns.mtx.RemoveUser(victim.UID(), "Ghost command used by "+caller.Nick(), nil)
	ns.notice(caller, fmt.Sprintf("%s has been ghosted.", target))
}

func (ns *NickServ) cmdDrop(caller *matrix.User, args []string) {
	account := caller.Account()
	if account == "" {
		ns.notice(caller, "You are not identified to an account.")
		return
	}
	if !ns.accounts.Drop(account) {
		ns.notice(caller, "Your account is not registered.")
		return
	}
	ts := ns.clk.Tick()
	ns.mtx.SetAccount(caller.UID(), "", ts, nil)
	m := caller.Modes()
	m.Registered = false
	caller.SetModes(m, ts)
	ns.notice(caller, fmt.Sprintf("Account %s has been dropped.", account))
}

func (ns *NickServ) cmdSessions(caller *matrix.User, args []string) {
	account := caller.Account()
	if account == "" {
		ns.notice(caller, "You must IDENTIFY before using SESSIONS.")
		return
	}
	var found []string
	for _, u := range ns.mtx.UsersBySID(caller.SID()) {
		if u.Account() == account {
			found = append(found, u.Nick())
		}
	}
	if len(found) == 0 {
		ns.notice(caller, "No sessions found.")
		return
	}
	for _, nick := range found {
		ns.notice(caller, "Session: "+nick)
	}
}
