package handler

import (
	"strings"

	"github.com/presbrey/ircd/internal/wire"
)

// handleCAP implements CAP LS/LIST/REQ/END, generalized from
// irc/cap_handler.go's subcommand switch to the fuller capability catalog
// and the atomic-REQ semantics spec.md §4.5 requires.
func (r *Registry) handleCAP(ctx *Context, params []string) {
	if len(params) < 1 {
		ctx.NeedMoreParams("CAP")
		return
	}
	switch strings.ToUpper(params[0]) {
	case "LS":
		r.handleCapLS(ctx)
	case "LIST":
		r.handleCapList(ctx)
	case "REQ":
		r.handleCapReq(ctx, params)
	case "END":
		r.handleCapEnd(ctx)
	}
}

func (r *Registry) handleCapLS(ctx *Context) {
	ctx.Session.mu.Lock()
	ctx.Session.caps.Negotiating = true
	ctx.Session.mu.Unlock()

	isTLS := ctx.Session.conn.IsTLS()
	tokens := availableCapTokens(isTLS)
	prefix := ":" + ctx.prefix() + " CAP * LS "
	for _, line := range wire.SplitCapList(tokens, len(prefix)) {
		ctx.Send(prefix + ":" + line)
	}
}

func (r *Registry) handleCapList(ctx *Context) {
	ctx.Session.mu.Lock()
	names := make([]string, 0, len(ctx.Session.caps.Enabled))
	for name := range ctx.Session.caps.Enabled {
		names = append(names, name)
	}
	ctx.Session.mu.Unlock()
	ctx.Reply("CAP", "*", "LIST", strings.Join(names, " "))
}

func (r *Registry) handleCapReq(ctx *Context, params []string) {
	if len(params) < 2 {
		ctx.NeedMoreParams("CAP")
		return
	}
	isTLS := ctx.Session.conn.IsTLS()
	toEnable, toDisable, ok := resolveCapRequest(params[1], isTLS)
	if !ok {
		ctx.Reply("CAP", "*", "NAK", params[1])
		return
	}

	ctx.Session.mu.Lock()
	ctx.Session.caps.Negotiating = true
	for _, name := range toEnable {
		value := ""
		if cap, found := lookupCapability(name); found && cap.Value != nil {
			value, _ = cap.Value(isTLS)
		}
		ctx.Session.caps.Enabled[name] = value
	}
	for _, name := range toDisable {
		delete(ctx.Session.caps.Enabled, name)
	}
	ctx.Session.mu.Unlock()

	ctx.Reply("CAP", "*", "ACK", params[1])
}

func (r *Registry) handleCapEnd(ctx *Context) {
	ctx.Session.mu.Lock()
	ctx.Session.caps.Negotiating = false
	ctx.Session.mu.Unlock()
	r.tryCompleteRegistration(ctx)
}
