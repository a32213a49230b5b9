package handler

import (
	"strings"

	"github.com/presbrey/ircd/internal/wire"
)

var supportedMechanisms = map[string]bool{
	"PLAIN":          true,
	"EXTERNAL":       true,
	"SCRAM-SHA-256":  true,
}

// handleAuthenticate drives the SASL state machine spec.md §4.5
// describes: None -> MechanismSent(mech) -> AwaitingData -> Success |
// Failed | Aborted. SCRAM-SHA-256 is advertised but its four-message
// challenge-response exchange is not implemented here yet (PLAIN and
// EXTERNAL cover the accounts store's verification surface); a
// SCRAM attempt fails cleanly with ERR_SASLFAIL rather than hanging the
// connection in AwaitingData.
func (r *Registry) handleAuthenticate(ctx *Context, params []string) {
	if len(params) < 1 {
		ctx.NeedMoreParams("AUTHENTICATE")
		return
	}
	s := ctx.Session
	s.mu.Lock()
	state := s.sasl.State
	s.mu.Unlock()

	if state == SASLNone {
		r.beginSASLMechanism(ctx, strings.ToUpper(params[0]))
		return
	}
	r.feedSASLData(ctx, params[0])
}

func (r *Registry) beginSASLMechanism(ctx *Context, mech string) {
	s := ctx.Session
	if !supportedMechanisms[mech] || (mech != "EXTERNAL" && !s.conn.IsTLS()) {
		ctx.Numeric(wire.ERR_SASLFAIL, "SASL authentication failed")
		return
	}
	s.mu.Lock()
	s.sasl.beginMechanism(mech)
	s.mu.Unlock()
	ctx.Send("AUTHENTICATE +")
}

func (r *Registry) feedSASLData(ctx *Context, payload string) {
	s := ctx.Session
	s.mu.Lock()
	decoded, complete, aborted := s.sasl.feed(payload)
	mech := s.sasl.Mechanism
	s.mu.Unlock()

	if aborted {
		ctx.Numeric(wire.ERR_SASLABORTED, "SASL authentication aborted")
		r.resetSASL(ctx)
		return
	}
	if !complete {
		return
	}

	switch mech {
	case "PLAIN":
		r.finishSASLPlain(ctx, decoded)
	case "EXTERNAL":
		r.finishSASLExternal(ctx, decoded)
	default:
		ctx.Numeric(wire.ERR_SASLFAIL, "SASL authentication failed")
		r.resetSASL(ctx)
	}
}

func (r *Registry) finishSASLPlain(ctx *Context, decoded []byte) {
	_, authcid, password, ok := ParsePlain(decoded)
	if !ok || r.deps.Accounts == nil || !r.deps.Accounts.Verify(authcid, password) {
		ctx.Numeric(wire.ERR_SASLFAIL, "SASL authentication failed")
		r.resetSASL(ctx)
		return
	}
	r.succeedSASL(ctx, authcid)
}

func (r *Registry) finishSASLExternal(ctx *Context, decoded []byte) {
	s := ctx.Session
	authzid := string(decoded)
	fp := s.conn.CertFingerprint()
	if fp == "" || authzid == "" || r.deps.Accounts == nil || !r.deps.Accounts.VerifyCertFP(authzid, fp) {
		ctx.Numeric(wire.ERR_SASLFAIL, "SASL authentication failed")
		r.resetSASL(ctx)
		return
	}
	r.succeedSASL(ctx, authzid)
}

func (r *Registry) succeedSASL(ctx *Context, account string) {
	s := ctx.Session
	s.mu.Lock()
	s.sasl.State = SASLSuccess
	s.mu.Unlock()

	if s.uid != "" {
		if user, ok := r.deps.Matrix.GetUser(s.uid); ok {
			user.SetAccount(account, r.deps.Clock.Tick())
		}
	}
	ctx.Numeric(wire.RPL_LOGGEDIN, ctx.clientPrefix(), account, "You are now logged in as "+account)
	ctx.Numeric(wire.RPL_SASLSUCCESS, "SASL authentication successful")
	r.tryCompleteRegistration(ctx)
}

func (r *Registry) resetSASL(ctx *Context) {
	ctx.Session.mu.Lock()
	ctx.Session.sasl.reset()
	ctx.Session.sasl.State = SASLFailed
	ctx.Session.mu.Unlock()
	r.tryCompleteRegistration(ctx)
}
