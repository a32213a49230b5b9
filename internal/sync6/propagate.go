package sync6

import (
	"fmt"

	"github.com/presbrey/ircd/internal/matrix"
	"github.com/presbrey/ircd/internal/wire"
)

// RegisterObserver hooks the Matrix's event registry so every local
// mutation is re-emitted as the matching TS6 command and broadcast to
// every link except the one it arrived from, per spec.md §4.9's
// propagation/split-horizon rule. Call once, after NewManager, before
// any link is accepted or dialed.
func (m *Manager) RegisterObserver() {
	m.mtx.Observer.Register(func(ev matrix.Event) error {
		m.propagate(ev)
		return nil
	})
}

// propagate translates one Matrix event into its TS6 wire form and
// broadcasts it to every direct link except the originating peer (if
// any). A nil Source means the mutation happened locally and goes to
// every link; a non-nil Source carries the acting UID, whose SID prefix
// is the peer we must not echo back to.
func (m *Manager) propagate(ev matrix.Event) {
	msg := m.renderEvent(ev)
	if msg == nil {
		return
	}

	exclude := ""
	if ev.Source != nil {
		exclude = matrix.SIDOf(*ev.Source)
	}
	line := msg.String()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for sid, l := range m.links {
		if sid == exclude {
			continue
		}
		l.Send(line)
	}
}

func (m *Manager) renderEvent(ev matrix.Event) *wire.Message {
	switch ev.Kind {
	case matrix.EventUserAdded:
		u, ok := m.mtx.GetUser(ev.UID)
		if !ok {
			return nil
		}
		return renderUID(u)

	case matrix.EventNickChanged:
		msg := wire.New("NICK", ev.NewNick, fmt.Sprintf("%d", m.clk.Tick().Wall/1000))
		msg.Prefix = ev.UID
		return msg

	case matrix.EventUserRemoved:
		msg := wire.New("QUIT", ev.Reason)
		msg.Prefix = ev.UID
		return msg

	case matrix.EventAccountChanged:
		msg := wire.New("ACCOUNT", ev.Account)
		msg.Prefix = ev.UID
		return msg

	case matrix.EventUserKilled:
		msg := wire.New("KILL", ev.UID, ev.Reason)
		msg.Prefix = ev.Killer
		return msg

	default:
		// EventUserModesChanged and EventAwayChanged have no TS6 wire
		// form wired up yet; they stay locally visible only until a
		// future pass adds SVSMODE/AWAY propagation.
		return nil
	}
}
