package eventsub

import (
	"sync/atomic"

	"github.com/onnwee/tunecast/telemetry"
)

// Gate tracks whether the broadcaster is live. Only stream.online and
// stream.offline notifications change it.
type Gate struct {
	online atomic.Bool
}

// NewGate returns a gate with the given initial state.
func NewGate(online bool) *Gate {
	g := &Gate{}
	g.set(online)
	return g
}

// Online reports the current state.
func (g *Gate) Online() bool { return g.online.Load() }

// Observe applies n to the gate and reports whether n may be delivered.
// Liveness notifications always pass. A stream.online whose stream type is
// not "live" (a rerun or premiere) counts as offline.
func (g *Gate) Observe(n Notification) bool {
	switch n.Subscription.Type {
	case TypeStreamOnline:
		ev, err := Decode[StreamOnlineEvent](n)
		g.set(err == nil && ev.Type == "live")
		return true
	case TypeStreamOffline:
		g.set(false)
		return true
	default:
		return g.Online()
	}
}

func (g *Gate) set(online bool) {
	g.online.Store(online)
	telemetry.SetStreamOnline(online)
}
