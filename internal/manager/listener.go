package manager

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"netevd/internal/events"
	"netevd/internal/logging"
)

// linkPathPrefix is the object path prefix networkd uses for per-link
// objects; the trailing segment encodes the ifindex (spec §4.4).
const linkPathPrefix = "/org/freedesktop/network1/link/_3"

// BusConn abstracts the subset of a DBus connection Listener needs, so
// tests can inject a fake signal source without a real system bus.
type BusConn interface {
	AddMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
}

// Listener is C4: it subscribes to the manager's PropertiesChanged signals,
// reads the per-link state file for the affected ifindex, deduplicates
// repeated identical operational states, and publishes a normalized
// link-state event (spec §4.4).
type Listener struct {
	conn BusConn
	bus  *events.Bus
	log  *logging.Logger

	readState func(ifindex int) (LinkState, error)

	mu         sync.Mutex
	lastStates map[int]string
}

// NewListener creates a manager listener over an established bus
// connection, publishing onto bus.
func NewListener(conn BusConn, bus *events.Bus) *Listener {
	return &Listener{
		conn:       conn,
		bus:        bus,
		log:        logging.WithComponent("manager"),
		readState:  ParseLinkStateFile,
		lastStates: make(map[int]string),
	}
}

// Run subscribes to PropertiesChanged and processes signals until ctx is
// canceled or the signal channel closes.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return err
	}

	ch := make(chan *dbus.Signal, 32)
	l.conn.Signal(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-ch:
			if !ok {
				return nil
			}
			l.handleSignal(sig)
		}
	}
}

func (l *Listener) handleSignal(sig *dbus.Signal) {
	if sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" {
		return
	}

	ifindex, ok := ifindexFromPath(string(sig.Path))
	if !ok {
		return
	}

	st, err := l.readState(ifindex)
	if err != nil {
		l.log.Warn("failed to read link state file", "ifindex", ifindex, "error", err)
		return
	}

	l.mu.Lock()
	last, seen := l.lastStates[ifindex]
	if seen && last == st.OperState {
		l.mu.Unlock()
		return // dedup: identical operational state, spec §4.4/scenario 5
	}
	l.lastStates[ifindex] = st.OperState
	l.mu.Unlock()

	l.bus.Publish(events.Event{
		Source:  events.SourceManager,
		Ifindex: ifindex,
		Kind:    events.KindLinkState,
		State:   st.OperState,
		Payload: events.Payload{
			Domains: st.Domains,
			Backend: "systemd-networkd",
		},
	})
}

// ifindexFromPath extracts the ifindex from a networkd link object path.
func ifindexFromPath(path string) (int, bool) {
	if !strings.HasPrefix(path, linkPathPrefix) {
		return 0, false
	}
	rest := strings.TrimPrefix(path, linkPathPrefix)
	ifindex, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return ifindex, true
}
