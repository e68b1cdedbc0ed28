package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netevd/internal/events"
)

type fakeBusConn struct {
	ch chan<- *dbus.Signal
}

func (f *fakeBusConn) AddMatchSignal(options ...dbus.MatchOption) error { return nil }
func (f *fakeBusConn) Signal(ch chan<- *dbus.Signal)                   { f.ch = ch }

func TestIfindexFromPath(t *testing.T) {
	ifindex, ok := ifindexFromPath("/org/freedesktop/network1/link/_37")
	require.True(t, ok)
	assert.Equal(t, 7, ifindex)

	_, ok = ifindexFromPath("/org/freedesktop/network1/manager")
	assert.False(t, ok)
}

func TestListener_DedupesIdenticalState(t *testing.T) {
	bus := events.NewBus(8)
	conn := &fakeBusConn{}
	l := NewListener(conn, bus)
	l.readState = func(ifindex int) (LinkState, error) {
		return LinkState{OperState: "routable"}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)

	sig := &dbus.Signal{
		Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
		Path: "/org/freedesktop/network1/link/_33",
	}
	conn.ch <- sig
	conn.ch <- sig

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	assert.EqualValues(t, 1, bus.Stats().Published)
}

func TestParseLinkStateFileAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "3")
	content := "ADMIN_STATE=configured\nOPER_STATE=routable\nDNS=8.8.8.8 8.8.4.4\nDOMAINS=example.com\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	st, err := ParseLinkStateFileAt(path)
	require.NoError(t, err)
	assert.Equal(t, "configured", st.AdminState)
	assert.Equal(t, "routable", st.OperState)
	assert.Equal(t, []string{"8.8.8.8", "8.8.4.4"}, st.DNS)
	assert.Equal(t, []string{"example.com"}, st.Domains)
}
