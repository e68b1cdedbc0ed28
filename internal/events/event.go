// Package events implements the single serialized event stream (C5) that
// carries normalized link/address/route/lease/manager events from the
// netlink, lease, and manager producers into the filter/dispatcher and
// routing engine consumers (spec §4.5).
package events

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// Source identifies which producer emitted an event.
type Source string

const (
	SourceNetlink Source = "netlink"
	SourceLease   Source = "lease"
	SourceManager Source = "manager"
)

// Kind is the normalized event kind.
type Kind string

const (
	KindNewLink      Kind = "new-link"
	KindDelLink      Kind = "del-link"
	KindNewAddr      Kind = "new-addr"
	KindDelAddr      Kind = "del-addr"
	KindNewRoute     Kind = "new-route"
	KindDelRoute     Kind = "del-route"
	KindLinkState    Kind = "link-state"
	KindLeaseUpdated Kind = "lease-updated"
)

// Payload carries the optional data an event kind needs (spec §3: "Event").
type Payload struct {
	Addresses  []net.IP
	DNS        []net.IP
	Domains    []string
	Hostname   string
	Gateway    net.IP
	HasGateway bool
	Backend    string
}

// Event is a normalized, value-typed record flowing through the bus.
type Event struct {
	ID      string
	Source  Source
	Ifindex int
	Ifname  string
	Kind    Kind
	State   string // operational state, for link/address events
	Time    time.Time
	Payload Payload
}

// coalesceKey groups events for the overflow-coalescing policy (spec §5:
// "per-(ifindex, kind) coalescing").
type coalesceKey struct {
	ifindex int
	kind    Kind
}

func keyOf(e Event) coalesceKey {
	return coalesceKey{ifindex: e.Ifindex, kind: e.Kind}
}

// newID stamps an event with a correlation id for log/trace joins across
// consumers; not part of equality/coalescing.
func newID() string {
	return uuid.NewString()
}
