// Package netlink implements C1: the rtnetlink client that enumerates and
// subscribes to link/address/route changes and applies routing-engine
// mutations (spec §4.1).
package netlink

import (
	"fmt"
	"net"
	"syscall"

	vnl "github.com/vishvananda/netlink"
)

// Netlinker abstracts rtnetlink interaction so C1's consumers (and tests)
// never depend on a real kernel socket. Generalizes the teacher's
// list/mutate-only interface with the multicast subscriptions spec §9
// requires as the authoritative design (the polling variant is not carried
// forward).
type Netlinker interface {
	LinkList() ([]vnl.Link, error)
	LinkByIndex(ifindex int) (vnl.Link, error)
	AddrList(link vnl.Link, family int) ([]vnl.Addr, error)
	RouteList(link vnl.Link, family int) ([]vnl.Route, error)

	LinkSubscribe(ch chan<- vnl.LinkUpdate, done <-chan struct{}) error
	AddrSubscribe(ch chan<- vnl.AddrUpdate, done <-chan struct{}) error
	RouteSubscribe(ch chan<- vnl.RouteUpdate, done <-chan struct{}) error

	RuleAdd(rule *vnl.Rule) error
	RuleDel(rule *vnl.Rule) error
	RouteAdd(route *vnl.Route) error
	RouteDel(route *vnl.Route) error
	RouteListFiltered(family int, filter *vnl.Route, mask uint64) ([]vnl.Route, error)
}

// ENetlink wraps a transient netlink socket/parse error (spec §7:
// NetlinkTransient). The supervisor restarts C1 with backoff on this kind.
type ENetlink struct {
	Op  string
	Err error
}

func (e *ENetlink) Error() string { return fmt.Sprintf("netlink %s: %v", e.Op, e.Err) }
func (e *ENetlink) Unwrap() error { return e.Err }

// RealNetlinker is the production Netlinker backed by vishvananda/netlink.
type RealNetlinker struct{}

func (RealNetlinker) LinkList() ([]vnl.Link, error) { return vnl.LinkList() }

func (RealNetlinker) LinkByIndex(ifindex int) (vnl.Link, error) {
	return vnl.LinkByIndex(ifindex)
}

func (RealNetlinker) AddrList(link vnl.Link, family int) ([]vnl.Addr, error) {
	return vnl.AddrList(link, family)
}

func (RealNetlinker) RouteList(link vnl.Link, family int) ([]vnl.Route, error) {
	return vnl.RouteList(link, family)
}

func (RealNetlinker) LinkSubscribe(ch chan<- vnl.LinkUpdate, done <-chan struct{}) error {
	return vnl.LinkSubscribe(ch, done)
}

func (RealNetlinker) AddrSubscribe(ch chan<- vnl.AddrUpdate, done <-chan struct{}) error {
	return vnl.AddrSubscribe(ch, done)
}

func (RealNetlinker) RouteSubscribe(ch chan<- vnl.RouteUpdate, done <-chan struct{}) error {
	return vnl.RouteSubscribe(ch, done)
}

// RuleAdd is idempotent: an EEXIST from the kernel is treated as success
// (spec §4.1, I-4, P-4).
func (RealNetlinker) RuleAdd(rule *vnl.Rule) error {
	if err := vnl.RuleAdd(rule); err != nil && !isExist(err) {
		return &ENetlink{Op: "rule-add", Err: err}
	}
	return nil
}

// RuleDel is idempotent: an ESRCH/ENOENT from the kernel (rule absent) is
// treated as success.
func (RealNetlinker) RuleDel(rule *vnl.Rule) error {
	if err := vnl.RuleDel(rule); err != nil && !isNotExist(err) {
		return &ENetlink{Op: "rule-del", Err: err}
	}
	return nil
}

func (RealNetlinker) RouteAdd(route *vnl.Route) error {
	if err := vnl.RouteAdd(route); err != nil && !isExist(err) {
		return &ENetlink{Op: "route-add", Err: err}
	}
	return nil
}

func (RealNetlinker) RouteDel(route *vnl.Route) error {
	if err := vnl.RouteDel(route); err != nil && !isNotExist(err) {
		return &ENetlink{Op: "route-del", Err: err}
	}
	return nil
}

func (RealNetlinker) RouteListFiltered(family int, filter *vnl.Route, mask uint64) ([]vnl.Route, error) {
	return vnl.RouteListFiltered(family, filter, mask)
}

func isExist(err error) bool {
	return err == syscall.EEXIST
}

func isNotExist(err error) bool {
	return err == syscall.ESRCH || err == syscall.ENOENT
}

// IsLinkLocal reports whether addr is in 169.254/16 or fe80::/10, which
// spec §3 requires be filtered at ingest and never enter state.
func IsLinkLocal(addr net.IP) bool {
	if v4 := addr.To4(); v4 != nil {
		return v4[0] == 169 && v4[1] == 254
	}
	return addr.IsLinkLocalUnicast()
}
