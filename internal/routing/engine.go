// Package routing implements C8: the per-interface routing-policy
// reconcile engine (spec §4.8). It listens for new-addr/del-addr events on
// interfaces named in the routing-policy configuration, installs/removes
// dedicated-table default routes and from/to policy rules, and commits
// every reconcile cycle's mutations to the state store in one critical
// section.
package routing

import (
	"context"
	"fmt"
	"net"
	"sync"

	vnl "github.com/vishvananda/netlink"

	"netevd/internal/config"
	"netevd/internal/events"
	"netevd/internal/logging"
	"netevd/internal/netlink"
	"netevd/internal/state"
)

var log = logging.WithComponent("routing")

// Engine is C8.
type Engine struct {
	nl    netlink.Netlinker
	store *state.Store
	cfg   *config.Config

	mu     sync.Mutex
	locks  map[int]*sync.Mutex // per-ifindex serialization (spec §5)
}

// NewEngine constructs a routing engine over nl/store, consulting cfg for
// the routing-policy interface list.
func NewEngine(nl netlink.Netlinker, store *state.Store, cfg *config.Config) *Engine {
	return &Engine{nl: nl, store: store, cfg: cfg, locks: make(map[int]*sync.Mutex)}
}

// HandleEvent is C8's side of the C5 fan-out (spec §2: "C1/C3/C4 → C5 →
// {C6, C8}"): the supervisor's single bus consumer calls this alongside
// the dispatcher for every event, and the engine ignores anything outside
// its new-addr/del-addr/del-link concern.
func (e *Engine) HandleEvent(ev events.Event) {
	if ev.Kind != events.KindNewAddr && ev.Kind != events.KindDelAddr && ev.Kind != events.KindDelLink {
		return
	}
	if !e.cfg.HasRoutingPolicy(ev.Ifname) {
		link, ok := e.store.LinkByIndex(ev.Ifindex)
		if !ok || !e.cfg.HasRoutingPolicy(link.Name) {
			return
		}
	}
	if ev.Kind == events.KindDelLink {
		e.onLinkRemoved(ev.Ifindex)
		return
	}

	// Routable-gate: a routing-policy interface only reconciles once the
	// manager reports it routable, matching the source's dbus listener
	// gating policy changes on the link's operational state.
	link, ok := e.store.LinkByIndex(ev.Ifindex)
	if !ok || link.State != state.OperRoutable {
		return
	}
	e.Reconcile(ev.Ifindex)
}

// Run consumes new-addr/del-addr events from bus for as long as ctx is
// live, reconciling only interfaces named in the routing-policy list. Used
// where C8 owns its own bus consumer (e.g. standalone tests); in the
// supervisor-wired daemon, HandleEvent is called from the shared C5
// fan-out consumer instead.
func (e *Engine) Run(ctx context.Context, bus *events.Bus) error {
	for {
		ev, ok := bus.Next(ctx)
		if !ok {
			return nil
		}
		e.HandleEvent(ev)
	}
}

func (e *Engine) lockFor(ifindex int) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[ifindex]
	if !ok {
		l = &sync.Mutex{}
		e.locks[ifindex] = l
	}
	return l
}

// onLinkRemoved implements P-3: removing a link purges all its rules and
// routes within a single reconcile cycle. The state store already does
// this atomically in RemoveLink; the engine only needs to drop its
// per-ifindex lock bookkeeping.
func (e *Engine) onLinkRemoved(ifindex int) {
	e.mu.Lock()
	delete(e.locks, ifindex)
	e.mu.Unlock()
}

// Reconcile runs the five-step procedure of spec §4.8 for one interface,
// serialized per-ifindex.
func (e *Engine) Reconcile(ifindex int) {
	lock := e.lockFor(ifindex)
	lock.Lock()
	defer lock.Unlock()

	table := state.TableIDFor(ifindex) // I-1

	have := e.store.Addresses(ifindex)
	haveSet := make(map[string]state.Address, len(have))
	for _, a := range have {
		haveSet[a.Addr.String()] = a
	}

	want, err := e.observeWant(ifindex)
	if err != nil {
		log.Warn("failed to observe addresses for reconcile", "ifindex", ifindex, "error", err)
		return
	}
	wantSet := make(map[string]state.Address, len(want))
	for _, a := range want {
		wantSet[a.Addr.String()] = a
	}

	var addRules []state.RoutingRule
	var removeAddrs []net.IP
	var route *state.RouteEntry
	var removeRoute bool

	for key, a := range wantSet {
		if _, ok := haveSet[key]; ok {
			continue
		}

		family := vnl.FAMILY_V4
		if a.Family == state.FamilyV6 {
			family = vnl.FAMILY_V6
		}
		gw := netlink.DiscoverGateway(e.nl, ifindex, family)
		if gw == nil {
			log.Warn("no default route found for interface, skipping rule/route install", "ifindex", ifindex)
			continue // I-2, GatewayUnknown (spec §7)
		}

		if err := e.installRoute(ifindex, table, gw, a.Family); err != nil {
			log.Warn("route install failed", "ifindex", ifindex, "error", err)
			continue
		}
		route = &state.RouteEntry{Ifindex: ifindex, TableID: table, Gateway: gw}

		if err := e.installRules(a.Addr, table, a.Family); err != nil {
			log.Warn("rule install failed", "ifindex", ifindex, "addr", a.Addr, "error", err)
			continue
		}
		addRules = append(addRules,
			state.RoutingRule{Addr: a.Addr, TableID: table, Direction: state.DirFrom},
			state.RoutingRule{Addr: a.Addr, TableID: table, Direction: state.DirTo},
		)
	}

	for key, a := range haveSet {
		if _, ok := wantSet[key]; ok {
			continue
		}
		if err := e.removeRules(a.Addr, table, a.Family); err != nil {
			log.Warn("rule removal failed", "ifindex", ifindex, "addr", a.Addr, "error", err)
		}
		removeAddrs = append(removeAddrs, a.Addr)
	}

	if len(wantSet) == 0 && len(haveSet) > 0 {
		if err := e.removeRoute(ifindex, table); err != nil {
			log.Warn("route removal failed", "ifindex", ifindex, "error", err)
		} else {
			removeRoute = true
		}
	}

	e.store.Reconcile(ifindex, addRules, removeAddrs, route, removeRoute) // step 5, single critical section
}

// observeWant asks the netlink layer directly for the interface's current
// address set rather than trusting the store's cached view, per spec §4.8
// step 2 ("latest observed set from netlink").
func (e *Engine) observeWant(ifindex int) ([]state.Address, error) {
	link, err := e.nl.LinkByIndex(ifindex)
	if err != nil {
		return nil, fmt.Errorf("link by index %d: %w", ifindex, err)
	}

	var out []state.Address
	for _, family := range []int{vnl.FAMILY_V4, vnl.FAMILY_V6} {
		addrs, err := e.nl.AddrList(link, family)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if a.IPNet == nil || netlink.IsLinkLocal(a.IPNet.IP) {
				continue
			}
			fam := state.FamilyV4
			if a.IPNet.IP.To4() == nil {
				fam = state.FamilyV6
			}
			prefixLen, _ := a.IPNet.Mask.Size()
			out = append(out, state.Address{Ifindex: ifindex, Family: fam, Addr: a.IPNet.IP, PrefixLen: prefixLen})
		}
	}
	return out, nil
}

func prefixLenFor(family state.Family) int {
	if family == state.FamilyV6 {
		return 128
	}
	return 32
}

func (e *Engine) installRoute(ifindex, table int, gw net.IP, family state.Family) error {
	vnlFamily := vnl.FAMILY_V4
	if family == state.FamilyV6 {
		vnlFamily = vnl.FAMILY_V6
	}
	if err := e.nl.RouteAdd(&vnl.Route{
		LinkIndex: ifindex,
		Table:     table,
		Gw:        gw,
		Family:    vnlFamily,
	}); err != nil {
		return err
	}
	log.Audit("route-install", fmt.Sprintf("ifindex=%d", ifindex), map[string]any{"table": table, "gateway": gw.String()})
	return nil
}

func (e *Engine) removeRoute(ifindex, table int) error {
	route, ok := e.store.Route(ifindex)
	if !ok {
		return nil
	}
	if err := e.nl.RouteDel(&vnl.Route{LinkIndex: ifindex, Table: table, Gw: route.Gateway}); err != nil {
		return err
	}
	log.Audit("route-remove", fmt.Sprintf("ifindex=%d", ifindex), map[string]any{"table": table})
	return nil
}

// installRules installs both the from and to rules for addr (spec §4.8
// step 3b). IPv6 uses /128 source/destination prefixes; IPv4 uses /32.
func (e *Engine) installRules(addr net.IP, table int, family state.Family) error {
	bits := prefixLenFor(family)
	mask := net.CIDRMask(bits, bits)
	ipnet := &net.IPNet{IP: addr, Mask: mask}

	from := vnl.NewRule()
	from.Src = ipnet
	from.Table = table
	if err := e.nl.RuleAdd(from); err != nil {
		return err
	}

	to := vnl.NewRule()
	to.Dst = ipnet
	to.Table = table
	if err := e.nl.RuleAdd(to); err != nil {
		return err
	}
	log.Audit("rule-install", addr.String(), map[string]any{"table": table})
	return nil
}

func (e *Engine) removeRules(addr net.IP, table int, family state.Family) error {
	bits := prefixLenFor(family)
	mask := net.CIDRMask(bits, bits)
	ipnet := &net.IPNet{IP: addr, Mask: mask}

	from := vnl.NewRule()
	from.Src = ipnet
	from.Table = table
	if err := e.nl.RuleDel(from); err != nil {
		return err
	}

	to := vnl.NewRule()
	to.Dst = ipnet
	to.Table = table
	if err := e.nl.RuleDel(to); err != nil {
		return err
	}
	log.Audit("rule-remove", addr.String(), map[string]any{"table": table})
	return nil
}
