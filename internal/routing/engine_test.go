package routing

import (
	"net"
	"sync"
	"testing"

	vnl "github.com/vishvananda/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netevd/internal/config"
	"netevd/internal/events"
	"netevd/internal/state"
)

type fakeNetlinker struct {
	mu        sync.Mutex
	links     map[int]vnl.Link
	addrs     map[int][]vnl.Addr
	routes    []vnl.Route
	rulesAdd  []*vnl.Rule
	rulesDel  []*vnl.Rule
	routeAdds []*vnl.Route
	routeDels []*vnl.Route
}

func newFakeNetlinker() *fakeNetlinker {
	return &fakeNetlinker{links: make(map[int]vnl.Link), addrs: make(map[int][]vnl.Addr)}
}

func (f *fakeNetlinker) LinkList() ([]vnl.Link, error) { return nil, nil }
func (f *fakeNetlinker) LinkByIndex(ifindex int) (vnl.Link, error) {
	l, ok := f.links[ifindex]
	if !ok {
		return nil, assert.AnError
	}
	return l, nil
}
func (f *fakeNetlinker) AddrList(link vnl.Link, family int) ([]vnl.Addr, error) {
	var out []vnl.Addr
	for _, a := range f.addrs[link.Attrs().Index] {
		isV4 := a.IPNet.IP.To4() != nil
		if (family == vnl.FAMILY_V4) == isV4 {
			out = append(out, a)
		}
	}
	return out, nil
}
func (f *fakeNetlinker) RouteList(link vnl.Link, family int) ([]vnl.Route, error) { return nil, nil }
func (f *fakeNetlinker) LinkSubscribe(ch chan<- vnl.LinkUpdate, done <-chan struct{}) error {
	return nil
}
func (f *fakeNetlinker) AddrSubscribe(ch chan<- vnl.AddrUpdate, done <-chan struct{}) error {
	return nil
}
func (f *fakeNetlinker) RouteSubscribe(ch chan<- vnl.RouteUpdate, done <-chan struct{}) error {
	return nil
}
func (f *fakeNetlinker) RuleAdd(rule *vnl.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rulesAdd = append(f.rulesAdd, rule)
	return nil
}
func (f *fakeNetlinker) RuleDel(rule *vnl.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rulesDel = append(f.rulesDel, rule)
	return nil
}
func (f *fakeNetlinker) RouteAdd(route *vnl.Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routeAdds = append(f.routeAdds, route)
	return nil
}
func (f *fakeNetlinker) RouteDel(route *vnl.Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routeDels = append(f.routeDels, route)
	return nil
}
func (f *fakeNetlinker) RouteListFiltered(family int, filter *vnl.Route, mask uint64) ([]vnl.Route, error) {
	return f.routes, nil
}

type fakeLink struct {
	attrs vnl.LinkAttrs
}

func (l *fakeLink) Attrs() *vnl.LinkAttrs { return &l.attrs }
func (l *fakeLink) Type() string          { return "fake" }

func TestReconcile_InstallsRuleAndRouteForNewAddress(t *testing.T) {
	nl := newFakeNetlinker()
	ifindex := 7
	nl.links[ifindex] = &fakeLink{attrs: vnl.LinkAttrs{Index: ifindex, Name: "eth0"}}
	nl.addrs[ifindex] = []vnl.Addr{{IPNet: &net.IPNet{IP: net.ParseIP("10.0.0.5"), Mask: net.CIDRMask(24, 32)}}}
	nl.routes = []vnl.Route{{LinkIndex: ifindex, Gw: net.ParseIP("10.0.0.1"), Dst: nil}}

	store := state.New()
	cfg := config.Default()
	cfg.Routing.PolicyRules = []string{"eth0"}

	e := NewEngine(nl, store, cfg)
	e.Reconcile(ifindex)

	assert.Len(t, nl.routeAdds, 1)
	assert.Equal(t, state.TableIDFor(ifindex), nl.routeAdds[0].Table)
	assert.Len(t, nl.rulesAdd, 2) // from + to

	rules := store.Rules()
	require.Len(t, rules, 2)
	for _, r := range rules {
		assert.Equal(t, state.TableIDFor(ifindex), r.TableID)
	}
}

func TestReconcile_SkipsWhenNoGateway(t *testing.T) {
	nl := newFakeNetlinker()
	ifindex := 8
	nl.links[ifindex] = &fakeLink{attrs: vnl.LinkAttrs{Index: ifindex, Name: "eth1"}}
	nl.addrs[ifindex] = []vnl.Addr{{IPNet: &net.IPNet{IP: net.ParseIP("10.0.0.6"), Mask: net.CIDRMask(24, 32)}}}
	// no routes in main table: gateway undiscoverable

	store := state.New()
	cfg := config.Default()
	cfg.Routing.PolicyRules = []string{"eth1"}

	e := NewEngine(nl, store, cfg)
	e.Reconcile(ifindex)

	assert.Empty(t, nl.routeAdds)
	assert.Empty(t, nl.rulesAdd)
	assert.Empty(t, store.Rules())
}

func TestReconcile_RemovesRulesForGoneAddress(t *testing.T) {
	nl := newFakeNetlinker()
	ifindex := 9
	nl.links[ifindex] = &fakeLink{attrs: vnl.LinkAttrs{Index: ifindex, Name: "eth2"}}

	store := state.New()
	addr := net.ParseIP("10.0.0.9")
	store.AddAddress(state.Address{Ifindex: ifindex, Family: state.FamilyV4, Addr: addr, PrefixLen: 32})
	store.Reconcile(ifindex,
		[]state.RoutingRule{
			{Addr: addr, TableID: state.TableIDFor(ifindex), Direction: state.DirFrom},
			{Addr: addr, TableID: state.TableIDFor(ifindex), Direction: state.DirTo},
		}, nil,
		&state.RouteEntry{Ifindex: ifindex, TableID: state.TableIDFor(ifindex), Gateway: net.ParseIP("10.0.0.1")},
		false,
	)

	cfg := config.Default()
	cfg.Routing.PolicyRules = []string{"eth2"}
	e := NewEngine(nl, store, cfg)
	e.Reconcile(ifindex)

	assert.Len(t, nl.rulesDel, 2)
	assert.Empty(t, store.Rules())
	assert.Len(t, nl.routeDels, 1)
}

func TestHandleEvent_SkipsReconcileUntilRoutable(t *testing.T) {
	nl := newFakeNetlinker()
	ifindex := 10
	nl.links[ifindex] = &fakeLink{attrs: vnl.LinkAttrs{Index: ifindex, Name: "eth3"}}
	nl.addrs[ifindex] = []vnl.Addr{{IPNet: &net.IPNet{IP: net.ParseIP("10.0.0.10"), Mask: net.CIDRMask(24, 32)}}}
	nl.routes = []vnl.Route{{LinkIndex: ifindex, Gw: net.ParseIP("10.0.0.1"), Dst: nil}}

	store := state.New()
	store.AddLink(ifindex, "eth3", state.OperCarrier)
	cfg := config.Default()
	cfg.Routing.PolicyRules = []string{"eth3"}

	e := NewEngine(nl, store, cfg)
	e.HandleEvent(events.Event{Kind: events.KindNewAddr, Ifindex: ifindex, Ifname: "eth3"})

	assert.Empty(t, nl.routeAdds, "interface is only carrier, not yet routable")
	assert.Empty(t, store.Rules())

	store.SetLinkState(ifindex, state.OperRoutable)
	e.HandleEvent(events.Event{Kind: events.KindNewAddr, Ifindex: ifindex, Ifname: "eth3"})

	assert.Len(t, nl.routeAdds, 1)
	assert.Len(t, store.Rules(), 2)
}
