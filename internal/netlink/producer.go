package netlink

import (
	"context"
	"net"

	vnl "github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"netevd/internal/events"
	"netevd/internal/logging"
	"netevd/internal/state"
)

// Producer is C1: it enumerates the current kernel state once at startup
// and then forwards multicast link/address/route changes onto the event
// bus for the lifetime of the process (spec §4.1).
type Producer struct {
	nl    Netlinker
	bus   *events.Bus
	store *state.Store
	log   *logging.Logger
}

// NewProducer creates a netlink producer over nl, publishing onto bus and
// mirroring link/address observations into store.
func NewProducer(nl Netlinker, bus *events.Bus, store *state.Store) *Producer {
	return &Producer{nl: nl, bus: bus, store: store, log: logging.WithComponent("netlink")}
}

// Enumerate takes a startup snapshot of links and their addresses, seeds
// the state store with them, and publishes them as a burst of
// new-link/new-addr events (spec §4.1: "used only at startup"). Routes are
// not enumerated.
func (p *Producer) Enumerate() error {
	links, err := p.nl.LinkList()
	if err != nil {
		return &ENetlink{Op: "enumerate-links", Err: err}
	}

	for _, link := range links {
		attrs := link.Attrs()
		p.store.AddLink(attrs.Index, attrs.Name, operStateOf(attrs))
		p.bus.Publish(events.Event{
			Source:  events.SourceNetlink,
			Ifindex: attrs.Index,
			Ifname:  attrs.Name,
			Kind:    events.KindNewLink,
			State:   string(operStateOf(attrs)),
		})

		for _, family := range []int{vnl.FAMILY_V4, vnl.FAMILY_V6} {
			addrs, err := p.nl.AddrList(link, family)
			if err != nil {
				p.log.Warn("enumerate addresses failed", "ifindex", attrs.Index, "error", err)
				continue
			}
			for _, a := range addrs {
				p.ingestAddr(attrs.Index, attrs.Name, a.IPNet, true)
			}
		}
	}

	return nil
}

// Subscribe starts the multicast link/address/route subscriptions and
// blocks, translating kernel updates into bus events, until ctx is
// canceled. Returns an *ENetlink on socket failure so the supervisor can
// restart it with backoff (spec §4.1/§7).
func (p *Producer) Subscribe(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()

	linkCh := make(chan vnl.LinkUpdate)
	addrCh := make(chan vnl.AddrUpdate)
	routeCh := make(chan vnl.RouteUpdate)

	if err := p.nl.LinkSubscribe(linkCh, done); err != nil {
		return &ENetlink{Op: "link-subscribe", Err: err}
	}
	if err := p.nl.AddrSubscribe(addrCh, done); err != nil {
		return &ENetlink{Op: "addr-subscribe", Err: err}
	}
	if err := p.nl.RouteSubscribe(routeCh, done); err != nil {
		return &ENetlink{Op: "route-subscribe", Err: err}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-linkCh:
			if !ok {
				return &ENetlink{Op: "link-subscribe", Err: context.Canceled}
			}
			p.handleLinkUpdate(u)
		case u, ok := <-addrCh:
			if !ok {
				return &ENetlink{Op: "addr-subscribe", Err: context.Canceled}
			}
			p.handleAddrUpdate(u)
		case u, ok := <-routeCh:
			if !ok {
				return &ENetlink{Op: "route-subscribe", Err: context.Canceled}
			}
			p.handleRouteUpdate(u)
		}
	}
}

func (p *Producer) handleLinkUpdate(u vnl.LinkUpdate) {
	attrs := u.Link.Attrs()
	st := operStateOf(attrs)

	if u.Header.Type == unix.RTM_NEWLINK {
		p.store.AddLink(attrs.Index, attrs.Name, st)
		p.bus.Publish(events.Event{
			Source: events.SourceNetlink, Ifindex: attrs.Index, Ifname: attrs.Name,
			Kind: events.KindNewLink, State: string(st),
		})
		return
	}

	// RTM_DELLINK
	p.store.RemoveLink(attrs.Index)
	p.bus.Publish(events.Event{
		Source: events.SourceNetlink, Ifindex: attrs.Index, Ifname: attrs.Name,
		Kind: events.KindDelLink,
	})
}

func (p *Producer) handleAddrUpdate(u vnl.AddrUpdate) {
	link, err := p.nl.LinkByIndex(u.LinkIndex)
	name := ""
	if err == nil {
		name = link.Attrs().Name
	}

	if u.NewAddr {
		p.ingestAddr(u.LinkIndex, name, &u.LinkAddress, true)
		return
	}

	if IsLinkLocal(u.LinkAddress.IP) {
		return
	}
	p.store.RemoveAddress(u.LinkIndex, u.LinkAddress.IP)
	p.bus.Publish(events.Event{
		Source: events.SourceNetlink, Ifindex: u.LinkIndex, Ifname: name,
		Kind: events.KindDelAddr,
		Payload: events.Payload{Addresses: []net.IP{u.LinkAddress.IP}},
	})
}

func (p *Producer) ingestAddr(ifindex int, name string, ipnet *net.IPNet, publish bool) {
	if ipnet == nil || IsLinkLocal(ipnet.IP) {
		return
	}
	family := state.FamilyV4
	if ipnet.IP.To4() == nil {
		family = state.FamilyV6
	}
	prefixLen, _ := ipnet.Mask.Size()

	p.store.AddAddress(state.Address{
		Ifindex: ifindex, Family: family, Addr: ipnet.IP, PrefixLen: prefixLen,
	})
	if publish {
		p.bus.Publish(events.Event{
			Source: events.SourceNetlink, Ifindex: ifindex, Ifname: name,
			Kind:    events.KindNewAddr,
			Payload: events.Payload{Addresses: []net.IP{ipnet.IP}},
		})
	}
}

func (p *Producer) handleRouteUpdate(u vnl.RouteUpdate) {
	kind := events.KindNewRoute
	if u.Type == unix.RTM_DELROUTE {
		kind = events.KindDelRoute
	}
	p.bus.Publish(events.Event{
		Source: events.SourceNetlink, Ifindex: u.Route.LinkIndex,
		Kind: kind,
	})
}

// operStateOf maps the kernel operstate to spec §3's closed set, defaulting
// unrecognized/absent states to "unknown".
func operStateOf(attrs *vnl.LinkAttrs) state.OperState {
	switch attrs.OperState {
	case vnl.OperDown:
		return state.OperDown
	case vnl.OperLowerLayerDown:
		return state.OperNoCarrier
	case vnl.OperDormant:
		return state.OperCarrier
	case vnl.OperUp:
		return state.OperRoutable
	case vnl.OperTesting, vnl.OperUnknown:
		return state.OperUnknown
	default:
		return state.OperUnknown
	}
}

// DiscoverGateway inspects the main routing table for the first default
// route whose output interface equals ifindex (spec §4.8 step 3a).
func DiscoverGateway(nl Netlinker, ifindex int, family int) net.IP {
	routes, err := nl.RouteListFiltered(family, &vnl.Route{Table: 254}, vnl.RT_FILTER_TABLE)
	if err != nil {
		return nil
	}
	for _, r := range routes {
		if r.LinkIndex != ifindex {
			continue
		}
		if r.Dst != nil && !isDefaultDst(r.Dst) {
			continue
		}
		if r.Gw != nil {
			return r.Gw
		}
	}
	return nil
}

func isDefaultDst(dst *net.IPNet) bool {
	ones, _ := dst.Mask.Size()
	return ones == 0
}
