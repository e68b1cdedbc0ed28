// Package resolved implements C7: typed wrappers over the system bus for
// systemd-resolved's link DNS/domain configuration and systemd-hostnamed's
// static hostname, grounded on the original bus/resolved.rs and
// bus/hostnamed.rs modules and adapted to godbus/dbus/v5 (spec §4.7).
package resolved

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"netevd/internal/dispatch"
	"netevd/internal/logging"
)

const (
	resolvedService   = "org.freedesktop.resolve1"
	resolvedPath      = "/org/freedesktop/resolve1"
	resolvedInterface = "org.freedesktop.resolve1.Manager"

	hostnamedService   = "org.freedesktop.hostname1"
	hostnamedPath      = "/org/freedesktop/hostname1"
	hostnamedInterface = "org.freedesktop.hostname1"
)

var log = logging.WithComponent("resolved")

// dnsEntry mirrors systemd-resolved's SetLinkDNS array element:
// (address_family, address_bytes).
type dnsEntry struct {
	Family int32
	Bytes  []byte
}

// domainEntry mirrors SetLinkDomains' array element: (domain, route_only).
type domainEntry struct {
	Domain    string
	RouteOnly bool
}

// Client holds a lazily-opened system-bus connection, reused across calls
// (spec §5: "Bus connection (C7): may be shared; calls serialize on the
// connection.").
type Client struct {
	conn *dbus.Conn
}

// NewClient constructs a client without opening the bus connection yet;
// the first call opens and caches it.
func NewClient() *Client {
	return &Client{}
}

func (c *Client) connection() (*dbus.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	c.conn = conn
	return conn, nil
}

// SetLinkDNS forwards a link's DNS server set to systemd-resolved.
func (c *Client) SetLinkDNS(ctx context.Context, ifindex int, servers []dispatch.DNSServer) error {
	if len(servers) == 0 {
		return nil
	}

	conn, err := c.connection()
	if err != nil {
		return err
	}

	entries := make([]dnsEntry, len(servers))
	for i, s := range servers {
		entries[i] = dnsEntry{Family: int32(s.Family), Bytes: s.Bytes}
	}

	obj := conn.Object(resolvedService, dbus.ObjectPath(resolvedPath))
	call := obj.CallWithContext(ctx, resolvedInterface+".SetLinkDNS", 0, int32(ifindex), entries)
	if call.Err != nil {
		return fmt.Errorf("SetLinkDNS: %w", call.Err)
	}
	log.Debug("set link DNS", "ifindex", ifindex, "servers", len(servers))
	return nil
}

// SetLinkDomains forwards a link's search-domain set to systemd-resolved.
// Domains are never marked route_only (spec §4.7).
func (c *Client) SetLinkDomains(ctx context.Context, ifindex int, domains []string) error {
	if len(domains) == 0 {
		return nil
	}

	conn, err := c.connection()
	if err != nil {
		return err
	}

	entries := make([]domainEntry, len(domains))
	for i, d := range domains {
		entries[i] = domainEntry{Domain: d, RouteOnly: false}
	}

	obj := conn.Object(resolvedService, dbus.ObjectPath(resolvedPath))
	call := obj.CallWithContext(ctx, resolvedInterface+".SetLinkDomains", 0, int32(ifindex), entries)
	if call.Err != nil {
		return fmt.Errorf("SetLinkDomains: %w", call.Err)
	}
	log.Debug("set link domains", "ifindex", ifindex, "domains", domains)
	return nil
}

// SetStaticHostname forwards a DHCP-learned hostname to systemd-hostnamed.
func (c *Client) SetStaticHostname(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}

	conn, err := c.connection()
	if err != nil {
		return err
	}

	obj := conn.Object(hostnamedService, dbus.ObjectPath(hostnamedPath))
	call := obj.CallWithContext(ctx, hostnamedInterface+".SetStaticHostname", 0, name, false)
	if call.Err != nil {
		return fmt.Errorf("SetStaticHostname: %w", call.Err)
	}
	log.Debug("set static hostname", "hostname", name)
	return nil
}
