package dispatch

import (
	"context"
	"net"
	"time"

	"netevd/internal/events"
)

// retryBackoff is the fixed backoff schedule for C7 calls retried by C6
// (spec §4.7: "retried by C6 at most three times with 100 ms, 400 ms,
// 1600 ms backoff before being surfaced as a warning. Never fatal.").
var retryBackoff = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond}

// forward pushes an event's DNS/domain/hostname data to C7, gated by the
// dhclient backend flags (spec §4.6).
func (d *Dispatcher) forward(ctx context.Context, e events.Event) {
	if d.forwarder == nil {
		return
	}

	if d.cfg.Backends.Dhclient.UseDNS && len(e.Payload.DNS) > 0 {
		withRetry(ctx, "SetLinkDNS", func() error {
			return d.forwarder.SetLinkDNS(ctx, e.Ifindex, encodeDNS(e.Payload.DNS))
		})
	}

	if d.cfg.Backends.Dhclient.UseDomain && len(e.Payload.Domains) > 0 {
		withRetry(ctx, "SetLinkDomains", func() error {
			return d.forwarder.SetLinkDomains(ctx, e.Ifindex, e.Payload.Domains)
		})
	}

	if d.cfg.Backends.Dhclient.UseHostname && e.Payload.Hostname != "" {
		withRetry(ctx, "SetStaticHostname", func() error {
			return d.forwarder.SetStaticHostname(ctx, e.Payload.Hostname)
		})
	}
}

func withRetry(ctx context.Context, op string, fn func() error) {
	var err error
	for attempt := 0; attempt <= len(retryBackoff); attempt++ {
		if err = fn(); err == nil {
			return
		}
		if attempt == len(retryBackoff) {
			break
		}
		select {
		case <-ctx.Done():
			log.Warn("C7 call abandoned: context canceled", "op", op, "error", err)
			return
		case <-time.After(retryBackoff[attempt]):
		}
	}
	log.Warn("C7 call failed after retries", "op", op, "attempts", len(retryBackoff)+1, "error", err)
}

// encodeDNS builds one (family, bytes) entry per address, per spec §4.7's
// SetLinkDNS(ifindex, [(family, bytes)]) contract.
func encodeDNS(ips []net.IP) []DNSServer {
	const afInet, afInet6 = 2, 10
	out := make([]DNSServer, 0, len(ips))
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			out = append(out, DNSServer{Family: afInet, Bytes: v4})
			continue
		}
		out = append(out, DNSServer{Family: afInet6, Bytes: ip.To16()})
	}
	return out
}
