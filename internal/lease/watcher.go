package lease

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"netevd/internal/events"
	"netevd/internal/logging"
)

// debounce is the coalescing window spec §4.3 specifies for lease-file
// writes ("a debounce timer of 2 s coalesces bursts").
const debounce = 2 * time.Second

// leaseFileMarker is the filename fragment that identifies the lease file
// among writes to its parent directory (spec §4.3/§6:
// "/var/lib/dhclient/dhclient.leases").
const leaseFileMarker = "dhclient.leases"

// Watcher is C3: it watches the lease file's parent directory, debounces
// bursts of writes, and republishes the most recently parsed lease map.
type Watcher struct {
	path string
	bus  *events.Bus
	log  *logging.Logger

	mu   sync.RWMutex
	last map[string]Lease
}

// NewWatcher creates a lease watcher for the lease file at path.
func NewWatcher(path string, bus *events.Bus) *Watcher {
	return &Watcher{path: path, bus: bus, log: logging.WithComponent("lease")}
}

// Leases returns the last successfully parsed lease map (fail-soft: a
// parse error retains this, per spec §4.3/§7 "LeaseParse: warn, retain
// last good map").
func (w *Watcher) Leases() map[string]Lease {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]Lease, len(w.last))
	for k, v := range w.last {
		out[k] = v
	}
	return out
}

// Run parses the lease file once at startup, then watches its parent
// directory, debouncing bursts of writes before reparsing, until ctx is
// canceled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.reparse(); err != nil {
		w.log.Warn("initial lease parse failed", "path", w.path, "error", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.Contains(ev.Name, leaseFileMarker) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := w.reparse(); err != nil {
				w.log.Warn("lease reparse failed, keeping last good map", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("lease watcher error", "error", err)
		}
	}
}

func (w *Watcher) reparse() error {
	leases, err := ParseLeaseFile(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.last = leases
	w.mu.Unlock()

	for iface, l := range leases {
		var gw net.IP
		if len(l.Routers) > 0 {
			gw = l.Routers[0]
		}
		w.bus.Publish(events.Event{
			Source: events.SourceLease,
			Ifname: iface,
			Kind:   events.KindLeaseUpdated,
			Payload: events.Payload{
				Addresses:  []net.IP{l.Address},
				DNS:        l.DNS,
				Domains:    nonEmptyDomain(l.DomainName),
				Hostname:   l.Hostname,
				Gateway:    gw,
				HasGateway: gw != nil,
				Backend:    "dhclient",
			},
		})
	}
	return nil
}

func nonEmptyDomain(domain string) []string {
	if domain == "" {
		return nil
	}
	return []string{domain}
}
