// Command netevd is the privileged network-event daemon: it observes link,
// address, and route changes from the kernel, the active
// network-configuration manager, and DHCP lease files, and reacts by
// running operator scripts, installing per-interface routing policy, and
// forwarding DNS/domain/hostname data to system services (spec §1).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/godbus/dbus/v5"

	"netevd/internal/config"
	"netevd/internal/dispatch"
	"netevd/internal/events"
	"netevd/internal/lease"
	"netevd/internal/logging"
	"netevd/internal/manager"
	vnl "netevd/internal/netlink"
	"netevd/internal/privilege"
	"netevd/internal/resolved"
	"netevd/internal/routing"
	"netevd/internal/state"
	"netevd/internal/supervisor"
)

// defaultConfigPath is where netevd looks for its YAML configuration.
const defaultConfigPath = "/etc/netevd/netevd.yaml"

// defaultLeasePath is the dhclient lease file location (spec §6).
const defaultLeasePath = "/var/lib/dhclient/dhclient.leases"

// defaultDropUser is the non-root account privileges are dropped to when
// started as root (spec §4.9).
const defaultDropUser = "netevd"

// eventBusCapacity is the bounded queue size for C5 (spec §5: "e.g. 1024").
const eventBusCapacity = 1024

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(defaultConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "netevd: configuration error:", err)
		return 1
	}

	logging.SetDefault(logging.New(logging.Config{
		Level:  parseLevel(cfg.System.LogLevel),
		Output: os.Stderr,
		JSON:   false,
	}))
	log := logging.WithComponent("main")

	wasRoot := privilege.IsRoot()
	if wasRoot {
		if err := privilege.Drop(defaultDropUser); err != nil {
			log.Error("capability/privilege setup failed", "error", err)
			return 1
		}
	}
	if err := privilege.Verify(wasRoot); err != nil {
		log.Error("capability verification failed", "error", err)
		return 1
	}

	store := state.New()
	nl := vnl.RealNetlinker{}
	bus := events.NewBus(eventBusCapacity)
	producer := vnl.NewProducer(nl, bus, store)

	if err := producer.Enumerate(); err != nil {
		log.Error("netlink enumeration failed", "error", err)
		return 1
	}

	dispatcher, err := dispatch.NewDispatcher(cfg, resolved.NewClient())
	if err != nil {
		log.Error("invalid filter configuration", "error", err)
		return 1
	}
	routingEngine := routing.NewEngine(nl, store, cfg)

	live := &atomic.Pointer[liveConfig]{}
	live.Store(&liveConfig{dispatcher: dispatcher, engine: routingEngine})

	leaseWatcher := lease.NewWatcher(defaultLeasePath, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tasks := []supervisor.Task{
		{Name: "netlink-subscribe", Run: producer.Subscribe},
		{Name: "lease-watcher", Run: leaseWatcher.Run},
		{Name: "manager-listener", Run: runManagerListener(bus)},
		{Name: "event-fanout", Run: fanOut(bus, live)},
	}

	sup := supervisor.New(tasks, func() error {
		reloaded, err := config.Load(defaultConfigPath)
		if err != nil {
			return err
		}
		newDispatcher, err := dispatch.NewDispatcher(reloaded, resolved.NewClient())
		if err != nil {
			return fmt.Errorf("rebuild dispatcher: %w", err)
		}
		newEngine := routing.NewEngine(nl, store, reloaded)
		live.Store(&liveConfig{dispatcher: newDispatcher, engine: newEngine})
		return nil
	})

	if err := sup.Run(ctx); err != nil {
		log.Error("supervisor exited with error", "error", err)
		return 1
	}
	return 0
}

// liveConfig is the unit swapped atomically on SIGHUP: the dispatcher and
// routing engine are rebuilt together from the reloaded configuration so
// neither is ever evaluated against a stale *config.Config field, and
// filter conditions added in the new config are recompiled rather than
// left permanently unmatched (spec §4.10).
type liveConfig struct {
	dispatcher *dispatch.Dispatcher
	engine     *routing.Engine
}

// fanOut is the C5 demultiplexer: the single bus consumer required by the
// bounded-queue design, handing every event to both C6 and C8 (spec §2:
// "C1/C3/C4 → C5 → {C6, C8}"). It reads the current dispatcher/engine pair
// from live on every event so a SIGHUP reload takes effect for the very
// next event without racing in-flight dispatch.
func fanOut(bus *events.Bus, live *atomic.Pointer[liveConfig]) func(context.Context) error {
	return func(ctx context.Context) error {
		for {
			ev, ok := bus.Next(ctx)
			if !ok {
				return nil
			}
			cur := live.Load()
			cur.dispatcher.Dispatch(ctx, ev)
			cur.engine.HandleEvent(ev)
		}
	}
}

// runManagerListener connects to the system bus lazily inside the returned
// task so that a transient bus-connect failure is retried by the
// supervisor with backoff rather than failing startup.
func runManagerListener(bus *events.Bus) func(context.Context) error {
	return func(ctx context.Context) error {
		conn, err := dbus.SystemBus()
		if err != nil {
			return fmt.Errorf("connect to system bus: %w", err)
		}
		l := manager.NewListener(conn, bus)
		return l.Run(ctx)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
