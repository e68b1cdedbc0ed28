// Package dispatch implements C6: event filtering, environment assembly,
// script-directory execution, and forwarding of DNS/domain/hostname data to
// the external-service client (spec §4.6).
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"netevd/internal/config"
	"netevd/internal/events"
	"netevd/internal/logging"
	"netevd/internal/validation"
)

var log = logging.WithComponent("dispatch")

// scriptDirRoot is the parent of the per-state script directories (spec §6:
// "/etc/netevd/<state>.d/").
const scriptDirRoot = "/etc/netevd"

// validStates is the closed set of script-directory names (spec §6).
var validStates = map[string]bool{
	"carrier": true, "no-carrier": true, "configured": true, "degraded": true,
	"routable": true, "activated": true, "disconnected": true, "manager": true,
	"routes": true,
}

// DNSServer is one entry of the SetLinkDNS argument: an address family
// (AF_INET=2, AF_INET6=10) and its network-order bytes (spec §4.7).
type DNSServer struct {
	Family int
	Bytes  []byte
}

// Forwarder is C7's client surface, as consumed by the dispatcher. Kept as
// an interface here so dispatch has no import-time dependency on the DBus
// transport; the supervisor wires a concrete *resolved.Client in.
type Forwarder interface {
	SetLinkDNS(ctx context.Context, ifindex int, servers []DNSServer) error
	SetLinkDomains(ctx context.Context, ifindex int, domains []string) error
	SetStaticHostname(ctx context.Context, name string) error
}

// Dispatcher is C6.
type Dispatcher struct {
	cfg        *config.Config
	conditions map[string]Condition
	patterns   *patternCache
	forwarder  Forwarder

	mu      sync.Mutex
	running map[string]*sync.Mutex // serializes dispatch per (ifindex,state)
}

// NewDispatcher compiles the configured filter conditions eagerly so that a
// malformed condition is rejected at config-load time rather than silently
// evaluating true later (design note §9). Returns an error if any filter's
// condition is unparseable.
func NewDispatcher(cfg *config.Config, forwarder Forwarder) (*Dispatcher, error) {
	conditions := make(map[string]Condition)
	for i, f := range cfg.Filters {
		for _, script := range f.Scripts {
			if err := validation.ValidatePath(script, []string{scriptDirRoot}); err != nil {
				return nil, fmt.Errorf("filters[%d].scripts: %w", i, err)
			}
		}

		if f.MatchRule.Condition == "" {
			continue
		}
		if _, ok := conditions[f.MatchRule.Condition]; ok {
			continue
		}
		cond, err := ParseCondition(f.MatchRule.Condition)
		if err != nil {
			return nil, fmt.Errorf("filters[%d].match_rule.condition: %w", i, err)
		}
		conditions[f.MatchRule.Condition] = cond
	}

	return &Dispatcher{
		cfg:        cfg,
		conditions: conditions,
		patterns:   newPatternCache(),
		forwarder:  forwarder,
		running:    make(map[string]*sync.Mutex),
	}, nil
}

// Dispatch evaluates the filter chain against e and runs the resulting
// script set, then forwards DNS/domain/hostname if the event carries them
// and the corresponding backend flag is enabled.
func (d *Dispatcher) Dispatch(ctx context.Context, e events.Event) {
	// routes.d fires on every new-route/del-route event, whatever the
	// interface, table or operational state (supplemented behavior; the
	// source's address-watcher handler fires for all route events with no
	// state filtering).
	if e.Kind == events.KindNewRoute || e.Kind == events.KindDelRoute {
		d.runDir(ctx, scriptDirRoot+"/routes.d", e)
		return
	}

	var scripts []string
	sawExecute := false

	for _, f := range d.cfg.Filters {
		if !matches(f.MatchRule, e, d.conditions, d.patterns) {
			continue
		}
		switch f.Action {
		case "execute":
			sawExecute = true
			if len(f.Scripts) > 0 {
				scripts = append(scripts, f.Scripts...)
			} else {
				scripts = append(scripts, d.stateDir(e.State))
			}
		case "ignore":
			log.Debug("event ignored by filter", "ifname", e.Ifname, "event", e.Kind)
			return
		case "log":
			log.Info("filter matched (log only)", "ifname", e.Ifname, "event", e.Kind)
			continue
		}
	}

	if !sawExecute {
		scripts = append(scripts, d.stateDir(e.State))
	}

	d.runDirs(ctx, dedupe(scripts), e)
	d.forward(ctx, e)
}

// runDir runs a single script directory, serialized per (ifindex, state).
func (d *Dispatcher) runDir(ctx context.Context, dir string, e events.Event) {
	d.runDirs(ctx, []string{dir}, e)
}

// runDirs executes every directory in dirs sequentially, serialized per
// (ifindex, state) so consecutive transitions never interleave hooks
// (spec §5).
func (d *Dispatcher) runDirs(ctx context.Context, dirs []string, e events.Event) {
	key := fmt.Sprintf("%d:%s", e.Ifindex, e.State)
	lock := d.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	env := buildEnv(e, d.cfg.Backends.SystemdNetworkd.EmitJSON)
	for _, dir := range dirs {
		paths, err := listScripts(dir)
		if err != nil {
			log.Warn("failed to list script directory", "dir", dir, "error", err)
			continue
		}
		runScripts(ctx, paths, env)
	}
}

func (d *Dispatcher) stateDir(state string) string {
	if !validStates[state] {
		return ""
	}
	return scriptDirRoot + "/" + state + ".d"
}

func (d *Dispatcher) lockFor(key string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.running[key]
	if !ok {
		l = &sync.Mutex{}
		d.running[key] = l
	}
	return l
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
