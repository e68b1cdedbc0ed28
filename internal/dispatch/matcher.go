package dispatch

import (
	"regexp"
	"strings"
	"sync"

	"netevd/internal/config"
	"netevd/internal/events"
)

// patternCache memoizes compiled interface_pattern regexes; filter lists are
// small and static per config generation, but this avoids recompiling on
// every event.
type patternCache struct {
	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

func newPatternCache() *patternCache {
	return &patternCache{cache: make(map[string]*regexp.Regexp)}
}

func (pc *patternCache) compile(pattern string) (*regexp.Regexp, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if re, ok := pc.cache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(strings.ReplaceAll(pattern, "*", ".*"))
	if err != nil {
		return nil, err
	}
	pc.cache[pattern] = re
	return re, nil
}

// matches evaluates a single filter's match_rule conjunction against an
// event (spec §4.6). A condition missing from conditions never matches;
// NewDispatcher compiles every filter's condition and fails on a bad one,
// so this path is unreachable in practice.
func matches(rule config.MatchRule, e events.Event, conditions map[string]Condition, patterns *patternCache) bool {
	if rule.Interface != "" && rule.Interface != e.Ifname {
		return false
	}

	if rule.InterfacePattern != "" {
		re, err := patterns.compile(rule.InterfacePattern)
		if err != nil || !re.MatchString(e.Ifname) {
			return false
		}
	}

	if rule.EventType != "" && rule.EventType != string(e.Kind) {
		return false
	}

	if rule.IPFamily != "" && rule.IPFamily != "any" {
		wantV4 := rule.IPFamily == "v4"
		found := false
		for _, addr := range e.Payload.Addresses {
			if (addr.To4() != nil) == wantV4 {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if rule.Backend != "" && rule.Backend != e.Payload.Backend {
		return false
	}

	if rule.Condition != "" {
		cond, ok := conditions[rule.Condition]
		if !ok {
			return false
		}
		facts := Facts{
			HasGateway: e.Payload.HasGateway,
			DNSCount:   len(e.Payload.DNS),
			Interface:  e.Ifname,
		}
		if !cond.Eval(facts) {
			return false
		}
	}

	return true
}
