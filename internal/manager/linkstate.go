// Package manager implements C4: the network-configuration manager
// listener. It subscribes to DBus PropertiesChanged signals for link
// objects and reads the manager's on-disk per-link state file (spec §4.4).
package manager

import (
	"fmt"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// LinkState is the parsed per-link on-disk state document (spec §4.4: an
// INI-style document with sections ADMIN_STATE, OPER_STATE, DNS, DOMAINS,
// ROUTE).
type LinkState struct {
	AdminState string
	OperState  string
	DNS        []string
	Domains    []string
	Route      string
}

// StateDir is the directory systemd-networkd (and compatible managers)
// write per-link state files into.
const StateDir = "/run/systemd/netif/links"

// ParseLinkStateFile reads and parses the per-link state file for ifindex.
func ParseLinkStateFile(ifindex int) (LinkState, error) {
	return ParseLinkStateFileAt(filepath.Join(StateDir, fmt.Sprint(ifindex)))
}

// ParseLinkStateFileAt parses a link state file at an explicit path
// (exported separately from ParseLinkStateFile for tests).
func ParseLinkStateFileAt(path string) (LinkState, error) {
	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return LinkState{}, fmt.Errorf("load link state file %s: %w", path, err)
	}

	var st LinkState
	st.AdminState = cfg.Section("").Key("ADMIN_STATE").String()
	st.OperState = cfg.Section("").Key("OPER_STATE").String()
	st.DNS = splitSpace(cfg.Section("").Key("DNS").String())
	st.Domains = splitSpace(cfg.Section("").Key("DOMAINS").String())
	st.Route = cfg.Section("").Key("ROUTE").String()

	return st, nil
}

func splitSpace(s string) []string {
	var out []string
	field := ""
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if field != "" {
				out = append(out, field)
				field = ""
			}
			continue
		}
		field += string(r)
	}
	if field != "" {
		out = append(out, field)
	}
	return out
}
