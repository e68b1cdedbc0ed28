package dispatch

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"netevd/internal/events"
	"netevd/internal/validation"
)

// linkJSON is the shape of the optional JSON environment blob: a
// description of the link's addresses, DNS, and domains (spec §6 script
// environment contract, supplemented with the concrete shape SPEC_FULL.md
// documents for C6's emit_json path).
type linkJSON struct {
	Link      string   `json:"link"`
	Ifindex   int      `json:"ifindex"`
	State     string   `json:"state"`
	Backend   string   `json:"backend"`
	Addresses []string `json:"addresses,omitempty"`
	DNS       []string `json:"dns,omitempty"`
	Domains   []string `json:"domains,omitempty"`
}

// buildEnv assembles the candidate environment for a script run set from an
// event, then validates every value, dropping anything that fails with a
// warning (ValidationRejected, spec §7). emitJSON controls whether the JSON
// blob is attached (backends.systemd_networkd.emit_json).
func buildEnv(e events.Event, emitJSON bool) map[string]string {
	raw := map[string]string{
		"LINK":      e.Ifname,
		"LINKINDEX": strconv.Itoa(e.Ifindex),
		"STATE":     e.State,
		"BACKEND":   e.Payload.Backend,
	}

	if len(e.Payload.Addresses) > 0 {
		raw["ADDRESSES"] = joinIPs(e.Payload.Addresses)
	}

	if e.Payload.Hostname != "" {
		raw["DHCP_HOSTNAME"] = e.Payload.Hostname
	}
	if len(e.Payload.Domains) > 0 {
		raw["DHCP_DOMAIN"] = strings.Join(e.Payload.Domains, " ")
	}
	if e.Payload.Gateway != nil {
		raw["DHCP_GATEWAY"] = e.Payload.Gateway.String()
	}
	if len(e.Payload.DNS) > 0 {
		raw["DHCP_DNS"] = joinIPs(e.Payload.DNS)
	}
	if len(e.Payload.Addresses) > 0 {
		raw["DHCP_ADDRESS"] = e.Payload.Addresses[0].String()
	}

	if emitJSON {
		blob, err := json.Marshal(linkJSON{
			Link:      e.Ifname,
			Ifindex:   e.Ifindex,
			State:     e.State,
			Backend:   e.Payload.Backend,
			Addresses: ipStrings(e.Payload.Addresses),
			DNS:       ipStrings(e.Payload.DNS),
			Domains:   e.Payload.Domains,
		})
		if err == nil {
			raw["JSON"] = string(blob)
		}
	}

	return validateEnv(raw)
}

// validateEnv applies per-key validation (spec §6 "Validation rules for
// hook environment values"), dropping and warning on anything that fails
// rather than aborting the run (ValidationRejected, spec §7).
func validateEnv(raw map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if err := validateKey(k, v); err != nil {
			log.Warn("dropping invalid script environment variable", "key", k, "error", err)
			continue
		}
		out[k] = v
	}
	return out
}

func validateKey(key, value string) error {
	switch key {
	case "LINK":
		return validation.ValidateInterfaceName(value)
	case "LINKINDEX":
		if value == "" {
			return fmt.Errorf("empty LINKINDEX")
		}
		for _, r := range value {
			if r < '0' || r > '9' {
				return fmt.Errorf("non-numeric LINKINDEX: %s", value)
			}
		}
		return nil
	case "DHCP_HOSTNAME":
		return validation.ValidateHostname(value)
	case "DHCP_DOMAIN":
		return validation.ValidateEnvValue(value)
	case "ADDRESSES", "DHCP_ADDRESS", "DHCP_DNS":
		return validation.ValidateIPList(value)
	case "DHCP_GATEWAY":
		return validation.ValidateIPList(value)
	case "JSON":
		// The blob necessarily contains quotes, so the generic character
		// rule cannot apply; require well-formed JSON with no command
		// substitution instead.
		if !json.Valid([]byte(value)) {
			return fmt.Errorf("JSON value is not well-formed")
		}
		if strings.ContainsAny(value, "`\x00") || strings.Contains(value, "$(") {
			return fmt.Errorf("JSON value contains command substitution")
		}
		return nil
	default:
		return validation.ValidateEnvValue(value)
	}
}

func joinIPs(ips []net.IP) string {
	return strings.Join(ipStrings(ips), " ")
}

func ipStrings(ips []net.IP) []string {
	if len(ips) == 0 {
		return nil
	}
	out := make([]string, len(ips))
	for i, ip := range ips {
		out[i] = ip.String()
	}
	return out
}
