package validation

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"
)

// Interface name validation
var (
	// Valid interface name: alphanumeric, dash, underscore, dot (for VLANs), max 15 chars
	interfaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,15}$`)

	// Dangerous characters that should never appear in identifiers
	dangerousChars = []string{";", "|", "&", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", "\n", "\r"}

	// Valid hostname label: alphanumeric and dash, no leading/trailing dash
	hostnameLabelRegex = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)

	// command substitution: $(...)
	subshellRegex = regexp.MustCompile(`\$\([^)]*\)`)
)

// ValidateInterfaceName validates a network interface name
func ValidateInterfaceName(name string) error {
	if name == "" {
		return fmt.Errorf("interface name cannot be empty")
	}

	if len(name) > 15 {
		return fmt.Errorf("interface name too long (max 15 characters): %s", name)
	}

	if !interfaceNameRegex.MatchString(name) {
		return fmt.Errorf("invalid interface name: %s (must be alphanumeric with -_.)", name)
	}

	// Check for dangerous characters
	for _, char := range dangerousChars {
		if strings.Contains(name, char) {
			return fmt.Errorf("interface name contains dangerous character: %s", char)
		}
	}

	return nil
}

// ValidatePath validates a script or config path against an allowlist of
// permitted directories (spec §6: filter scripts must live under
// /etc/netevd).
func ValidatePath(path string, allowedDirs []string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	// Clean the path to normalize it
	cleanPath := filepath.Clean(path)

	// Reject absolute paths outside allowlist
	if filepath.IsAbs(cleanPath) {
		allowed := false
		for _, allowedDir := range allowedDirs {
			if strings.HasPrefix(cleanPath, filepath.Clean(allowedDir)) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("path not in allowed directories: %s", cleanPath)
		}
	}

	// Reject path traversal attempts
	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal not allowed: %s", path)
	}

	// Check for null bytes
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("null byte in path")
	}

	return nil
}

// ValidateAllowlist checks if a value is in an allowed list
func ValidateAllowlist(value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("value not in allowlist: %s", value)
}

// ValidateHostname validates a hostname per RFC 1123: 1-253 chars overall,
// labels of 1-63 chars, alphanumeric and dash, no leading/trailing dash.
func ValidateHostname(name string) error {
	if name == "" {
		return fmt.Errorf("hostname cannot be empty")
	}
	if len(name) > 253 {
		return fmt.Errorf("hostname too long (max 253 characters): %s", name)
	}

	for _, label := range strings.Split(name, ".") {
		if len(label) < 1 || len(label) > 63 {
			return fmt.Errorf("invalid hostname label length (1-63): %s", label)
		}
		if !hostnameLabelRegex.MatchString(label) {
			return fmt.Errorf("invalid hostname label: %s", label)
		}
	}

	return nil
}

// ValidateEnvValue validates a value destined for a child process environment.
// Rejects the shell metacharacters spec'd for hook environments plus any
// $(...) command-substitution substring, independent of ValidateInterfaceName's
// narrower interface-name grammar.
func ValidateEnvValue(value string) error {
	if strings.ContainsAny(value, "$`\"';&|<>\n\x00") {
		return fmt.Errorf("value contains disallowed character")
	}
	if subshellRegex.MatchString(value) {
		return fmt.Errorf("value contains command substitution")
	}
	return nil
}

// ValidateIPList validates a space-separated list of IP addresses.
func ValidateIPList(s string) error {
	for _, part := range strings.Fields(s) {
		if net.ParseIP(part) == nil {
			return fmt.Errorf("invalid IP address in list: %s", part)
		}
	}
	return nil
}
