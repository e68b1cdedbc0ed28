package lease

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLeaseFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dhclient.leases")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseLeaseFile_SingleBlock(t *testing.T) {
	path := writeLeaseFile(t, `
lease 192.168.1.100 {
  interface "eth0";
  fixed-address 192.168.1.100;
  option subnet-mask 255.255.255.0;
  option routers 192.168.1.1;
  option domain-name-servers 8.8.8.8, 8.8.4.4;
  option domain-name "example.com";
  option host-name "myhost";
}
`)

	leases, err := ParseLeaseFile(path)
	require.NoError(t, err)
	require.Contains(t, leases, "eth0")

	l := leases["eth0"]
	assert.Equal(t, "192.168.1.100", l.Address.String())
	assert.Equal(t, "255.255.255.0", l.SubnetMask.String())
	require.Len(t, l.Routers, 1)
	assert.Equal(t, "192.168.1.1", l.Routers[0].String())
	require.Len(t, l.DNS, 2)
	assert.Equal(t, "example.com", l.DomainName)
	assert.Equal(t, "myhost", l.Hostname)
}

func TestParseLeaseFile_MultipleBlocks(t *testing.T) {
	path := writeLeaseFile(t, `
lease 192.168.1.100 {
  interface "eth0";
  option routers 192.168.1.1;
}

lease 10.0.0.50 {
  interface "eth1";
  option routers 10.0.0.1;
}
`)

	leases, err := ParseLeaseFile(path)
	require.NoError(t, err)
	assert.Len(t, leases, 2)
	assert.Contains(t, leases, "eth0")
	assert.Contains(t, leases, "eth1")
}

func TestParseLeaseFile_MissingInterfaceDiscarded(t *testing.T) {
	path := writeLeaseFile(t, `
lease 192.168.1.100 {
  option routers 192.168.1.1;
}
`)

	leases, err := ParseLeaseFile(path)
	require.NoError(t, err)
	assert.Empty(t, leases)
}

func TestParseLeaseFile_Empty(t *testing.T) {
	path := writeLeaseFile(t, "")
	leases, err := ParseLeaseFile(path)
	require.NoError(t, err)
	assert.Empty(t, leases)
}

func TestParseLeaseFile_Nonexistent(t *testing.T) {
	_, err := ParseLeaseFile("/nonexistent/path/to/lease.file")
	assert.Error(t, err)
}

func TestParseLeaseFile_WithComments(t *testing.T) {
	path := writeLeaseFile(t, `
# comment line
lease 192.168.1.100 {
  interface "eth0"; # inline comment
  option routers 192.168.1.1;
}
`)

	leases, err := ParseLeaseFile(path)
	require.NoError(t, err)
	assert.Contains(t, leases, "eth0")
}

func TestExtractValue(t *testing.T) {
	v, ok := extractValue("option routers 192.168.1.1;")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.1", v)

	v, ok = extractValue("fixed-address 10.0.0.5;")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", v)

	_, ok = extractValue("no semicolon")
	assert.False(t, ok)
}

func TestExtractQuoted(t *testing.T) {
	v, ok := extractQuoted(`interface "eth0";`)
	require.True(t, ok)
	assert.Equal(t, "eth0", v)

	_, ok = extractQuoted("no quotes")
	assert.False(t, ok)

	v, ok = extractQuoted(`""`)
	require.True(t, ok)
	assert.Equal(t, "", v)
}

// TestParseLeaseFile_RoundTrip guards R-1: re-parsing the same file yields
// an equal interface->lease mapping.
func TestParseLeaseFile_RoundTrip(t *testing.T) {
	path := writeLeaseFile(t, `
lease 192.168.1.100 {
  interface "eth0";
  fixed-address 192.168.1.100;
  option routers 192.168.1.1;
}
`)

	first, err := ParseLeaseFile(path)
	require.NoError(t, err)
	second, err := ParseLeaseFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
