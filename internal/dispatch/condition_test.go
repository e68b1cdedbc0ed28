package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCondition_HasGateway(t *testing.T) {
	c, err := ParseCondition("has_gateway")
	require.NoError(t, err)
	assert.True(t, c.Eval(Facts{HasGateway: true}))
	assert.False(t, c.Eval(Facts{HasGateway: false}))
}

func TestParseCondition_DNSCount(t *testing.T) {
	gt, err := ParseCondition("dns_count > 1")
	require.NoError(t, err)
	assert.True(t, gt.Eval(Facts{DNSCount: 2}))
	assert.False(t, gt.Eval(Facts{DNSCount: 1}))

	lt, err := ParseCondition("dns_count < 2")
	require.NoError(t, err)
	assert.True(t, lt.Eval(Facts{DNSCount: 1}))
}

func TestParseCondition_InterfaceEq(t *testing.T) {
	c, err := ParseCondition(`interface == "eth0"`)
	require.NoError(t, err)
	assert.True(t, c.Eval(Facts{Interface: "eth0"}))
	assert.False(t, c.Eval(Facts{Interface: "eth1"}))
}

func TestParseCondition_Conjunction(t *testing.T) {
	c, err := ParseCondition(`has_gateway && interface == "eth0"`)
	require.NoError(t, err)
	assert.True(t, c.Eval(Facts{HasGateway: true, Interface: "eth0"}))
	assert.False(t, c.Eval(Facts{HasGateway: true, Interface: "eth1"}))
}

// TestParseCondition_RejectsUnknownToken guards the design-note redesign:
// unknown tokens are a parse error, not a silent true at evaluation time.
func TestParseCondition_RejectsUnknownToken(t *testing.T) {
	_, err := ParseCondition("frobnicate")
	assert.Error(t, err)
}

func TestParseCondition_RejectsMalformedInterfaceEq(t *testing.T) {
	_, err := ParseCondition("interface == eth0")
	assert.Error(t, err)
}

func TestParseCondition_RejectsBadThreshold(t *testing.T) {
	_, err := ParseCondition("dns_count > abc")
	assert.Error(t, err)
}
