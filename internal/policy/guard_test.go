package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/config"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/decision"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/flow"
)

var hotFlow = flow.Record{FlowID: 7, SrcIP: "10.0.0.1", DstIP: "10.0.0.20", SrcPort: 5000, DstPort: 80, Protocol: 6, PacketCount: 15, ByteCount: 15000}

func drop(ip string) decision.Decision {
	return decision.Decision{Detected: true, Action: decision.ActionDrop, TargetIP: ip}
}

func TestGuardWithoutRulesAllowsDrop(t *testing.T) {
	g, err := NewGuard(config.PolicyConfig{})
	require.NoError(t, err)

	ok, reason := g.Allow(hotFlow, drop("10.0.0.1"))
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestGuardProtectedAddress(t *testing.T) {
	g, err := NewGuard(config.PolicyConfig{ProtectedIPs: []string{"10.0.0.1"}})
	require.NoError(t, err)

	ok, reason := g.Allow(hotFlow, drop("10.0.0.1"))
	assert.False(t, ok)
	assert.Equal(t, ReasonProtected, reason)

	ok, _ = g.Allow(hotFlow, drop("10.0.0.2"))
	assert.True(t, ok)
}

func TestGuardNeverBlocksNone(t *testing.T) {
	g, err := NewGuard(config.PolicyConfig{ProtectedIPs: []string{"10.0.0.1"}, DropGuard: "false"})
	require.NoError(t, err)

	ok, _ := g.Allow(hotFlow, decision.None())
	assert.True(t, ok)
}

func TestGuardExpression(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"packet threshold met", "packet_count > 10", true},
		{"packet threshold missed", "packet_count > 50", false},
		{"target must be source", "target_ip == src_ip", true},
		{"only tcp", "protocol == 6 && dst_port in [80, 443]", true},
		{"subnet", `target_ip.startsWith("192.168.")`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGuard(config.PolicyConfig{DropGuard: tt.expr})
			require.NoError(t, err)

			ok, reason := g.Allow(hotFlow, drop("10.0.0.1"))
			assert.Equal(t, tt.want, ok)
			if !tt.want {
				assert.Equal(t, ReasonGuard, reason)
			}
		})
	}
}

func TestGuardCompileErrors(t *testing.T) {
	for _, expr := range []string{"packet_count >", "packet_count + 1", "unknown_var == 1"} {
		_, err := NewGuard(config.PolicyConfig{DropGuard: expr})
		assert.Error(t, err, expr)
	}

	_, err := NewGuard(config.PolicyConfig{ProtectedIPs: []string{"nope"}})
	assert.Error(t, err)
}

func TestGuardEvalErrorVetoes(t *testing.T) {
	g, err := NewGuard(config.PolicyConfig{DropGuard: "packet_count / (dst_port - 80) > 0"})
	require.NoError(t, err)

	ok, reason := g.Allow(hotFlow, drop("10.0.0.1"))
	assert.False(t, ok)
	assert.Equal(t, ReasonGuardError, reason)
}
