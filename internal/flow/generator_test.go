package flow

import (
	"math/rand"
	"net"
	"strings"
	"testing"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGenerator(seed int64) *Generator {
	return NewGenerator(config.Defaults().Generator, rand.New(rand.NewSource(seed)))
}

func TestGeneratorFieldRanges(t *testing.T) {
	g := testGenerator(1)
	dstPorts := map[uint16]bool{80: true, 443: true, 22: true, 23: true, 53: true, 8080: true}

	for i := 0; i < 5000; i++ {
		r := g.Next()

		require.NotNil(t, net.ParseIP(r.SrcIP).To4(), r.SrcIP)
		require.NotNil(t, net.ParseIP(r.DstIP).To4(), r.DstIP)
		assert.True(t, strings.HasPrefix(r.DstIP, "10.0.0."))
		assert.GreaterOrEqual(t, r.SrcPort, uint16(1024))
		assert.True(t, dstPorts[r.DstPort], "dst port %d", r.DstPort)
		assert.Contains(t, []uint8{ProtocolTCP, ProtocolUDP}, r.Protocol)

		if r.SrcIP == "10.0.0.1" {
			assert.GreaterOrEqual(t, r.PacketCount, uint64(6))
			assert.LessOrEqual(t, r.PacketCount, uint64(20))
		} else {
			last := net.ParseIP(r.SrcIP).To4()[3]
			assert.GreaterOrEqual(t, last, byte(2))
			assert.LessOrEqual(t, last, byte(254))
			assert.GreaterOrEqual(t, r.PacketCount, uint64(1))
			assert.LessOrEqual(t, r.PacketCount, uint64(5))
		}

		assert.GreaterOrEqual(t, r.ByteCount, r.PacketCount*64)
		assert.LessOrEqual(t, r.ByteCount, r.PacketCount*1500)
	}
}

func TestGeneratorFlowIDsIncrease(t *testing.T) {
	g := testGenerator(2)
	for want := uint64(1); want <= 100; want++ {
		assert.Equal(t, want, g.Next().FlowID)
	}
}

func TestGeneratorSuspectShare(t *testing.T) {
	g := testGenerator(3)
	const draws = 10000

	suspect := 0
	for i := 0; i < draws; i++ {
		if g.Next().SrcIP == "10.0.0.1" {
			suspect++
		}
	}

	share := float64(suspect) / draws
	assert.InDelta(t, 0.30, share, 0.05)
}

func TestGeneratorDeterministicWithSeed(t *testing.T) {
	a, b := testGenerator(42), testGenerator(42)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Next(), b.Next())
	}
}

func TestGeneratorSeedFromConfig(t *testing.T) {
	cfg := config.Defaults().Generator
	cfg.Seed = 99
	a, b := NewGenerator(cfg, nil), NewGenerator(cfg, nil)
	assert.Equal(t, a.Next(), b.Next())
}
