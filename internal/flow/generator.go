package flow

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/config"
)

const (
	minHostOctet  = 2
	maxHostOctet  = 254
	minSrcPort    = 1024
	maxSrcPort    = 65535
	minPacketSize = 64
	maxPacketSize = 1500
)

// Generator synthesizes flow records. A fixed share of flows comes from the
// suspect address with an elevated packet count.
type Generator struct {
	cfg    config.GeneratorConfig
	rng    *rand.Rand
	nextID uint64
}

// NewGenerator builds a generator. A nil rng is seeded from cfg.Seed, or from
// the clock when the seed is zero.
func NewGenerator(cfg config.GeneratorConfig, rng *rand.Rand) *Generator {
	if rng == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}
	return &Generator{cfg: cfg, rng: rng, nextID: 1}
}

// Next returns the next flow. FlowIDs start at 1 and increase by one per call.
func (g *Generator) Next() Record {
	var (
		srcIP   string
		packets int
	)

	if g.rng.Float64() < g.cfg.SuspectProbability {
		srcIP = g.cfg.SuspectIP
		packets = g.between(g.cfg.SuspectPackets[0], g.cfg.SuspectPackets[1])
	} else {
		srcIP = g.host()
		packets = g.between(g.cfg.NormalPackets[0], g.cfg.NormalPackets[1])
	}

	rec := Record{
		FlowID:      g.nextID,
		SrcIP:       srcIP,
		DstIP:       g.host(),
		SrcPort:     uint16(g.between(minSrcPort, maxSrcPort)),
		DstPort:     g.cfg.DstPorts[g.rng.Intn(len(g.cfg.DstPorts))],
		Protocol:    g.cfg.Protocols[g.rng.Intn(len(g.cfg.Protocols))],
		PacketCount: uint64(packets),
		ByteCount:   uint64(packets) * uint64(g.between(minPacketSize, maxPacketSize)),
	}
	g.nextID++
	return rec
}

func (g *Generator) host() string {
	return g.cfg.Subnet + strconv.Itoa(g.between(minHostOctet, maxHostOctet))
}

// between returns a uniform integer in [lo, hi].
func (g *Generator) between(lo, hi int) int {
	return lo + g.rng.Intn(hi-lo+1)
}
