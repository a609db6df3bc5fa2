package flow

import "fmt"

const (
	ProtocolTCP uint8 = 6
	ProtocolUDP uint8 = 17
)

// Record is one synthesized flow observation. Its JSON form is what the
// classifier sees.
type Record struct {
	FlowID      uint64 `json:"flow_id"`
	SrcIP       string `json:"src_ip"`
	DstIP       string `json:"dst_ip"`
	SrcPort     uint16 `json:"src_port"`
	DstPort     uint16 `json:"dst_port"`
	Protocol    uint8  `json:"protocol"`
	PacketCount uint64 `json:"packet_count"`
	ByteCount   uint64 `json:"byte_count"`
}

func (r Record) String() string {
	return fmt.Sprintf("flow %d %s:%d -> %s:%d proto=%d pkts=%d bytes=%d",
		r.FlowID, r.SrcIP, r.SrcPort, r.DstIP, r.DstPort, r.Protocol, r.PacketCount, r.ByteCount)
}
