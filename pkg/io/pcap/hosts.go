package pcap

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/hed1ad/graphguard/pkg/graph"
)

// Host labels. A host that received traffic on a well-known port is a server.
const (
	LabelServer = "Server"
	LabelClient = "Client"
)

// wellKnownPortLimit bounds the ports that mark a destination as a server.
const wellKnownPortLimit = 1024

type hostStats struct {
	packetsSent     int64
	packetsReceived int64
	bytesSent       int64
	bytesReceived   int64
	synSent         int64
	tcpFlags        int64
	ports           map[uint16]struct{}
	server          bool
	firstSeen       int64
	lastSeen        int64
}

type hostPair struct {
	src, dst string
}

// HostGraphBuilder accumulates per-host traffic statistics and the directed
// who-talks-to-whom edges.
type HostGraphBuilder struct {
	hosts map[string]*hostStats
	order []string
	edges map[hostPair]struct{}
	pairs []hostPair
}

// NewHostGraphBuilder creates an empty builder.
func NewHostGraphBuilder() *HostGraphBuilder {
	return &HostGraphBuilder{
		hosts: make(map[string]*hostStats),
		edges: make(map[hostPair]struct{}),
	}
}

func (b *HostGraphBuilder) host(addr string) *hostStats {
	h, ok := b.hosts[addr]
	if !ok {
		h = &hostStats{ports: make(map[uint16]struct{})}
		b.hosts[addr] = h
		b.order = append(b.order, addr)
	}
	return h
}

// Add folds one packet into the graph. Packets without a network layer are
// ignored.
func (b *HostGraphBuilder) Add(packet gopacket.Packet) {
	netLayer := packet.NetworkLayer()
	if netLayer == nil {
		return
	}
	srcEP, dstEP := netLayer.NetworkFlow().Endpoints()
	src, dst := srcEP.String(), dstEP.String()
	size := int64(len(packet.Data()))

	var ts int64
	if md := packet.Metadata(); md != nil && !md.Timestamp.IsZero() {
		ts = md.Timestamp.UnixNano()
	}

	from, to := b.host(src), b.host(dst)
	from.packetsSent++
	from.bytesSent += size
	to.packetsReceived++
	to.bytesReceived += size
	for _, h := range []*hostStats{from, to} {
		if ts != 0 && (h.firstSeen == 0 || ts < h.firstSeen) {
			h.firstSeen = ts
		}
		if ts > h.lastSeen {
			h.lastSeen = ts
		}
	}

	var dstPort uint16
	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		dstPort = uint16(tcp.DstPort)
		from.tcpFlags |= encodeTCPFlags(tcp)
		if tcp.SYN && !tcp.ACK {
			from.synSent++
		}
	} else if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		dstPort = uint16(udp.DstPort)
	}
	if dstPort != 0 {
		to.ports[dstPort] = struct{}{}
		if dstPort < wellKnownPortLimit {
			to.server = true
		}
	}

	if src == dst {
		return
	}
	pair := hostPair{src, dst}
	if _, ok := b.edges[pair]; !ok {
		b.edges[pair] = struct{}{}
		b.pairs = append(b.pairs, pair)
	}
}

// Hosts returns the number of distinct hosts seen.
func (b *HostGraphBuilder) Hosts() int {
	return len(b.order)
}

// Graph returns a directed graph with one node per host, in first-seen
// order, and an edge for every observed source to destination pair.
func (b *HostGraphBuilder) Graph() *graph.Memory {
	g := graph.NewMemory(true)
	for _, addr := range b.order {
		h := b.hosts[addr]
		label := LabelClient
		if h.server {
			label = LabelServer
		}
		g.AddNode(addr, map[string]any{
			"label":            label,
			"packets_sent":     h.packetsSent,
			"packets_received": h.packetsReceived,
			"bytes_sent":       h.bytesSent,
			"bytes_received":   h.bytesReceived,
			"syn_sent":         h.synSent,
			"tcp_flags":        h.tcpFlags,
			"distinct_ports":   len(h.ports),
			"first_seen":       h.firstSeen,
			"last_seen":        h.lastSeen,
		})
	}
	for _, p := range b.pairs {
		_ = g.AddEdge(p.src, p.dst)
	}
	return g
}

// encodeTCPFlags converts TCP flags to a bitmask.
func encodeTCPFlags(tcp *layers.TCP) int64 {
	var flags int64
	if tcp.SYN {
		flags |= 1
	}
	if tcp.ACK {
		flags |= 2
	}
	if tcp.FIN {
		flags |= 4
	}
	if tcp.RST {
		flags |= 8
	}
	if tcp.PSH {
		flags |= 16
	}
	if tcp.URG {
		flags |= 32
	}
	return flags
}
