// Package pcap builds host communication graphs from PCAP files or live
// interfaces.
package pcap

import (
	"context"
	"errors"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"github.com/hed1ad/graphguard/pkg/graph"
)

var errNotInitialized = errors.New("reader not initialized")

// Reader reads packets from PCAP files or live interfaces and folds them
// into a host graph.
type Reader struct {
	handle     *pcap.Handle
	builder    *HostGraphBuilder
	isLive     bool
	maxPackets int
}

// Option configures a Reader.
type Option func(*Reader)

// WithMaxPackets stops reading after n packets. Live captures should set
// it or rely on context cancellation.
func WithMaxPackets(n int) Option {
	return func(r *Reader) {
		r.maxPackets = n
	}
}

// NewFileReader creates a reader for PCAP files.
func NewFileReader(filename string, opts ...Option) (*Reader, error) {
	handle, err := pcap.OpenOffline(filename)
	if err != nil {
		return nil, err
	}
	return newReader(handle, false, opts), nil
}

// NewLiveReader creates a reader for live packet capture.
func NewLiveReader(iface string, snaplen int32, promisc bool, timeout time.Duration, opts ...Option) (*Reader, error) {
	handle, err := pcap.OpenLive(iface, snaplen, promisc, timeout)
	if err != nil {
		return nil, err
	}
	return newReader(handle, true, opts), nil
}

func newReader(handle *pcap.Handle, live bool, opts []Option) *Reader {
	r := &Reader{
		handle:  handle,
		builder: NewHostGraphBuilder(),
		isLive:  live,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadGraph consumes packets until the capture ends, the packet limit is
// reached or ctx is done, and returns the host graph built so far. A live
// capture stopped by its context is not an error; a capture without any IP
// traffic is graph.ErrEmptyGraph.
func (r *Reader) ReadGraph(ctx context.Context) (*graph.Memory, error) {
	if r.handle == nil {
		return nil, errNotInitialized
	}

	packetSource := gopacket.NewPacketSource(r.handle, r.handle.LinkType())
	packets := packetSource.Packets()
	seen := 0
	for r.maxPackets <= 0 || seen < r.maxPackets {
		select {
		case <-ctx.Done():
			if r.isLive {
				return r.graph()
			}
			return nil, ctx.Err()
		case packet, ok := <-packets:
			if !ok {
				return r.graph()
			}
			r.builder.Add(packet)
			seen++
		}
	}
	return r.graph()
}

func (r *Reader) graph() (*graph.Memory, error) {
	if r.builder.Hosts() == 0 {
		return nil, graph.ErrEmptyGraph
	}
	return r.builder.Graph(), nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.handle != nil {
		r.handle.Close()
	}
	return nil
}
