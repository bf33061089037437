package pcap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/graphguard/pkg/graph"
)

func writeCapture(t *testing.T, packets []gopacket.Packet) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for _, p := range packets {
		data := p.Data()
		ci := gopacket.CaptureInfo{
			Timestamp:     p.Metadata().Timestamp,
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

func TestFileReader(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var packets []gopacket.Packet
	for i := 0; i < 5; i++ {
		packets = append(packets, buildPacket(t, segment{
			src: "192.168.1.10", dst: "192.168.1.1",
			srcPort: 40000, dstPort: 53, udp: true,
			at: base.Add(time.Duration(i) * time.Second),
		}))
	}
	path := writeCapture(t, packets)

	t.Run("all packets", func(t *testing.T) {
		r, err := NewFileReader(path)
		require.NoError(t, err)
		defer r.Close()

		g, err := r.ReadGraph(context.Background())
		require.NoError(t, err)
		require.Equal(t, 2, g.Len())

		dns, ok := g.Node("192.168.1.1")
		require.True(t, ok)
		assert.Equal(t, LabelServer, dns.Label())
		assert.Equal(t, int64(5), dns.Attrs["packets_received"])
	})

	t.Run("packet limit", func(t *testing.T) {
		r, err := NewFileReader(path, WithMaxPackets(2))
		require.NoError(t, err)
		defer r.Close()

		g, err := r.ReadGraph(context.Background())
		require.NoError(t, err)
		host, _ := g.Node("192.168.1.10")
		assert.Equal(t, int64(2), host.Attrs["packets_sent"])
	})
}

func TestFileReaderEmptyCapture(t *testing.T) {
	r, err := NewFileReader(writeCapture(t, nil))
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadGraph(context.Background())
	assert.ErrorIs(t, err, graph.ErrEmptyGraph)
}

func TestFileReaderMissing(t *testing.T) {
	_, err := NewFileReader(filepath.Join(t.TempDir(), "none.pcap"))
	assert.Error(t, err)
}
