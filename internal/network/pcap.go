package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/radarcloud/internal/monitoring"
	"github.com/banshee-data/radarcloud/internal/timeutil"
)

const pcapngMagic = 0x0A0D0D0A

// DatagramFunc receives the UDP payload of one captured packet.
type DatagramFunc func(ctx context.Context, payload []byte) error

// ReplayConfig configures ReplayPCAP.
type ReplayConfig struct {
	// Port keeps only datagrams sent to this UDP port. Zero keeps all.
	Port int
	// Speed scales capture timing: 1 is real time, 2 twice as fast.
	// Zero or less replays as fast as possible.
	Speed float64
	Clock timeutil.Clock
}

// ReplayStats summarises a replay.
type ReplayStats struct {
	Packets   int
	Datagrams int
	Errors    int
	Elapsed   time.Duration
}

type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

func openCapture(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}
	if binary.LittleEndian.Uint32(head) == pcapngMagic {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// ReplayPCAP feeds the UDP payloads of a pcap or pcapng file to deliver.
// Delivery errors are counted and logged; they do not stop the replay.
func ReplayPCAP(ctx context.Context, path string, cfg ReplayConfig, deliver DatagramFunc) (ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()
	return Replay(ctx, f, cfg, deliver)
}

// Replay is ReplayPCAP over an open capture stream.
func Replay(ctx context.Context, r io.Reader, cfg ReplayConfig, deliver DatagramFunc) (ReplayStats, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	src, err := openCapture(r)
	if err != nil {
		return ReplayStats{}, err
	}

	var stats ReplayStats
	start := clock.Now()
	done := func() ReplayStats {
		stats.Elapsed = clock.Since(start)
		return stats
	}

	packets := gopacket.NewPacketSource(src, src.LinkType())
	packets.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	var last time.Time
	for {
		if err := ctx.Err(); err != nil {
			return done(), err
		}
		pkt, err := packets.NextPacket()
		if err == io.EOF {
			monitoring.Logf("PCAP replay complete: %d packets, %d datagrams", stats.Packets, stats.Datagrams)
			return done(), nil
		}
		if err != nil {
			return done(), fmt.Errorf("failed to read packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if cfg.Port != 0 && int(udp.DstPort) != cfg.Port {
			continue
		}

		captured := pkt.Metadata().Timestamp
		if cfg.Speed > 0 && !last.IsZero() {
			if d := time.Duration(float64(captured.Sub(last)) / cfg.Speed); d > 0 {
				select {
				case <-ctx.Done():
					return done(), ctx.Err()
				case <-clock.After(d):
				}
			}
		}
		last = captured

		stats.Datagrams++
		if err := deliver(ctx, udp.Payload); err != nil {
			stats.Errors++
			monitoring.Logf("PCAP packet %d: %v", stats.Packets, err)
		}
	}
}
