package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/standoff/internal/monitoring"
)

// ReplayOptions controls ReplayPCAP.
type ReplayOptions struct {
	// UDPPort keeps only datagrams sent to this port. Zero keeps every UDP
	// datagram.
	UDPPort int
	// Realtime sleeps between packets to reproduce the capture timing.
	// Otherwise packets are delivered as fast as the handler accepts them.
	Realtime bool
}

type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

func openCapture(f io.Reader, path string) (packetReader, error) {
	if strings.EqualFold(filepath.Ext(path), ".pcapng") {
		return pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(f)
}

// ReplayPCAP feeds the UDP payloads of a capture file through listener, as if
// they had arrived on its socket. It returns the number of datagrams
// delivered.
func ReplayPCAP(ctx context.Context, path string, listener *UDPListener, opts ReplayOptions) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()

	r, err := openCapture(f, path)
	if err != nil {
		return 0, fmt.Errorf("failed to read PCAP header of %s: %w", path, err)
	}

	source := gopacket.NewPacketSource(r, r.LinkType())
	source.NoCopy = true

	var (
		delivered int
		prev      time.Time
		start     = time.Now()
	)
	for {
		packet, err := source.NextPacket()
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			// a capture cut off mid-record ends the replay like a clean EOF
			monitoring.Logf("PCAP replay complete: %d datagrams in %v", delivered, time.Since(start))
			return delivered, nil
		}
		if err != nil {
			return delivered, fmt.Errorf("failed to read packet: %w", err)
		}

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if opts.UDPPort != 0 && int(udp.DstPort) != opts.UDPPort {
			continue
		}

		ts := packet.Metadata().Timestamp
		if opts.Realtime && !prev.IsZero() && ts.After(prev) {
			timer := time.NewTimer(ts.Sub(prev))
			select {
			case <-ctx.Done():
				timer.Stop()
				return delivered, ctx.Err()
			case <-timer.C:
			}
		}
		prev = ts

		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		default:
		}

		if err := listener.HandlePacket(udp.Payload); err != nil {
			monitoring.Logf("PCAP replay: packet %d: %v", delivered+1, err)
		}
		delivered++
	}
}
