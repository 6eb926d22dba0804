// Command mep-gen writes synthetic Multi-Event Packet traffic into a PCAP
// file. The output exercises the full wire format, including per-burst event
// numbering and the end-of-burst flag on the final fragment of each burst,
// and is the standard input for mep-analyse.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/farm-daq/l0readout/internal/l0/mep"
)

// Config holds the generator settings.
type Config struct {
	OutFile      string
	Bursts       int
	MEPsPerBurst int
	Fragments    int
	PayloadBytes int
	SourceID     uint
	SourceSubID  uint
	UDPPort      int
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.OutFile, "out", "mep-traffic.pcap", "output PCAP file")
	flag.IntVar(&cfg.Bursts, "bursts", 3, "number of bursts to generate")
	flag.IntVar(&cfg.MEPsPerBurst, "meps", 20, "MEPs per burst")
	flag.IntVar(&cfg.Fragments, "fragments", 8, "fragments per MEP")
	flag.IntVar(&cfg.PayloadBytes, "payload", 16, "payload bytes per fragment")
	flag.UintVar(&cfg.SourceID, "source", 0x04, "source ID to stamp on packets")
	flag.UintVar(&cfg.SourceSubID, "subid", 0, "source sub-ID (readout board)")
	flag.IntVar(&cfg.UDPPort, "port", 58913, "destination UDP port")
	flag.Parse()

	if cfg.Fragments < 1 || cfg.Fragments > 255 {
		log.Fatalf("fragments per MEP must be 1..255, got %d", cfg.Fragments)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("mep-gen: %v", err)
	}
}

func run(cfg Config) error {
	f, err := os.Create(cfg.OutFile)
	if err != nil {
		return fmt.Errorf("create %s: %w", cfg.OutFile, err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return fmt.Errorf("write PCAP header: %w", err)
	}

	ts := time.Now().Add(-time.Hour)
	payload := make([]byte, cfg.PayloadBytes)
	for i := range payload {
		payload[i] = byte(i)
	}

	packets := 0
	for burst := 0; burst < cfg.Bursts; burst++ {
		// Event numbering restarts at every burst boundary.
		eventNum := uint32(0)

		for m := 0; m < cfg.MEPsPerBurst; m++ {
			b := mep.NewBuilder(uint8(cfg.SourceID), uint8(cfg.SourceSubID), eventNum)
			for frag := 0; frag < cfg.Fragments; frag++ {
				lastOfBurst := m == cfg.MEPsPerBurst-1 && frag == cfg.Fragments-1
				b.AddFragment(mep.FragmentSpec{
					Payload:          payload,
					Timestamp:        uint32(ts.UnixMicro()),
					LastEventOfBurst: lastOfBurst,
				})
			}
			eventNum = (eventNum + uint32(cfg.Fragments)) & mep.MaxEventNum

			frame, err := wrapUDP(b.Bytes(), cfg.UDPPort)
			if err != nil {
				return fmt.Errorf("serialise frame: %w", err)
			}
			ci := gopacket.CaptureInfo{
				Timestamp:     ts,
				CaptureLength: len(frame),
				Length:        len(frame),
			}
			if err := w.WritePacket(ci, frame); err != nil {
				return fmt.Errorf("write packet: %w", err)
			}
			packets++
			ts = ts.Add(5 * time.Millisecond)
		}

		// Inter-burst gap, comfortably past the promotion debounce.
		ts = ts.Add(3 * time.Second)
	}

	log.Printf("wrote %d packets (%d bursts) to %s", packets, cfg.Bursts, cfg.OutFile)
	return nil
}

// wrapUDP wraps a MEP buffer in Ethernet/IPv4/UDP framing.
func wrapUDP(mepBytes []byte, port int) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(33333),
		DstPort: layers.UDPPort(port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(mepBytes)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
