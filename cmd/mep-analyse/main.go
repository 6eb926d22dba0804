// Command mep-analyse replays a PCAP capture of Multi-Event Packet traffic
// through the framing layer. Every UDP payload on the configured port is
// parsed as a MEP, all fragments are released (verifying the refcount
// teardown), and end-of-burst flags drive the burst state machine with time
// taken from the capture, not the wall clock. Results go to stdout and,
// optionally, a SQLite ledger.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/farm-daq/l0readout/internal/burst"
	"github.com/farm-daq/l0readout/internal/burstdb"
	"github.com/farm-daq/l0readout/internal/l0"
	"github.com/farm-daq/l0readout/internal/timeutil"
	"github.com/farm-daq/l0readout/internal/version"
)

// Config holds the analysis settings.
type Config struct {
	PCAPFile string
	UDPPort  int
	DBPath   string
	Sources  string
	Verbose  bool
}

// replayClock implements timeutil.Clock over capture timestamps so the burst
// machine's debounce windows follow recorded time during offline replay.
// Sleep advances virtual time instead of blocking.
type replayClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *replayClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *replayClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *replayClock) NewTicker(d time.Duration) timeutil.Ticker {
	// Replay polls after every packet; nothing drives tickers.
	return timeutil.RealClock{}.NewTicker(d)
}

func (c *replayClock) set(t time.Time) {
	c.mu.Lock()
	if t.After(c.now) {
		c.now = t
	}
	c.mu.Unlock()
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.PCAPFile, "pcap", "", "PCAP file to analyse (required)")
	flag.IntVar(&cfg.UDPPort, "port", 58913, "UDP port carrying MEP traffic")
	flag.StringVar(&cfg.DBPath, "db", "", "optional SQLite ledger to write")
	flag.StringVar(&cfg.Sources, "sources", "0x04,0x10,0x20", "comma-separated active source IDs")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "log every parsed MEP")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mep-analyse %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if cfg.PCAPFile == "" {
		flag.Usage()
		log.Fatal("missing required -pcap flag")
	}

	if err := run(cfg); err != nil {
		log.Fatalf("mep-analyse: %v", err)
	}
}

func parseSources(s string) ([]uint8, error) {
	var ids []uint8
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseUint(field, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("bad source ID %q: %w", field, err)
		}
		ids = append(ids, uint8(v))
	}
	if len(ids) == 0 {
		return nil, errors.New("no source IDs configured")
	}
	return ids, nil
}

func run(cfg Config) error {
	ids, err := parseSources(cfg.Sources)
	if err != nil {
		return err
	}
	registry, err := l0.NewSourceRegistry(ids)
	if err != nil {
		return err
	}

	f, err := os.Open(cfg.PCAPFile)
	if err != nil {
		return fmt.Errorf("open PCAP file: %w", err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("read PCAP header: %w", err)
	}

	var ledger *burstdb.DB
	var runID string
	if cfg.DBPath != "" {
		ledger, err = burstdb.NewDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer ledger.Close()
		runID, err = ledger.BeginRun(cfg.PCAPFile)
		if err != nil {
			return err
		}
		log.Printf("ledger run %s", runID)
	}

	clock := &replayClock{}
	handler := burst.NewHandler(1, clock)
	handler.OnBurstFinished(func(id uint32) {
		if ledger != nil {
			if err := ledger.RecordBurstFinished(runID, id, clock.Now()); err != nil {
				log.Printf("ledger: %v", err)
			}
		}
	})

	stats := struct {
		packets, fragments, bytes int
		malformed, unknown        int
		eobMarkers                int
	}{}

	firstPacket := true
	for {
		data, ci, err := r.ReadPacketData()
		if err != nil {
			break // io.EOF or a truncated capture; either way we are done reading
		}
		clock.set(ci.Timestamp)
		if firstPacket {
			firstPacket = false
			if ledger != nil {
				if err := ledger.RecordBurstStart(runID, handler.CurrentBurstID(), ci.Timestamp); err != nil {
					log.Printf("ledger: %v", err)
				}
			}
		}

		payload := udpPayload(data, r.LinkType(), cfg.UDPPort)
		if payload == nil {
			continue
		}

		// The burst machine is polled per packet, standing in for the
		// periodic poller goroutines of the online system. The finished
		// check must run before the promotion check: replay time jumps
		// across the inter-burst gap in one step, and promoting first
		// would collapse the transition before its notification fires.
		handler.CheckBurstFinished()
		if handler.CheckBurstIDChange() && ledger != nil {
			if err := ledger.RecordBurstPromoted(runID, handler.CurrentBurstID(), clock.Now()); err != nil {
				log.Printf("ledger: %v", err)
			}
		}

		m, err := l0.ParseMEP(payload, registry, nil)
		if err != nil {
			kind := "malformed"
			var use *l0.UnknownSourceError
			if errors.As(err, &use) {
				kind = "unknown_source"
				stats.unknown++
			} else {
				stats.malformed++
			}
			log.Printf("dropping packet: %v", err)
			if ledger != nil {
				if err := ledger.RecordPacketError(runID, kind, err.Error()); err != nil {
					log.Printf("ledger: %v", err)
				}
			}
			continue
		}

		burstID := handler.CurrentBurstID()
		stats.packets++
		stats.fragments += m.NumFragments()
		stats.bytes += m.Length()
		if cfg.Verbose {
			log.Printf("MEP source 0x%02x sub %d: first event %d, %d fragments, %d bytes (burst %d)",
				m.SourceID(), m.SourceSubID(), m.FirstEventNum(), m.NumFragments(), m.Length(), burstID)
		}

		sawEOB := false
		for i := 0; i < m.NumFragments(); i++ {
			frag := m.Fragment(i)
			if frag.LastEventOfBurst() {
				sawEOB = true
			}
			last := frag.Release()
			if last != (i == m.NumFragments()-1) {
				log.Printf("warning: fragment %d/%d reported last=%v", i, m.NumFragments(), last)
			}
		}

		if ledger != nil {
			if err := ledger.AddBurstTraffic(runID, burstID, 1, int64(m.NumFragments()), int64(m.Length())); err != nil {
				log.Printf("ledger: %v", err)
			}
		}

		if sawEOB {
			stats.eobMarkers++
			next := handler.NextBurstID() + 1
			handler.SetNextBurstID(next)
			if ledger != nil {
				if err := ledger.RecordBurstStart(runID, next, clock.Now()); err != nil {
					log.Printf("ledger: %v", err)
				}
			}
		}
	}

	// Drain the final transition, stepping virtual time past the windows.
	clock.Sleep(burst.PromoteDebounce + time.Millisecond)
	handler.CheckBurstFinished()
	if handler.CheckBurstIDChange() && ledger != nil {
		if err := ledger.RecordBurstPromoted(runID, handler.CurrentBurstID(), clock.Now()); err != nil {
			log.Printf("ledger: %v", err)
		}
	}

	fmt.Printf("packets:        %d\n", stats.packets)
	fmt.Printf("fragments:      %d\n", stats.fragments)
	fmt.Printf("payload bytes:  %d\n", stats.bytes)
	fmt.Printf("EOB markers:    %d\n", stats.eobMarkers)
	fmt.Printf("malformed:      %d\n", stats.malformed)
	fmt.Printf("unknown source: %d\n", stats.unknown)
	fmt.Printf("final burst:    %d\n", handler.CurrentBurstID())

	if ledger != nil {
		summaries, err := ledger.BurstSummaries(runID)
		if err != nil {
			return err
		}
		fmt.Println("\nburst  packets  fragments  bytes")
		for _, s := range summaries {
			fmt.Printf("%5d  %7d  %9d  %6d\n", s.BurstID, s.Packets, s.Fragments, s.Bytes)
		}
	}
	return nil
}

// udpPayload extracts the UDP payload for the configured port from a
// captured frame, or nil when the frame is not MEP traffic.
func udpPayload(data []byte, linkType layers.LinkType, port int) []byte {
	packet := gopacket.NewPacket(data, linkType, gopacket.Default)
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok || int(udp.DstPort) != port {
		return nil
	}
	if len(udp.Payload) == 0 {
		return nil
	}
	return udp.Payload
}
