// Command replay decodes Arnavi device traffic captured in a pcap file and
// prints the decoded positions.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/rs/zerolog"

	"github.com/saviobatista/arnavi-gateway/internal/config"
	"github.com/saviobatista/arnavi-gateway/internal/logging"
	"github.com/saviobatista/arnavi-gateway/internal/parser"
	"github.com/saviobatista/arnavi-gateway/internal/types"
)

const defaultPort = 20332

// Summary counts what a replay processed
type Summary struct {
	Packets   int
	Flows     int
	Frames    int
	Positions int
	Dropped   int
	Acks      int
	Discarded int
	// Gaps counts segments that arrived ahead of the expected sequence number
	Gaps int
}

// flow holds the reassembly and session state of one device connection
type flow struct {
	pending []byte
	nextSeq uint32
	started bool
	session *flowSession
	decoder *parser.Decoder
}

// flowSession binds the handshake identifier of a flow. Known identifiers
// resolve to their configured device; any other identifier becomes a device
// with only that identifier.
type flowSession struct {
	known  map[string]*types.Device
	device *types.Device
}

func (s *flowSession) Resolve(ctx context.Context, identifier string) (*types.Device, error) {
	if identifier == "" {
		if s.device == nil {
			return nil, errors.New("flow has no handshake")
		}
		return s.device, nil
	}
	if d, ok := s.known[identifier]; ok {
		s.device = d
	} else {
		s.device = &types.Device{Identifier: identifier}
	}
	return s.device, nil
}

// ackCounter stands in for the device socket
type ackCounter struct {
	n int
}

func (a *ackCounter) Send(frame []byte) error {
	a.n++
	return nil
}

// Replayer decodes TCP payloads sent to one port
type Replayer struct {
	port    layers.TCPPort
	known   map[string]*types.Device
	out     io.Writer
	json    bool
	logger  zerolog.Logger
	flows   map[string]*flow
	acks    *ackCounter
	summary Summary
}

// NewReplayer creates a replayer writing positions to out
func NewReplayer(port uint16, devices []*types.Device, out io.Writer, jsonOut bool, logger zerolog.Logger) *Replayer {
	known := make(map[string]*types.Device, len(devices))
	for _, d := range devices {
		known[d.Identifier] = d
	}
	return &Replayer{
		port:   layers.TCPPort(port),
		known:  known,
		out:    out,
		json:   jsonOut,
		logger: logger,
		flows:  make(map[string]*flow),
		acks:   &ackCounter{},
	}
}

// Run reads every packet of a classic pcap stream
func (r *Replayer) Run(ctx context.Context, in io.Reader) (Summary, error) {
	reader, err := pcapgo.NewReader(in)
	if err != nil {
		return r.summary, fmt.Errorf("failed to read pcap header: %w", err)
	}

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	source.NoCopy = true

	for {
		if err := ctx.Err(); err != nil {
			return r.summary, err
		}
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.logger.Warn().Err(err).Int("packets", r.summary.Packets).Msg("capture ends early")
			break
		}
		r.summary.Packets++
		if err := r.handlePacket(ctx, packet); err != nil {
			return r.summary, err
		}
	}

	r.summary.Flows = len(r.flows)
	r.summary.Acks = r.acks.n
	return r.summary, nil
}

func (r *Replayer) handlePacket(ctx context.Context, packet gopacket.Packet) error {
	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return nil
	}
	tcp, ok := tcpLayer.(*layers.TCP)
	if !ok || tcp.DstPort != r.port {
		return nil
	}
	nl := packet.NetworkLayer()
	if nl == nil {
		return nil
	}

	key := nl.NetworkFlow().String() + "/" + tcp.TransportFlow().String()
	f, ok := r.flows[key]
	if !ok || tcp.SYN {
		sess := &flowSession{known: r.known}
		f = &flow{
			session: sess,
			decoder: parser.NewDecoder(sess, r.logger),
		}
		r.flows[key] = f
	}

	seq := tcp.Seq
	if tcp.SYN {
		seq++
	}
	payload := tcp.Payload
	if len(payload) > 0 {
		if f.started {
			switch delta := int32(seq - f.nextSeq); {
			case delta < 0:
				// retransmission of bytes already seen
				return nil
			case delta > 0:
				r.logger.Debug().
					Str("flow", key).
					Uint32("expected", f.nextSeq).
					Uint32("seq", seq).
					Int("pending", len(f.pending)).
					Msg("sequence gap, discarding pending bytes")
				r.summary.Gaps++
				r.discard(f)
			}
		}
		f.started = true
		f.nextSeq = seq + uint32(len(payload))

		f.pending = append(f.pending, payload...)
		if err := r.process(ctx, f, packet.Metadata().Timestamp); err != nil {
			return err
		}
	}

	if tcp.FIN || tcp.RST {
		if len(f.pending) > 0 {
			r.summary.Discarded += len(f.pending)
		}
		f.pending = nil
		f.started = false
	}
	return nil
}

func (r *Replayer) process(ctx context.Context, f *flow, at time.Time) error {
	for len(f.pending) > 0 {
		n, framed := parser.FrameLength(f.pending)
		if framed && n == 0 {
			return nil
		}
		frame := f.pending
		if framed {
			frame = f.pending[:n]
		}

		res, err := f.decoder.Decode(ctx, frame, r.acks)
		switch {
		case errors.Is(err, parser.ErrIncomplete):
			return nil
		case errors.Is(err, parser.ErrNoSession):
			r.logger.Debug().Int("bytes", len(frame)).Msg("data before handshake, discarding")
			if framed {
				r.summary.Discarded += n
				f.pending = f.pending[n:]
				continue
			}
			r.discard(f)
			return nil
		case err != nil:
			return err
		}

		if res.Consumed == 0 {
			r.discard(f)
			return nil
		}

		r.summary.Frames++
		r.summary.Dropped += res.Dropped
		if res.Handshake != nil {
			r.logger.Info().
				Str("identifier", res.Handshake.Identifier).
				Uint8("version", res.Handshake.Version).
				Time("captured", at).
				Msg("handshake")
		}
		for _, p := range res.Positions {
			if err := r.writePosition(p); err != nil {
				return err
			}
			r.summary.Positions++
		}

		f.pending = f.pending[res.Consumed:]
		if res.Truncated {
			r.discard(f)
			return nil
		}
	}
	return nil
}

func (r *Replayer) discard(f *flow) {
	r.summary.Discarded += len(f.pending)
	f.pending = f.pending[:0]
}

func (r *Replayer) writePosition(p *types.Position) error {
	if r.json {
		return json.NewEncoder(r.out).Encode(p)
	}
	_, err := fmt.Fprintln(r.out, FormatPosition(p))
	return err
}

// FormatPosition renders a position as one human readable line
func FormatPosition(p *types.Position) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s lat=%.6f lon=%.6f speed=%.1f course=%.0f alt=%.0f sat=%d",
		p.Time.UTC().Format(time.RFC3339), p.Identifier,
		p.Latitude, p.Longitude, p.Speed, p.Course, p.Altitude, p.Satellites)

	keys := make([]string, 0, len(p.Attributes))
	for k := range p.Attributes {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, p.Attributes[types.AttributeKey(k)])
	}
	return b.String()
}

func main() {
	pcapFile := flag.String("pcap", "", "pcap capture to replay")
	port := flag.Uint("port", defaultPort, "TCP port the devices connect to")
	jsonOut := flag.Bool("json", false, "print positions as JSON lines")
	devicesFile := flag.String("devices", "", "optional YAML device list")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := logging.New("replay", *logLevel, "console")
	logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if *pcapFile == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *port == 0 || *port > 65535 {
		logger.Error().Uint("port", *port).Msg("invalid port")
		os.Exit(2)
	}

	if err := run(*pcapFile, uint16(*port), *devicesFile, *jsonOut, logger); err != nil {
		logger.Error().Err(err).Msg("replay failed")
		os.Exit(1)
	}
}

func run(pcapFile string, port uint16, devicesFile string, jsonOut bool, logger zerolog.Logger) error {
	var devices []*types.Device
	if devicesFile != "" {
		var err error
		if devices, err = config.LoadDevices(devicesFile); err != nil {
			return err
		}
	}

	f, err := os.Open(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open pcap file: %w", err)
	}
	defer f.Close()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	summary, err := NewReplayer(port, devices, out, jsonOut, logger).Run(context.Background(), bufio.NewReader(f))
	logger.Info().
		Int("packets", summary.Packets).
		Int("flows", summary.Flows).
		Int("frames", summary.Frames).
		Int("positions", summary.Positions).
		Int("dropped", summary.Dropped).
		Int("acks", summary.Acks).
		Int("discarded_bytes", summary.Discarded).
		Int("gaps", summary.Gaps).
		Msg("replay complete")
	return err
}
