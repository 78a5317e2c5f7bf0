package parser

import (
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
	"github.com/semihalev/dnswatch/event"
)

const headerSize = 12

var (
	errShortHeader   = errors.New("message shorter than dns header")
	errQuestionBytes = errors.New("question type and class cut off")
	errNoAnswerData  = errors.New("answer count set but answer section is empty")
	errEmptyAnswer   = errors.New("answer record carries no data")
	errNoTransport   = errors.New("no udp or tcp layer")
	errNotDNSPort    = errors.New("no dns port on transport layer")
	errNoPayload     = errors.New("empty transport payload")
)

// Packet decodes DNS wire messages, either bare or inside captured frames.
type Packet struct {
	ports map[uint16]struct{}
}

// NewPacket returns a Packet parser accepting frames on the given DNS ports.
// Port 53 is used when none are given.
func NewPacket(ports ...uint16) *Packet {
	if len(ports) == 0 {
		ports = []uint16{53}
	}

	p := &Packet{ports: make(map[uint16]struct{}, len(ports))}
	for _, port := range ports {
		p.ports[port] = struct{}{}
	}

	return p
}

// Name returns parser name.
func (p *Packet) Name() string { return "packet" }

// Parse implements Parser.
func (p *Packet) Parse(u event.Unit) (event.Event, error) {
	payload, src, dst := u.Data, u.Src, u.Dst

	if u.Link != nil {
		var err error
		if payload, src, dst, err = p.unwrap(u); err != nil {
			return event.Event{}, err
		}
	}

	ev, err := decodeMessage(payload, u.Ref)
	if err != nil {
		return event.Event{}, err
	}

	ev.Src, ev.Dst = src, dst
	ev.Time, ev.Seq, ev.Ref = u.Time, u.Seq, u.Ref

	return ev, nil
}

// unwrap extracts the DNS payload and endpoints from a captured frame.
func (p *Packet) unwrap(u event.Unit) ([]byte, netip.AddrPort, netip.AddrPort, error) {
	var none netip.AddrPort

	pkt := gopacket.NewPacket(u.Data, u.Link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	var srcIP, dstIP netip.Addr
	switch nl := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		srcIP, dstIP = toAddr(nl.SrcIP), toAddr(nl.DstIP)
	case *layers.IPv6:
		srcIP, dstIP = toAddr(nl.SrcIP), toAddr(nl.DstIP)
	}

	var (
		sport, dport uint16
		payload      []byte
	)

	switch tl := pkt.TransportLayer().(type) {
	case *layers.UDP:
		sport, dport = uint16(tl.SrcPort), uint16(tl.DstPort)
		payload = tl.Payload
	case *layers.TCP:
		sport, dport = uint16(tl.SrcPort), uint16(tl.DstPort)
		payload = stripLength(tl.Payload)
	default:
		if el := pkt.ErrorLayer(); el != nil {
			return nil, none, none, event.NewParseError(event.Malformed, u.Ref, el.Error())
		}
		return nil, none, none, event.NewParseError(event.Unsupported, u.Ref, errNoTransport)
	}

	if !p.isDNSPort(sport) && !p.isDNSPort(dport) {
		return nil, none, none, event.NewParseError(event.Unsupported, u.Ref, errNotDNSPort)
	}

	if len(payload) == 0 {
		return nil, none, none, event.NewParseError(event.Unsupported, u.Ref, errNoPayload)
	}

	var src, dst netip.AddrPort
	if srcIP.IsValid() {
		src = netip.AddrPortFrom(srcIP, sport)
	}
	if dstIP.IsValid() {
		dst = netip.AddrPortFrom(dstIP, dport)
	}

	return payload, src, dst, nil
}

func (p *Packet) isDNSPort(port uint16) bool {
	_, ok := p.ports[port]
	return ok
}

// decodeMessage reads the header and first question by hand and decodes only
// the first answer record, so a damaged tail does not hide the question.
func decodeMessage(buf []byte, ref string) (event.Event, error) {
	if len(buf) < headerSize {
		return event.Event{}, event.NewParseError(event.Malformed, ref, errShortHeader)
	}

	id := binary.BigEndian.Uint16(buf[0:2])
	flags := binary.BigEndian.Uint16(buf[2:4])
	qdcount := binary.BigEndian.Uint16(buf[4:6])
	ancount := binary.BigEndian.Uint16(buf[6:8])

	response := flags&(1<<15) != 0
	opcode := int(flags>>11) & 0xF

	if opcode != dns.OpcodeQuery {
		return event.Event{}, event.NewParseError(event.Unsupported, ref, errors.New("opcode "+dns.OpcodeToString[opcode]))
	}

	if qdcount == 0 {
		return event.Event{}, event.NewParseError(event.NoQuestion, ref, nil)
	}

	var (
		name string
		off  = headerSize
	)

	for i := 0; i < int(qdcount); i++ {
		qname, next, err := dns.UnpackDomainName(buf, off)
		if err != nil {
			return event.Event{}, event.NewParseError(event.Malformed, ref, err)
		}
		if next+4 > len(buf) {
			return event.Event{}, event.NewParseError(event.Malformed, ref, errQuestionBytes)
		}
		if i == 0 {
			name = qname
		}
		off = next + 4
	}

	ev := event.Event{
		Backend: event.Packet,
		Name:    event.NormalizeName(name),
		ID:      id,
		HasID:   true,
	}

	if !response {
		ev.Direction = event.Query
		return ev, nil
	}

	ev.Direction = event.Response

	if ancount == 0 {
		return ev, nil
	}

	if off >= len(buf) {
		return event.Event{}, event.NewParseError(event.Truncated, ref, errNoAnswerData)
	}

	rr, _, err := dns.UnpackRR(buf, off)
	if err != nil {
		return event.Event{}, event.NewParseError(event.Truncated, ref, err)
	}

	answer, ok := answerValue(rr)
	if !ok {
		return event.Event{}, event.NewParseError(event.Truncated, ref, errEmptyAnswer)
	}

	ev.Answer, ev.HasAnswer = answer, true

	return ev, nil
}

// answerValue returns the comparable value of an answer record. ok is false
// when the record carries no rdata.
func answerValue(rr dns.RR) (string, bool) {
	switch v := rr.(type) {
	case nil, *dns.RR_Header:
		return "", false
	case *dns.A:
		return ipString(v.A), len(v.A) > 0
	case *dns.AAAA:
		return ipString(v.AAAA), len(v.AAAA) > 0
	case *dns.CNAME:
		return event.NormalizeName(v.Target), true
	case *dns.DNAME:
		return event.NormalizeName(v.Target), true
	case *dns.NS:
		return event.NormalizeName(v.Ns), true
	case *dns.PTR:
		return event.NormalizeName(v.Ptr), true
	case *dns.MX:
		return event.NormalizeName(v.Mx), true
	case *dns.TXT:
		return strings.Join(v.Txt, " "), true
	}

	return strings.TrimSpace(strings.TrimPrefix(rr.String(), rr.Header().String())), true
}

func ipString(ip net.IP) string {
	if len(ip) == 0 {
		return ""
	}
	return ip.String()
}

func toAddr(ip net.IP) netip.Addr {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return addr.Unmap()
}

// stripLength removes the two byte length prefix of DNS over TCP.
func stripLength(payload []byte) []byte {
	if len(payload) < 2 {
		return nil
	}

	n := int(binary.BigEndian.Uint16(payload))
	payload = payload[2:]
	if n < len(payload) {
		payload = payload[:n]
	}

	return payload
}
