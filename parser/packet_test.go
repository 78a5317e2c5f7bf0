package parser

import (
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
	"github.com/semihalev/dnswatch/config"
	"github.com/semihalev/dnswatch/event"
	"github.com/semihalev/dnswatch/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	client   = netip.MustParseAddrPort("192.168.1.10:40000")
	resolver = netip.MustParseAddrPort("10.0.0.53:53")
	forger   = netip.MustParseAddrPort("203.0.113.66:53")
)

func bare(data []byte) event.Unit {
	return event.Unit{Seq: 1, Time: time.Unix(1700000000, 0), Ref: "capture#1", Data: data}
}

func framed(data []byte) event.Unit {
	u := bare(data)
	u.Link = layers.LinkTypeEthernet
	return u
}

func TestPacket_Query(t *testing.T) {
	p := NewPacket()

	ev, err := p.Parse(bare(mock.Query("WWW.Example.com", 0x1234)))
	require.NoError(t, err)

	assert.Equal(t, event.Query, ev.Direction)
	assert.Equal(t, event.Packet, ev.Backend)
	assert.Equal(t, "www.example.com", ev.Name)
	assert.True(t, ev.HasID)
	assert.Equal(t, uint16(0x1234), ev.ID)
	assert.False(t, ev.HasAnswer)
	assert.NoError(t, ev.Validate())
}

func TestPacket_ResponseAnswers(t *testing.T) {
	p := NewPacket()

	ev, err := p.Parse(bare(mock.Response("www.example.com", 7, "10.0.1.20", "10.0.1.21")))
	require.NoError(t, err)
	assert.Equal(t, event.Response, ev.Direction)
	assert.True(t, ev.HasAnswer)
	assert.Equal(t, "10.0.1.20", ev.Answer, "first answer record wins")

	ev, err = p.Parse(bare(mock.Response("www.example.com", 7, "2001:db8::1")))
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1", ev.Answer)

	ev, err = p.Parse(bare(mock.Response("www.example.com", 7, "Edge.Example.NET")))
	require.NoError(t, err)
	assert.Equal(t, "edge.example.net", ev.Answer)
}

func TestPacket_ResponseWithoutAnswers(t *testing.T) {
	p := NewPacket()

	ev, err := p.Parse(bare(mock.Response("nx.example.com", 9)))
	require.NoError(t, err)
	assert.Equal(t, event.Response, ev.Direction)
	assert.False(t, ev.HasAnswer)
}

func TestPacket_Truncated(t *testing.T) {
	p := NewPacket()

	_, err := p.Parse(bare(mock.TruncatedResponse("www.example.com", 9, 2)))
	assert.ErrorIs(t, err, event.ErrTruncated)

	// answer header present but record data cut off
	data := mock.Response("www.example.com", 9, "10.0.1.20")
	_, err = p.Parse(bare(data[:len(data)-3]))
	assert.ErrorIs(t, err, event.ErrTruncated)
}

func TestPacket_NoQuestion(t *testing.T) {
	_, err := NewPacket().Parse(bare(mock.NoQuestion(1)))
	assert.ErrorIs(t, err, event.ErrNoQuestion)
}

func TestPacket_Malformed(t *testing.T) {
	p := NewPacket()

	_, err := p.Parse(bare([]byte{0x12, 0x34, 0x81}))
	assert.ErrorIs(t, err, event.ErrMalformed)

	data := mock.Query("www.example.com", 1)
	_, err = p.Parse(bare(data[:14]))
	assert.ErrorIs(t, err, event.ErrMalformed)

	_, err = p.Parse(bare(data[:len(data)-2]))
	assert.ErrorIs(t, err, event.ErrMalformed)
}

func TestPacket_UnsupportedOpcode(t *testing.T) {
	_, err := NewPacket().Parse(bare(mock.Notify("example.com")))
	assert.ErrorIs(t, err, event.ErrUnsupported)
}

func TestPacket_UDPFrame(t *testing.T) {
	p := NewPacket()

	ev, err := p.Parse(framed(mock.UDPFrame(forger, client, mock.Response("www.example.com", 7, "10.0.100.100"))))
	require.NoError(t, err)

	assert.Equal(t, forger, ev.Src)
	assert.Equal(t, client, ev.Dst)
	assert.Equal(t, "10.0.100.100", ev.Answer)
	assert.Equal(t, "203.0.113.66", ev.Source().String())
}

func TestPacket_IPv6Frame(t *testing.T) {
	src := netip.MustParseAddrPort("[2001:db8::53]:53")
	dst := netip.MustParseAddrPort("[2001:db8::10]:50000")

	ev, err := NewPacket().Parse(framed(mock.UDPFrame(src, dst, mock.Response("v6.example.com", 3, "2001:db8::80"))))
	require.NoError(t, err)

	assert.Equal(t, src, ev.Src)
	assert.Equal(t, "2001:db8::80", ev.Answer)
}

func TestPacket_TCPFrame(t *testing.T) {
	ev, err := NewPacket().Parse(framed(mock.TCPFrame(resolver, client, mock.Response("tcp.example.com", 5, "10.0.0.7"))))
	require.NoError(t, err)

	assert.Equal(t, "tcp.example.com", ev.Name)
	assert.Equal(t, "10.0.0.7", ev.Answer)
	assert.Equal(t, resolver, ev.Src)
}

func TestPacket_UnsupportedFrames(t *testing.T) {
	p := NewPacket()

	_, err := p.Parse(framed(mock.ARPFrame()))
	assert.ErrorIs(t, err, event.ErrUnsupported)

	web := netip.MustParseAddrPort("10.0.0.80:80")
	_, err = p.Parse(framed(mock.UDPFrame(client, web, []byte("GET / HTTP/1.1"))))
	assert.ErrorIs(t, err, event.ErrUnsupported)
}

func TestPacket_CustomPorts(t *testing.T) {
	mdns := netip.MustParseAddrPort("10.0.0.9:5353")
	frame := mock.UDPFrame(mdns, client, mock.Response("printer.example.local", 0, "10.0.0.9"))

	_, err := NewPacket().Parse(framed(frame))
	assert.ErrorIs(t, err, event.ErrUnsupported)

	ev, err := NewPacket(53, 5353).Parse(framed(frame))
	require.NoError(t, err)
	assert.Equal(t, "printer.example.local", ev.Name)
}

func TestPacket_TruncatedFrame(t *testing.T) {
	frame := mock.UDPFrame(resolver, client, mock.TruncatedResponse("www.example.com", 11, 2))

	_, err := NewPacket().Parse(framed(frame))
	assert.ErrorIs(t, err, event.ErrTruncated)
}

func TestPacket_OutOfBandEndpoints(t *testing.T) {
	u := bare(mock.Response("www.example.com", 1, "10.0.1.20"))
	u.Src, u.Dst = resolver, client

	ev, err := NewPacket().Parse(u)
	require.NoError(t, err)
	assert.Equal(t, resolver, ev.Src)
	assert.Equal(t, client, ev.Dst)
}

func TestAnswerValue(t *testing.T) {
	rr, err := dns.NewRR("example.com. 300 IN MX 10 Mail.Example.com.")
	require.NoError(t, err)
	v, ok := answerValue(rr)
	assert.True(t, ok)
	assert.Equal(t, "mail.example.com", v)

	rr, err = dns.NewRR(`example.com. 300 IN TXT "v=spf1" "-all"`)
	require.NoError(t, err)
	v, ok = answerValue(rr)
	assert.True(t, ok)
	assert.Equal(t, "v=spf1 -all", v)

	rr, err = dns.NewRR("example.com. 300 IN SRV 0 5 5060 sip.example.com.")
	require.NoError(t, err)
	v, ok = answerValue(rr)
	assert.True(t, ok)
	assert.Equal(t, "0 5 5060 sip.example.com.", v)

	v, ok = answerValue(&dns.TXT{Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeTXT, Class: dns.ClassINET}, Txt: []string{""}})
	assert.True(t, ok)
	assert.Equal(t, "", v)

	_, ok = answerValue(nil)
	assert.False(t, ok)

	_, ok = answerValue(&dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET})
	assert.False(t, ok)
}

func txtResponse(t *testing.T, txt []string) []byte {
	t.Helper()

	m := mock.ResponseMsg("txt.example.com", 11)
	m.Answer = append(m.Answer, &dns.TXT{
		Hdr: dns.RR_Header{Name: "txt.example.com.", Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 300},
		Txt: txt,
	})

	data, err := m.Pack()
	require.NoError(t, err)
	return data
}

func TestPacket_EmptyTXTAnswer(t *testing.T) {
	ev, err := NewPacket().Parse(bare(txtResponse(t, []string{""})))
	require.NoError(t, err)
	assert.True(t, ev.HasAnswer)
	assert.Equal(t, "", ev.Answer)
	assert.NoError(t, ev.Validate())

	ev, err = NewPacket().Parse(bare(txtResponse(t, []string{"v=spf1", "-all"})))
	require.NoError(t, err)
	assert.Equal(t, "v=spf1 -all", ev.Answer)
}

func TestPacket_AnswerWithoutRdata(t *testing.T) {
	m := mock.ResponseMsg("empty.example.com", 12)
	m.Answer = append(m.Answer, &dns.A{Hdr: dns.RR_Header{Name: "empty.example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300}})

	data, err := m.Pack()
	require.NoError(t, err)

	_, err = NewPacket().Parse(bare(data))
	assert.ErrorIs(t, err, event.ErrTruncated)
}

func TestNew(t *testing.T) {
	cfg := config.Default("0.0.0")

	p, err := New(config.FormatLog, cfg)
	require.NoError(t, err)
	assert.Equal(t, "text", p.Name())

	p, err = New(config.FormatDnstap, cfg)
	require.NoError(t, err)
	assert.Equal(t, "packet", p.Name())

	_, err = New(config.FormatAuto, cfg)
	assert.Error(t, err)
}
