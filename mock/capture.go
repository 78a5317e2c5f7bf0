package mock

import (
	"bytes"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Capture accumulates ethernet frames into an in-memory pcap file.
type Capture struct {
	buf  bytes.Buffer
	w    *pcapgo.Writer
	next time.Time
}

// NewCapture return an empty capture whose first packet is stamped at start
func NewCapture(start time.Time) *Capture {
	c := &Capture{next: start}
	c.w = pcapgo.NewWriter(&c.buf)

	if err := c.w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		panic(err)
	}

	return c
}

// Add append a frame one millisecond after the previous one
func (c *Capture) Add(frame []byte) *Capture {
	return c.AddAt(c.next, frame)
}

// AddAt append a frame with the given timestamp
func (c *Capture) AddAt(ts time.Time, frame []byte) *Capture {
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(frame), Length: len(frame)}
	if err := c.w.WritePacket(ci, frame); err != nil {
		panic(err)
	}

	c.next = ts.Add(time.Millisecond)

	return c
}

// UDP append a UDP frame carrying payload
func (c *Capture) UDP(src, dst string, payload []byte) *Capture {
	return c.Add(UDPFrame(netip.MustParseAddrPort(src), netip.MustParseAddrPort(dst), payload))
}

// Bytes return the pcap file contents
func (c *Capture) Bytes() []byte {
	return c.buf.Bytes()
}

// Reader return a reader over the pcap file contents
func (c *Capture) Reader() *bytes.Reader {
	return bytes.NewReader(c.buf.Bytes())
}

// NgCapture return frames as an in-memory pcapng file
func NgCapture(start time.Time, frames ...[]byte) []byte {
	var buf bytes.Buffer

	w, err := pcapgo.NewNgWriter(&buf, layers.LinkTypeEthernet)
	if err != nil {
		panic(err)
	}

	for i, frame := range frames {
		ts := start.Add(time.Duration(i) * time.Millisecond)
		ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(frame), Length: len(frame), InterfaceIndex: 0}
		if err := w.WritePacket(ci, frame); err != nil {
			panic(err)
		}
	}

	if err := w.Flush(); err != nil {
		panic(err)
	}

	return buf.Bytes()
}
