package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/semihalev/dnswatch/event"
	"github.com/semihalev/zlog/v2"
)

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Pcap reads captured frames from a pcap or pcapng file.
type Pcap struct {
	r      packetReader
	closer io.Closer
	name   string
	seq    uint64
}

// NewPcap returns a source over the capture in r.
func NewPcap(r io.Reader, name string) (*Pcap, error) {
	return newPcap(bufio.NewReader(r), closerOf(r), name)
}

func newPcap(br *bufio.Reader, closer io.Closer, name string) (*Pcap, error) {
	magic, err := br.Peek(4)
	if err != nil {
		if errors.Is(err, io.EOF) && len(magic) == 0 {
			return &Pcap{closer: closer, name: name}, nil
		}
		return nil, fmt.Errorf("read capture header: %w", err)
	}

	var r packetReader
	if isPcapNgMagic(magic) {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}

	return &Pcap{r: r, closer: closer, name: name}, nil
}

// Next implements Source.
func (p *Pcap) Next(ctx context.Context) (event.Unit, error) {
	if err := ctx.Err(); err != nil {
		return event.Unit{}, err
	}

	if p.r == nil {
		return event.Unit{}, io.EOF
	}

	data, ci, err := p.r.ReadPacketData()
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// a capture cut off mid-packet, usually a killed tcpdump
			zlog.Warn("Capture ends with a partial packet", "source", p.name, "packets", p.seq)
			return event.Unit{}, io.EOF
		}
		return event.Unit{}, err
	}

	p.seq++

	return event.Unit{
		Seq:  p.seq,
		Time: ci.Timestamp,
		Ref:  fmt.Sprintf("%s#%d", p.name, p.seq),
		Data: data,
		Link: p.r.LinkType(),
	}, nil
}

// Close closes the underlying reader.
func (p *Pcap) Close() error {
	return p.closer.Close()
}
