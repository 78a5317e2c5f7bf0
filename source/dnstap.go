package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	dnstap "github.com/dnstap/golang-dnstap"
	framestream "github.com/farsightsec/golang-framestream"
	"github.com/semihalev/dnswatch/event"
	"google.golang.org/protobuf/proto"
)

const dnstapContentType = "protobuf:dnstap.Dnstap"

// Dnstap reads DNS messages out of a dnstap frame stream file. Query and
// response endpoints travel beside the wire message and are set on the unit.
type Dnstap struct {
	dec    *framestream.Decoder
	closer io.Closer
	name   string
	frame  uint64
	seq    uint64
}

// NewDnstap returns a source over the frame stream in r.
func NewDnstap(r io.Reader, name string) (*Dnstap, error) {
	return newDnstap(bufio.NewReader(r), closerOf(r), name)
}

func newDnstap(br *bufio.Reader, closer io.Closer, name string) (*Dnstap, error) {
	if _, err := br.Peek(1); errors.Is(err, io.EOF) {
		return &Dnstap{closer: closer, name: name}, nil
	}

	dec, err := framestream.NewDecoder(br, &framestream.DecoderOptions{
		ContentType: []byte(dnstapContentType),
	})
	if err != nil {
		return nil, fmt.Errorf("open frame stream: %w", err)
	}

	return &Dnstap{dec: dec, closer: closer, name: name}, nil
}

// Next implements Source. Frames that are not dnstap messages are skipped;
// frames that fail to decode become empty units so they are counted as
// malformed downstream.
func (d *Dnstap) Next(ctx context.Context) (event.Unit, error) {
	if d.dec == nil {
		return event.Unit{}, io.EOF
	}

	for {
		if err := ctx.Err(); err != nil {
			return event.Unit{}, err
		}

		buf, err := d.dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return event.Unit{}, io.EOF
			}
			return event.Unit{}, err
		}

		d.frame++

		var dt dnstap.Dnstap
		if err := proto.Unmarshal(buf, &dt); err != nil {
			return d.unit(), nil
		}

		if dt.Message == nil {
			continue
		}

		u := d.unit()
		fill(&u, dt.Message)

		return u, nil
	}
}

func (d *Dnstap) unit() event.Unit {
	d.seq++
	return event.Unit{
		Seq: d.seq,
		Ref: fmt.Sprintf("%s#%d", d.name, d.frame),
	}
}

// fill copies the wire message, timestamp and endpoints of msg into u.
func fill(u *event.Unit, msg *dnstap.Message) {
	query := addrPort(msg.GetQueryAddress(), msg.GetQueryPort())
	response := addrPort(msg.GetResponseAddress(), msg.GetResponsePort())

	// dnstap message types alternate query (odd) and response (even)
	if msg.GetType()%2 == 1 {
		u.Data = msg.GetQueryMessage()
		u.Time = stamp(msg.GetQueryTimeSec(), msg.GetQueryTimeNsec())
		u.Src, u.Dst = query, response
		return
	}

	u.Data = msg.GetResponseMessage()
	u.Time = stamp(msg.GetResponseTimeSec(), msg.GetResponseTimeNsec())
	u.Src, u.Dst = response, query
}

func addrPort(ip []byte, port uint32) netip.AddrPort {
	addr, ok := netip.AddrFromSlice(net.IP(ip))
	if !ok {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(port)) //nolint:gosec // ports fit in 16 bits
}

func stamp(sec uint64, nsec uint32) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), int64(nsec)).UTC() //nolint:gosec // seconds since epoch
}

// Close closes the underlying reader.
func (d *Dnstap) Close() error {
	return d.closer.Close()
}
