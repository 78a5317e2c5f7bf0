// Package event defines the observations dnswatch correlates: raw input
// units as read from a source, and the normalized events parsers turn them into.
package event

import (
	"errors"
	"net/netip"
	"strings"
	"time"

	"github.com/google/gopacket"
)

// Direction of an observed DNS message.
type Direction uint8

const (
	// Query is a message with the QR bit clear.
	Query Direction = iota
	// Response is a message with the QR bit set, or a resolver log line
	// describing a completed response.
	Response
)

func (d Direction) String() string {
	if d == Response {
		return "response"
	}
	return "query"
}

// Backend identifies the parser that produced an event.
type Backend uint8

const (
	// Text events come from free-form resolver log lines.
	Text Backend = iota
	// Packet events come from decoded DNS wire messages.
	Packet
)

func (b Backend) String() string {
	if b == Packet {
		return "packet"
	}
	return "text"
}

// Unit is one raw input unit: a log line, a captured frame or a bare DNS
// message carried by dnstap.
type Unit struct {
	// Seq is the ingestion order within one source, starting at 1.
	Seq  uint64
	Time time.Time
	Ref  string
	Data []byte

	// Link decodes Data as a captured frame. Nil when Data is a bare DNS message.
	Link gopacket.Decoder

	// Src and Dst are set by sources that carry endpoints outside Data.
	Src netip.AddrPort
	Dst netip.AddrPort
}

// Event is one decoded observation.
type Event struct {
	Direction Direction
	Backend   Backend

	// Name is lower-cased without the trailing dot.
	Name string

	ID    uint16
	HasID bool

	Src netip.AddrPort
	Dst netip.AddrPort

	Answer    string
	HasAnswer bool

	Time time.Time
	Seq  uint64
	Ref  string
}

var (
	errQueryAnswer = errors.New("query event carries an answer")
	errEmptyName   = errors.New("event has an empty name")
	errTextDetails = errors.New("text event carries packet-only fields")
)

// Validate reports a violation of the event invariants.
func (e *Event) Validate() error {
	if e.Name == "" {
		return errEmptyName
	}

	if e.Direction == Query && e.HasAnswer {
		return errQueryAnswer
	}

	if e.Backend == Text && (e.HasID || e.HasAnswer || e.Src.IsValid() || e.Dst.IsValid()) {
		return errTextDetails
	}

	return nil
}

// Source returns the address the message came from, or the zero Addr.
func (e *Event) Source() netip.Addr {
	if !e.Src.IsValid() {
		return netip.Addr{}
	}
	return e.Src.Addr()
}

// NormalizeName lower-cases name and removes a single trailing dot.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	if len(name) > 1 {
		name = strings.TrimSuffix(name, ".")
	}
	return name
}
