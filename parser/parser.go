// Package parser turns raw input units into normalized DNS events.
//
// Two backends share the same output shape:
//   - TextLog reads free-form resolver log lines and only ever sees names.
//   - Packet decodes DNS wire messages, optionally wrapped in captured frames,
//     and sees transaction IDs, endpoints and answers.
package parser

import (
	"fmt"

	"github.com/semihalev/dnswatch/config"
	"github.com/semihalev/dnswatch/event"
)

// Parser decodes one raw unit. Parse is pure and safe for concurrent use.
// Failures are *event.ParseError values; event.ErrNotApplicable marks units
// the backend does not read.
type Parser interface {
	Name() string
	Parse(u event.Unit) (event.Event, error)
}

// New returns the parser serving the given input format.
func New(format string, cfg *config.Config) (Parser, error) {
	switch format {
	case config.FormatLog:
		return NewTextLog(cfg.Marker), nil
	case config.FormatPcap, config.FormatDnstap:
		return NewPacket(cfg.Ports()...), nil
	}
	return nil, fmt.Errorf("no parser for input format %q", format)
}
