package parser

import (
	"regexp"
	"strings"

	"github.com/semihalev/dnswatch/event"
)

// namePattern matches letter/digit/hyphen labels joined by at least one dot.
var namePattern = regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.?`)

// TextLog parses resolver log lines. Every line holding the marker token is a
// response for the first domain name on it; the answer is never visible.
type TextLog struct {
	marker string
}

// NewTextLog returns a TextLog matching marker case-insensitively.
func NewTextLog(marker string) *TextLog {
	return &TextLog{marker: strings.ToLower(marker)}
}

// Name returns parser name.
func (p *TextLog) Name() string { return "text" }

// Parse implements Parser.
func (p *TextLog) Parse(u event.Unit) (event.Event, error) {
	line := string(u.Data)

	if !strings.Contains(strings.ToLower(line), p.marker) {
		return event.Event{}, event.ErrNotApplicable
	}

	name, ok := extractName(line)
	if !ok {
		return event.Event{}, event.NewParseError(event.NoExtractableName, u.Ref, nil)
	}

	return event.Event{
		Direction: event.Response,
		Backend:   event.Text,
		Name:      name,
		Time:      u.Time,
		Seq:       u.Seq,
		Ref:       u.Ref,
	}, nil
}

// extractName returns the first name-shaped substring whose last label has a
// letter, so dotted addresses and version strings are skipped.
func extractName(line string) (string, bool) {
	for _, m := range namePattern.FindAllString(line, -1) {
		name := event.NormalizeName(m)

		tld := name[strings.LastIndexByte(name, '.')+1:]
		if strings.IndexFunc(tld, isLetter) >= 0 {
			return name, true
		}
	}

	return "", false
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
