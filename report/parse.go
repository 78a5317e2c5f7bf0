package report

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/semihalev/dnswatch/classifier"
)

// ErrBadReport is returned by ParseRendered for text it cannot read.
var ErrBadReport = errors.New("malformed report")

// Rendered is an anomaly read back from a rendered report.
type Rendered struct {
	Index    int
	Kind     classifier.Kind
	Key      string
	Count    int
	IPs      []string
	Evidence []classifier.Evidence
	Severity classifier.Severity
}

var (
	reHeading = regexp.MustCompile(`^\[(\d+)\] ([A-Za-z_]+)$`)
	reColor   = regexp.MustCompile("\x1b\\[[0-9;]*m")
)

// ParseRendered reads the anomalies of a report written by Render. Unknown
// fields are ignored; the run statistics block ends the listing.
func ParseRendered(r io.Reader) ([]Rendered, error) {
	var (
		out        []Rendered
		cur        *Rendered
		inEvidence bool
		lineNo     int
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := reColor.ReplaceAllString(sc.Text(), "")

		if strings.HasPrefix(line, "[*] Run statistics") {
			break
		}

		if m := reHeading.FindStringSubmatch(line); m != nil {
			index, _ := strconv.Atoi(m[1])

			var kind classifier.Kind
			if err := kind.UnmarshalText([]byte(m[2])); err != nil {
				return nil, fmt.Errorf("%w: line %d: %w", ErrBadReport, lineNo, err)
			}

			out = append(out, Rendered{Index: index, Kind: kind})
			cur = &out[len(out)-1]
			inEvidence = false
			continue
		}

		if cur == nil || strings.TrimSpace(line) == "" {
			continue
		}

		if inEvidence && strings.HasPrefix(line, subIndent) {
			e, err := parseEvidence(strings.TrimPrefix(line, subIndent))
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %w", ErrBadReport, lineNo, err)
			}
			cur.Evidence = append(cur.Evidence, e)
			continue
		}
		inEvidence = false

		field, value, ok := strings.Cut(strings.TrimPrefix(line, indent), ":")
		if !ok {
			return nil, fmt.Errorf("%w: line %d: %q", ErrBadReport, lineNo, line)
		}
		value = strings.TrimSpace(value)

		var err error
		switch field {
		case "query", "domain":
			cur.Key = value
		case "count":
			cur.Count, err = strconv.Atoi(value)
		case "ips":
			cur.IPs, err = parseList(value)
		case "evidence":
			inEvidence = true
		case "severity":
			err = cur.Severity.UnmarshalText([]byte(value))
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrBadReport, lineNo, err)
		}
	}

	if err := sc.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// token reads one plain or quoted value off the front of s.
func token(s string) (string, string, error) {
	if strings.HasPrefix(s, `"`) {
		q, err := strconv.QuotedPrefix(s)
		if err != nil {
			return "", "", err
		}
		v, err := strconv.Unquote(q)
		return v, s[len(q):], err
	}

	i := strings.IndexAny(s, " ,")
	if i < 0 {
		return s, "", nil
	}
	return s[:i], s[i:], nil
}

func parseList(s string) ([]string, error) {
	var out []string

	for s != "" {
		v, rest, err := token(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)

		if rest != "" && !strings.HasPrefix(rest, ", ") {
			return nil, fmt.Errorf("unexpected %q in list", rest)
		}
		s = strings.TrimPrefix(rest, ", ")
	}

	return out, nil
}

func parseEvidence(s string) (classifier.Evidence, error) {
	var e classifier.Evidence

	answer, rest, err := token(s)
	if err != nil {
		return e, err
	}
	e.Answer = answer

	if after, ok := strings.CutPrefix(rest, " from "); ok {
		addr, tail, _ := strings.Cut(after, " ")
		if e.Source, err = netip.ParseAddr(addr); err != nil {
			return e, err
		}
		rest = " " + tail
	}

	count, tail, ok := strings.Cut(strings.TrimPrefix(rest, " ("), ")")
	if !ok || !strings.HasPrefix(rest, " (") {
		return e, fmt.Errorf("missing count in %q", s)
	}
	if e.Count, err = strconv.Atoi(count); err != nil {
		return e, err
	}

	switch strings.TrimSpace(tail) {
	case "":
	case "trusted":
		e.Trusted = true
	default:
		return e, fmt.Errorf("unexpected %q after count", tail)
	}

	return e, nil
}
