package report

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/semihalev/dnswatch/classifier"
	"github.com/semihalev/dnswatch/event"
)

const (
	indent    = "    "
	subIndent = indent + indent
)

type palette struct {
	header   *color.Color
	kind     *color.Color
	severity map[classifier.Severity]*color.Color
}

func newPalette(enabled bool) *palette {
	p := &palette{
		header: color.New(color.FgCyan, color.Bold),
		kind:   color.New(color.FgWhite, color.Bold),
		severity: map[classifier.Severity]*color.Color{
			classifier.Critical: color.New(color.FgRed, color.Bold),
			classifier.High:     color.New(color.FgRed),
			classifier.Medium:   color.New(color.FgYellow),
			classifier.Low:      color.New(color.FgGreen),
		},
	}

	all := []*color.Color{p.header, p.kind}
	for _, c := range p.severity {
		all = append(all, c)
	}
	for _, c := range all {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	return p
}

func (p *palette) sev(s classifier.Severity) string {
	if c, ok := p.severity[s]; ok {
		return c.Sprint(s.String())
	}
	return s.String()
}

// Render writes the human readable report followed by the run statistics.
func (s *Sink) Render(w io.Writer, stats Stats) error {
	s.mu.Lock()
	p := newPalette(s.color)
	s.mu.Unlock()

	records := s.grouped()

	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, p.header.Sprint("[*] Detection Results:"))
	fmt.Fprintf(bw, "%sFound %d anomalies\n", indent, len(records))

	for i, a := range records {
		fmt.Fprintln(bw)
		fmt.Fprintf(bw, "[%d] %s\n", i+1, p.kind.Sprint(strings.ToUpper(a.Kind.String())))

		switch a.Kind {
		case classifier.ConflictingResponses:
			fmt.Fprintf(bw, "%squery: %s\n", indent, a.Key)

			answers := a.Answers()
			quoted := make([]string, len(answers))
			for j, ans := range answers {
				quoted[j] = quote(ans)
			}
			fmt.Fprintf(bw, "%sips: %s\n", indent, strings.Join(quoted, ", "))

			fmt.Fprintf(bw, "%sevidence:\n", indent)
			for _, e := range a.Evidence {
				fmt.Fprintf(bw, "%s%s\n", subIndent, evidenceLine(e))
			}
		default:
			fmt.Fprintf(bw, "%sdomain: %s\n", indent, a.Key)
			fmt.Fprintf(bw, "%scount: %d\n", indent, a.Count)
		}

		fmt.Fprintf(bw, "%sseverity: %s\n", indent, p.sev(a.Severity))
	}

	fmt.Fprintln(bw)
	renderStats(bw, p, stats)

	return bw.Flush()
}

func renderStats(w io.Writer, p *palette, stats Stats) {
	fmt.Fprintln(w, p.header.Sprint("[*] Run statistics:"))
	fmt.Fprintf(w, "%sunits: %d\n", indent, stats.Units)
	fmt.Fprintf(w, "%sevents: %d\n", indent, stats.Events)
	fmt.Fprintf(w, "%signored: %d\n", indent, stats.Ignored)
	fmt.Fprintf(w, "%sskipped: %d\n", indent, stats.Skipped)
	for _, kind := range event.Kinds {
		if n := stats.SkippedByKind[kind]; n > 0 {
			fmt.Fprintf(w, "%s%s: %d\n", subIndent, kind, n)
		}
	}
	fmt.Fprintf(w, "%stransactions: %d\n", indent, stats.Transactions)
	fmt.Fprintf(w, "%sanomalies: %d\n", indent, stats.Anomalies)
	if stats.Stopped {
		fmt.Fprintf(w, "%sstopped: true\n", indent)
	}
}

func evidenceLine(e classifier.Evidence) string {
	var sb strings.Builder

	sb.WriteString(quote(e.Answer))
	if e.Source.IsValid() {
		sb.WriteString(" from ")
		sb.WriteString(e.Source.String())
	}
	sb.WriteString(" (")
	sb.WriteString(strconv.Itoa(e.Count))
	sb.WriteString(")")
	if e.Trusted {
		sb.WriteString(" trusted")
	}

	return sb.String()
}

// quote leaves plain answers as they are and quotes those a reader could
// not split back apart.
func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " ,\"()") {
		return strconv.Quote(s)
	}
	for _, r := range s {
		if !strconv.IsPrint(r) {
			return strconv.Quote(s)
		}
	}
	return s
}
