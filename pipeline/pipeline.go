// Package pipeline runs one input stream through the parser, correlator,
// classifier and report sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/dnswatch/classifier"
	"github.com/semihalev/dnswatch/correlator"
	"github.com/semihalev/dnswatch/event"
	"github.com/semihalev/dnswatch/parser"
	"github.com/semihalev/dnswatch/report"
	"github.com/semihalev/dnswatch/source"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultSweepInterval is the stream time between idle window checks.
const DefaultSweepInterval = time.Second

// ErrAlreadyRun is returned when Run is called twice on one Pipeline.
var ErrAlreadyRun = errors.New("pipeline already run")

// Options configures a Pipeline.
type Options struct {
	Parser     parser.Parser
	Classifier *classifier.Classifier

	Correlator correlator.Options

	// Workers is the number of parse workers, GOMAXPROCS when zero.
	Workers int

	// SweepInterval is how much stream time passes between idle window
	// checks. Only used with a positive Correlator.IdleWindow.
	SweepInterval time.Duration

	// Registerer receives the run metrics. May be nil.
	Registerer prometheus.Registerer
}

// Pipeline owns the state of one run.
type Pipeline struct {
	parser     parser.Parser
	classifier *classifier.Classifier
	correlator *correlator.Correlator
	sink       *report.Sink
	metrics    *metrics

	workers int
	sweep   time.Duration

	skipLog *rate.Limiter
	ran     atomic.Bool
}

// New returns a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Parser == nil {
		return nil, errors.New("pipeline needs a parser")
	}

	if opts.Classifier == nil {
		c, err := classifier.New(classifier.Options{})
		if err != nil {
			return nil, err
		}
		opts.Classifier = c
	}

	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}

	return &Pipeline{
		parser:     opts.Parser,
		classifier: opts.Classifier,
		correlator: correlator.New(opts.Correlator),
		sink:       report.NewSink(),
		metrics:    newMetrics(opts.Registerer),
		workers:    opts.Workers,
		sweep:      opts.SweepInterval,
		skipLog:    rate.NewLimiter(rate.Every(time.Second), 10),
	}, nil
}

// Sink returns the sink anomalies are recorded in.
func (p *Pipeline) Sink() *report.Sink { return p.sink }

type job struct {
	n    uint64
	unit event.Unit
}

type result struct {
	n   uint64
	ref string
	ev  event.Event
	err error
}

// Run reads src to the end, or until ctx is cancelled, and records the
// anomalies found. A cancelled run still finalizes every open transaction
// and returns with Stopped set. A read error ends the run with the
// statistics gathered so far and an error wrapping source.ErrInputUnavailable.
func (p *Pipeline) Run(ctx context.Context, src source.Source) (report.Stats, error) {
	if !p.ran.CompareAndSwap(false, true) {
		return report.Stats{}, ErrAlreadyRun
	}

	st := &state{
		stats: report.Stats{SkippedByKind: make(map[event.ErrorKind]uint64)},
	}

	jobs := make(chan job, p.workers*4)
	results := make(chan result, p.workers*4)

	var stopped bool

	g := new(errgroup.Group)

	g.Go(func() error {
		defer close(jobs)

		var err error
		stopped, err = p.read(ctx, src, jobs)
		return err
	})

	workers := new(errgroup.Group)
	for i := 0; i < p.workers; i++ {
		workers.Go(func() error {
			for j := range jobs {
				ev, err := p.parser.Parse(j.unit)
				results <- result{n: j.n, ref: j.unit.Ref, ev: ev, err: err}
			}
			return nil
		})
	}

	go func() {
		_ = workers.Wait()
		close(results)
	}()

	g.Go(func() error {
		p.sequence(results, st)
		return nil
	})

	if err := g.Wait(); err != nil {
		zlog.Error("Input read failed", "error", err.Error(), "units", st.stats.Units)
		return st.stats, err
	}

	st.stats.Stopped = stopped

	p.finalize(p.correlator.DrainAll(), st)
	p.metrics.live.Set(0)

	p.checkSkips(&st.stats)

	zlog.Info("Run finished", "parser", p.parser.Name(), "units", st.stats.Units, "events", st.stats.Events,
		"skipped", st.stats.Skipped, "transactions", st.stats.Transactions, "anomalies", st.stats.Anomalies,
		"stopped", st.stats.Stopped)

	return st.stats, nil
}

// read feeds jobs until the end of input. It reports whether ctx stopped it.
func (p *Pipeline) read(ctx context.Context, src source.Source, jobs chan<- job) (bool, error) {
	var n uint64

	for {
		u, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				zlog.Info("Input reading stopped", "units", n)
				return true, nil
			}
			return false, fmt.Errorf("%w: %w", source.ErrInputUnavailable, err)
		}

		jobs <- job{n: n, unit: u}
		n++
	}
}

type state struct {
	stats report.Stats

	// stream clock for windowed finalization
	now       time.Time
	lastSweep time.Time
}

// sequence handles parse results in read order, so correlation never
// depends on how work was spread over the workers.
func (p *Pipeline) sequence(results <-chan result, st *state) {
	pending := make(map[uint64]result)
	var next uint64

	for r := range results {
		pending[r.n] = r

		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++

			p.handle(r, st)
		}
	}
}

func (p *Pipeline) handle(r result, st *state) {
	st.stats.Units++
	p.metrics.units.Inc()

	switch {
	case r.err == nil:
		st.stats.Events++
		p.metrics.events.WithLabelValues(r.ev.Direction.String()).Inc()

		p.tick(r.ev.Time, st)
		p.finalize(p.correlator.Ingest(r.ev), st)

	case errors.Is(r.err, event.ErrNotApplicable):
		st.stats.Ignored++
		p.metrics.ignored.Inc()

	default:
		kind := event.KindOf(r.err)

		st.stats.Skipped++
		st.stats.SkippedByKind[kind]++
		p.metrics.skipped.WithLabelValues(kind.String()).Inc()

		if p.skipLog.Allow() {
			zlog.Debug("Unit skipped", "ref", r.ref, "kind", kind.String(), "error", r.err.Error())
		}
	}
}

// tick advances the stream clock and finalizes idle transactions once per
// sweep interval.
func (p *Pipeline) tick(t time.Time, st *state) {
	if p.correlator.IdleWindow() <= 0 || t.IsZero() {
		return
	}

	if t.After(st.now) {
		st.now = t
	}

	if st.lastSweep.IsZero() {
		st.lastSweep = st.now
		return
	}

	if st.now.Sub(st.lastSweep) < p.sweep {
		return
	}
	st.lastSweep = st.now

	txs := p.correlator.DrainExpired(st.now)
	p.finalize(txs, st)
	p.metrics.live.Set(float64(p.correlator.Len()))

	if len(txs) > 0 {
		zlog.Debug("Idle transactions finalized", "count", len(txs), "open", p.correlator.Len())
	}
}

func (p *Pipeline) finalize(txs []correlator.Transaction, st *state) {
	for _, tx := range txs {
		st.stats.Transactions++
		p.metrics.transactions.Inc()

		a, ok := p.classifier.Classify(tx)
		if !ok {
			continue
		}

		p.sink.Record(a)
		st.stats.Anomalies++
		p.metrics.anomalies.WithLabelValues(a.Kind.String(), a.Severity.String()).Inc()

		zlog.Warn("Anomaly detected", "kind", a.Kind.String(), "key", a.Key.String(),
			"severity", a.Severity.String(), "responses", a.Count)
	}
}

// checkSkips warns when most applicable units failed to parse.
func (p *Pipeline) checkSkips(stats *report.Stats) {
	applicable := stats.Events + stats.Skipped
	if applicable == 0 || stats.Skipped*2 <= applicable {
		return
	}

	zlog.Warn("More than half of the input failed to parse", "skipped", stats.Skipped, "events", stats.Events)
}
