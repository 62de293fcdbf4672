package transfer

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Outcome is the per-object result of a run.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeChanged
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeChanged:
		return "changed"
	case OutcomeFailed:
		return "failed"
	}
	return "ok"
}

// Result is what happened to one object.
type Result struct {
	Type     string   `json:"type"`
	Name     string   `json:"name"`
	Outcome  Outcome  `json:"-"`
	Status   string   `json:"status"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Recap summarizes a run.
type Recap struct {
	OK       int      `json:"ok"`
	Changed  int      `json:"changed"`
	Warnings int      `json:"warnings"`
	Failed   int      `json:"failed"`
	Results  []Result `json:"results"`
}

func (r Recap) String() string {
	return fmt.Sprintf("ok=%d changed=%d warnings=%d failed=%d", r.OK, r.Changed, r.Warnings, r.Failed)
}

// Metrics counts transfer outcomes across runs.
type Metrics struct {
	objects  *prometheus.CounterVec
	warnings *prometheus.CounterVec
}

// NewMetrics creates and registers the transfer counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		objects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "towerxfer",
			Name:      "objects_total",
			Help:      "Objects processed, by operation, asset type and outcome.",
		}, []string{"operation", "type", "outcome"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "towerxfer",
			Name:      "warnings_total",
			Help:      "Warnings raised, by operation.",
		}, []string{"operation"}),
	}
	reg.MustRegister(m.objects, m.warnings)
	return m
}

// Reporter accumulates per-object outcomes and logs each one.
type Reporter struct {
	operation string
	log       zerolog.Logger
	metrics   *Metrics

	mu    sync.Mutex
	recap Recap
}

// NewReporter creates a Reporter for one run of operation
// ("receive", "send" or "empty").
func NewReporter(log zerolog.Logger, operation string) *Reporter {
	return &Reporter{
		operation: operation,
		log:       log.With().Str("operation", operation).Logger(),
	}
}

// WithMetrics makes the reporter also feed m.
func (r *Reporter) WithMetrics(m *Metrics) *Reporter {
	r.metrics = m
	return r
}

// Logger returns the run's logger.
func (r *Reporter) Logger() zerolog.Logger {
	return r.log
}

// Record adds one object's outcome. err is only meaningful for OutcomeFailed.
func (r *Reporter) Record(t AssetType, name string, outcome Outcome, warnings []string, err error) {
	res := Result{Type: string(t), Name: name, Outcome: outcome, Status: outcome.String(), Warnings: warnings}
	if err != nil {
		res.Error = err.Error()
	}

	for _, w := range warnings {
		r.log.Warn().Str("type", res.Type).Str("name", name).Msg(w)
	}
	ev := r.log.Info()
	if outcome == OutcomeFailed {
		ev = r.log.Error().Err(err)
	}
	ev.Str("type", res.Type).Str("name", name).Str("outcome", res.Status).Msg(string(t) + " " + name)

	r.mu.Lock()
	switch outcome {
	case OutcomeOK:
		r.recap.OK++
	case OutcomeChanged:
		r.recap.Changed++
	case OutcomeFailed:
		r.recap.Failed++
	}
	r.recap.Warnings += len(warnings)
	r.recap.Results = append(r.recap.Results, res)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.objects.WithLabelValues(r.operation, res.Type, res.Status).Inc()
		if len(warnings) > 0 {
			r.metrics.warnings.WithLabelValues(r.operation).Add(float64(len(warnings)))
		}
	}
}

// Recap returns the totals so far and logs the recap line.
func (r *Reporter) Recap() *Recap {
	r.mu.Lock()
	out := r.recap
	out.Results = append([]Result(nil), r.recap.Results...)
	r.mu.Unlock()
	r.log.Info().Int("ok", out.OK).Int("changed", out.Changed).Int("warnings", out.Warnings).
		Int("failed", out.Failed).Msg("recap: " + out.String())
	return &out
}
