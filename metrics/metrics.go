// Package metrics exports limiter decisions to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codetesla51/entitylimit/limiter"
)

// Metrics counts admission decisions per limiter and outcome. It implements
// limiter.Observer. Entity ids are not used as labels.
type Metrics struct {
	decisions *prometheus.CounterVec
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitylimit_decisions_total",
				Help: "Total number of admission decisions by outcome",
			},
			[]string{"limiter", "outcome"},
		),
	}
	if err := reg.Register(m.decisions); err != nil {
		return nil, err
	}
	return m, nil
}

// Observer returns a limiter.Observer that records under the given limiter name.
func (m *Metrics) Observer(name string) limiter.Observer {
	return observer{
		admitted: m.decisions.WithLabelValues(name, limiter.Admitted.String()),
		denied:   m.decisions.WithLabelValues(name, limiter.Denied.String()),
		notFound: m.decisions.WithLabelValues(name, limiter.NotFound.String()),
	}
}

// TrackEntities registers a gauge reporting l.Len() at scrape time.
func TrackEntities(reg prometheus.Registerer, l *limiter.Limiter) error {
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "entitylimit_entities",
			Help:        "Number of registered entities",
			ConstLabels: prometheus.Labels{"limiter": l.Name()},
		},
		func() float64 { return float64(l.Len()) },
	))
}

type observer struct {
	admitted prometheus.Counter
	denied   prometheus.Counter
	notFound prometheus.Counter
}

func (o observer) Observe(_ string, outcome limiter.Outcome) {
	switch outcome {
	case limiter.Admitted:
		o.admitted.Inc()
	case limiter.Denied:
		o.denied.Inc()
	default:
		o.notFound.Inc()
	}
}
