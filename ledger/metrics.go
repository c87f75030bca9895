package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus counters fed by every ledger that uses them.
// One Metrics value is shared by all runs of a process.
type Metrics struct {
	CostUSD      *prometheus.CounterVec
	TokensTotal  *prometheus.CounterVec
	AudioSeconds prometheus.Counter
}

// NewMetrics registers the ledger counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CostUSD: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pfeedback_cost_usd_total",
				Help: "Accumulated estimated cost per service in USD",
			},
			[]string{"service"},
		),
		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pfeedback_tokens_total",
				Help: "Model tokens metered per tier",
			},
			[]string{"tier", "direction"},
		),
		AudioSeconds: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pfeedback_audio_seconds_total",
				Help: "Seconds of audio sent to transcription",
			},
		),
	}
}

func (m *Metrics) observeTranscription(seconds, cost float64) {
	if m == nil {
		return
	}
	m.AudioSeconds.Add(seconds)
	m.CostUSD.WithLabelValues(TranscriptionService).Add(cost)
}

func (m *Metrics) observeModel(tier string, in, out int, cost float64) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues(tier, "input").Add(float64(in))
	m.TokensTotal.WithLabelValues(tier, "output").Add(float64(out))
	m.CostUSD.WithLabelValues(tier).Add(cost)
}
