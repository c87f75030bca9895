// Package ledger accumulates metered usage (audio seconds, model tokens) into
// a running cost per service for a single pipeline run.
package ledger

import (
	"fmt"
	"math"
	"sort"
	"sync"

	pferrors "github.com/ryuki-imachi/prezentation-feedback-agent/errors"
)

// TranscriptionService is the ledger key for the speech-to-text backend.
const TranscriptionService = "transcription"

// Default rates in USD.
const (
	DefaultTranscriptionPerSecond = 0.0004 // $0.024/min
)

// TierRate prices a language-model tier per 1000 tokens.
type TierRate struct {
	InputPer1K  float64 `json:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" yaml:"output_per_1k"`
}

// Pricing is the rate table a ledger is created with.
type Pricing struct {
	TranscriptionPerSecond float64             `json:"transcription_per_second" yaml:"transcription_per_second"`
	Tiers                  map[string]TierRate `json:"tiers" yaml:"tiers"`
}

// DefaultPricing returns the reference rates: a light tier and a heavy tier.
func DefaultPricing() Pricing {
	return Pricing{
		TranscriptionPerSecond: DefaultTranscriptionPerSecond,
		Tiers: map[string]TierRate{
			"nova_lite":     {InputPer1K: 0.00006, OutputPer1K: 0.00024},
			"claude_sonnet": {InputPer1K: 0.003, OutputPer1K: 0.015},
		},
	}
}

// TierNames returns the configured tiers in lexical order.
func (p Pricing) TierNames() []string {
	names := make([]string, 0, len(p.Tiers))
	for n := range p.Tiers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Entry is one recorded event.
type Entry struct {
	Service      string  `json:"service"`
	DurationSec  float64 `json:"duration_sec,omitempty"`
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd"`
}

// Ledger is append-only; there is no way to subtract or roll back a cost.
// It is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	pricing Pricing
	costs   map[string]float64
	entries []Entry
	metrics *Metrics
}

type Option func(*Ledger)

// WithMetrics mirrors every recorded cost into prometheus counters.
func WithMetrics(m *Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func New(p Pricing, opts ...Option) *Ledger {
	l := &Ledger{pricing: p, costs: map[string]float64{TranscriptionService: 0}}
	for name := range p.Tiers {
		l.costs[name] = 0
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// RecordTranscription adds seconds * transcription rate.
func (l *Ledger) RecordTranscription(seconds float64) error {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("ledger: transcription seconds %v: %w", seconds, pferrors.ErrInvalidInput)
	}
	cost := seconds * l.pricing.TranscriptionPerSecond

	l.mu.Lock()
	l.costs[TranscriptionService] += cost
	l.entries = append(l.entries, Entry{Service: TranscriptionService, DurationSec: seconds, CostUSD: cost})
	l.mu.Unlock()

	l.metrics.observeTranscription(seconds, cost)
	return nil
}

// RecordModelUsage adds (in/1000)*input rate + (out/1000)*output rate for tier.
func (l *Ledger) RecordModelUsage(tier string, inputTokens, outputTokens int) error {
	rate, ok := l.pricing.Tiers[tier]
	if !ok {
		return fmt.Errorf("ledger: tier %q: %w", tier, pferrors.ErrUnknownTier)
	}
	if inputTokens < 0 || outputTokens < 0 {
		return fmt.Errorf("ledger: negative token count (%d, %d): %w", inputTokens, outputTokens, pferrors.ErrInvalidInput)
	}
	cost := ModelCost(rate, inputTokens, outputTokens)

	l.mu.Lock()
	l.costs[tier] += cost
	l.entries = append(l.entries, Entry{Service: tier, InputTokens: inputTokens, OutputTokens: outputTokens, CostUSD: cost})
	l.mu.Unlock()

	l.metrics.observeModel(tier, inputTokens, outputTokens, cost)
	return nil
}

// ModelCost prices a single model call.
func ModelCost(rate TierRate, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*rate.InputPer1K + float64(outputTokens)/1000*rate.OutputPer1K
}

// Entries returns a copy of the recorded events in recording order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ServiceSummary is the per-service part of a Summary.
type ServiceSummary struct {
	Service      string  `json:"service" yaml:"service"`
	DurationSec  float64 `json:"duration_sec,omitempty" yaml:"duration_sec,omitempty"`
	InputTokens  int     `json:"input_tokens,omitempty" yaml:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty" yaml:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd" yaml:"cost_usd"`
}

// Summary is a point-in-time view of the ledger.
type Summary struct {
	Services     []ServiceSummary `json:"services" yaml:"services"`
	TotalCostUSD float64          `json:"total_cost_usd" yaml:"total_cost_usd"`
}

// Service looks up a service by name.
func (s Summary) Service(name string) (ServiceSummary, bool) {
	for _, ss := range s.Services {
		if ss.Service == name {
			return ss, true
		}
	}
	return ServiceSummary{}, false
}

// Summary sums raw quantities per service from the recorded entries and rounds
// each cost, and the grand total, to 4 decimal places. The total is computed
// from the unrounded per-service costs.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	byService := map[string]*ServiceSummary{}
	for name := range l.costs {
		byService[name] = &ServiceSummary{Service: name}
	}
	for _, e := range l.entries {
		ss := byService[e.Service]
		ss.DurationSec += e.DurationSec
		ss.InputTokens += e.InputTokens
		ss.OutputTokens += e.OutputTokens
	}

	names := make([]string, 0, len(l.costs))
	for name := range l.costs {
		if name != TranscriptionService {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	names = append([]string{TranscriptionService}, names...)

	out := Summary{Services: make([]ServiceSummary, 0, len(names))}
	total := 0.0
	for _, name := range names {
		ss := byService[name]
		ss.CostUSD = Round4(l.costs[name])
		total += l.costs[name]
		out.Services = append(out.Services, *ss)
	}
	out.TotalCostUSD = Round4(total)
	return out
}

// Round4 rounds to 4 decimal places.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
