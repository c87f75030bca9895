package pipeline

import (
	"context"

	"github.com/ryuki-imachi/prezentation-feedback-agent/agents"
	"github.com/ryuki-imachi/prezentation-feedback-agent/clients"
	"github.com/ryuki-imachi/prezentation-feedback-agent/config"
	"github.com/ryuki-imachi/prezentation-feedback-agent/features"
)

// FromConfig wires the collaborators selected by c. The configuration is
// validated first so that configuration errors surface before any external
// call. Options left empty are taken from c.
func FromConfig(ctx context.Context, c *config.Root, o Options) (*Pipeline, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var tr clients.Transcriber
	switch c.Services.Transcription.Backend {
	case config.BackendDemo:
		tr = clients.DemoTranscriber{}
	default:
		h := clients.NewHTTP(config.DurSeconds(c.Services.Transcription.TimeoutSeconds))
		tr = clients.NewHTTPTranscriber(h, c.Services.Transcription.URL)
	}

	var inv clients.ModelInvoker
	switch c.Services.Model.Backend {
	case config.BackendDemo:
		inv = &clients.DemoInvoker{}
	default:
		b, err := clients.NewBedrockInvoker(ctx, c.Services.Model.Region)
		if err != nil {
			return nil, err
		}
		inv = b
	}
	inv = clients.WithTimeout(inv, config.DurSeconds(c.Services.Model.TimeoutSeconds))

	if o.Language == "" {
		o.Language = c.Pipeline.Language
	}
	o.ParallelAnalysis = o.ParallelAnalysis || c.Pipeline.ParallelAnalysis
	if o.Pricing.Tiers == nil {
		o.Pricing = c.LedgerPricing()
	}

	agent := func(a config.Agent) agents.Config {
		return agents.Config{Tier: a.Tier, Models: a.Models, MaxTokens: a.MaxTokens, Log: o.Log}
	}
	s := Stages{
		Transcriber: tr,
		Features: features.NewExtractor(features.Config{
			PauseThreshold:     c.Features.PauseThreshold,
			LongPauseThreshold: c.Features.LongPauseThreshold,
			FillerWords:        c.Features.FillerWords,
		}),
		Delivery:     agents.NewSpeechAnalyzer(inv, agent(c.Agents.Speech), c.Features.ExcerptRunes),
		Content:      agents.NewContentAnalyzer(inv, agent(c.Agents.Content)),
		Orchestrator: agents.NewOrchestrator(inv, agent(c.Agents.Orchestrator), c.Features.SummaryRunes),
	}
	return New(s, o), nil
}
