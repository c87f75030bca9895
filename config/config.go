package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	pferrors "github.com/ryuki-imachi/prezentation-feedback-agent/errors"
	"github.com/ryuki-imachi/prezentation-feedback-agent/ledger"
)

// Backend names.
const (
	BackendHTTP    = "http"
	BackendBedrock = "bedrock"
	BackendDemo    = "demo"
)

// Model identifiers used by the default configuration.
const (
	NovaLiteModelID      = "us.amazon.nova-lite-v1:0"
	ClaudeSonnet45       = "us.anthropic.claude-sonnet-4-5-20250929-v1:0"
	ClaudeSonnet4        = "us.anthropic.claude-sonnet-4-20250514-v1:0"
	ClaudeSonnet37       = "us.anthropic.claude-3-7-sonnet-20250219-v1:0"
	ClaudeSonnet35V2     = "us.anthropic.claude-3-5-sonnet-20241022-v2:0"
	DefaultRegion        = "us-west-2"
	OrchestratorModelEnv = "ORCHESTRATOR_MODEL_ID"
)

type Service struct {
	Backend        string `yaml:"backend" mapstructure:"backend"`
	URL            string `yaml:"url" mapstructure:"url"`
	Region         string `yaml:"region" mapstructure:"region"`
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}
type Services struct {
	Transcription Service `yaml:"transcription" mapstructure:"transcription"`
	Model         Service `yaml:"model" mapstructure:"model"`
}

type TierRate struct {
	InputPer1K  float64 `yaml:"input_per_1k" mapstructure:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" mapstructure:"output_per_1k"`
}
type Pricing struct {
	TranscriptionPerSecond float64             `yaml:"transcription_per_second" mapstructure:"transcription_per_second"`
	Tiers                  map[string]TierRate `yaml:"tiers" mapstructure:"tiers"`
}

// Agent selects the tier (pricing) and the ordered model candidates of one agent.
type Agent struct {
	Tier      string   `yaml:"tier" mapstructure:"tier"`
	Models    []string `yaml:"models" mapstructure:"models"`
	MaxTokens int      `yaml:"max_tokens" mapstructure:"max_tokens"`
}
type Agents struct {
	Speech       Agent `yaml:"speech" mapstructure:"speech"`
	Content      Agent `yaml:"content" mapstructure:"content"`
	Orchestrator Agent `yaml:"orchestrator" mapstructure:"orchestrator"`
}

type Features struct {
	PauseThreshold     float64  `yaml:"pause_threshold" mapstructure:"pause_threshold"`
	LongPauseThreshold float64  `yaml:"long_pause_threshold" mapstructure:"long_pause_threshold"`
	ExcerptRunes       int      `yaml:"excerpt_runes" mapstructure:"excerpt_runes"`
	SummaryRunes       int      `yaml:"summary_runes" mapstructure:"summary_runes"`
	FillerWords        []string `yaml:"filler_words" mapstructure:"filler_words"`
}

type Root struct {
	Pipeline struct {
		Name             string `yaml:"name" mapstructure:"name"`
		Version          string `yaml:"version" mapstructure:"version"`
		LogLvl           string `yaml:"log_level" mapstructure:"log_level"`
		LogFormat        string `yaml:"log_format" mapstructure:"log_format"`
		Language         string `yaml:"language" mapstructure:"language"`
		ParallelAnalysis bool   `yaml:"parallel_analysis" mapstructure:"parallel_analysis"`
	} `yaml:"pipeline" mapstructure:"pipeline"`
	Services Services `yaml:"services" mapstructure:"services"`
	Pricing  Pricing  `yaml:"pricing" mapstructure:"pricing"`
	Agents   Agents   `yaml:"agents" mapstructure:"agents"`
	Features Features `yaml:"features" mapstructure:"features"`
	Paths    struct {
		Outputs string `yaml:"outputs" mapstructure:"outputs"`
	} `yaml:"paths" mapstructure:"paths"`
}

// Default returns the reference configuration: Bedrock in us-west-2, a light
// tier for content analysis and a heavy tier for delivery analysis and the
// final report.
func Default() *Root {
	var c Root
	c.Pipeline.Name = "presentation-feedback"
	c.Pipeline.Version = "0.1.0"
	c.Pipeline.LogLvl = "info"
	c.Pipeline.LogFormat = "text"
	c.Pipeline.Language = "ja-JP"
	c.Services.Transcription = Service{Backend: BackendHTTP, URL: "http://localhost:8001", TimeoutSeconds: 600}
	c.Services.Model = Service{Backend: BackendBedrock, Region: DefaultRegion, TimeoutSeconds: 120}

	p := ledger.DefaultPricing()
	c.Pricing.TranscriptionPerSecond = p.TranscriptionPerSecond
	c.Pricing.Tiers = map[string]TierRate{}
	for name, r := range p.Tiers {
		c.Pricing.Tiers[name] = TierRate{InputPer1K: r.InputPer1K, OutputPer1K: r.OutputPer1K}
	}

	c.Agents.Speech = Agent{Tier: "claude_sonnet", Models: []string{ClaudeSonnet45}, MaxTokens: 2048}
	c.Agents.Content = Agent{Tier: "nova_lite", Models: []string{NovaLiteModelID}, MaxTokens: 2048}
	c.Agents.Orchestrator = Agent{
		Tier:      "claude_sonnet",
		Models:    []string{ClaudeSonnet45, ClaudeSonnet4, ClaudeSonnet37, ClaudeSonnet35V2},
		MaxTokens: 4096,
	}

	c.Features = Features{
		PauseThreshold:     0.5,
		LongPauseThreshold: 3.0,
		ExcerptRunes:       500,
		SummaryRunes:       200,
		FillerWords:        []string{"えー", "えーと", "えっと", "あのー", "あー", "まあ", "um", "uh"},
	}
	c.Paths.Outputs = "outputs"
	return &c
}

// Load reads configuration from path, or when path is empty from the first of
// config/<CONFIG_ENV>/config.yaml and config.yaml that exists. Values not in a
// file come from Default. PF_* environment variables override both
// (PF_PIPELINE_LOG_LEVEL, PF_SERVICES_MODEL_REGION, ...).
func Load(path string) (*Root, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = probe()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Root
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func probe() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	var guess []string = []string{
		filepath.Join("config", env, "config.yaml"),
		"config.yaml",
	}
	for _, p := range guess {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	return ""
}

func setDefaults(v *viper.Viper, d *Root) {
	v.SetDefault("pipeline.name", d.Pipeline.Name)
	v.SetDefault("pipeline.version", d.Pipeline.Version)
	v.SetDefault("pipeline.log_level", d.Pipeline.LogLvl)
	v.SetDefault("pipeline.log_format", d.Pipeline.LogFormat)
	v.SetDefault("pipeline.language", d.Pipeline.Language)
	v.SetDefault("pipeline.parallel_analysis", d.Pipeline.ParallelAnalysis)

	for key, s := range map[string]Service{"transcription": d.Services.Transcription, "model": d.Services.Model} {
		v.SetDefault("services."+key+".backend", s.Backend)
		v.SetDefault("services."+key+".url", s.URL)
		v.SetDefault("services."+key+".region", s.Region)
		v.SetDefault("services."+key+".timeout_seconds", s.TimeoutSeconds)
	}

	v.SetDefault("pricing.transcription_per_second", d.Pricing.TranscriptionPerSecond)
	tiers := map[string]any{}
	for name, r := range d.Pricing.Tiers {
		tiers[name] = map[string]any{"input_per_1k": r.InputPer1K, "output_per_1k": r.OutputPer1K}
	}
	v.SetDefault("pricing.tiers", tiers)

	for key, a := range map[string]Agent{"speech": d.Agents.Speech, "content": d.Agents.Content, "orchestrator": d.Agents.Orchestrator} {
		v.SetDefault("agents."+key+".tier", a.Tier)
		v.SetDefault("agents."+key+".models", a.Models)
		v.SetDefault("agents."+key+".max_tokens", a.MaxTokens)
	}

	v.SetDefault("features.pause_threshold", d.Features.PauseThreshold)
	v.SetDefault("features.long_pause_threshold", d.Features.LongPauseThreshold)
	v.SetDefault("features.excerpt_runes", d.Features.ExcerptRunes)
	v.SetDefault("features.summary_runes", d.Features.SummaryRunes)
	v.SetDefault("features.filler_words", d.Features.FillerWords)
	v.SetDefault("paths.outputs", d.Paths.Outputs)
}

// applyEnv handles the variables kept for compatibility with the AWS tooling:
// ORCHESTRATOR_MODEL_ID pins the orchestrator to one model (no candidate
// fallback) and AWS_REGION fills an empty model region.
func (c *Root) applyEnv() {
	if id := strings.TrimSpace(os.Getenv(OrchestratorModelEnv)); id != "" {
		c.Agents.Orchestrator.Models = []string{id}
	}
	if c.Services.Model.Region == "" {
		c.Services.Model.Region = os.Getenv("AWS_REGION")
	}
}

// Validate fails fast on configuration errors, before any external call.
func (c *Root) Validate() error {
	var errs []error
	for name, a := range map[string]Agent{"speech": c.Agents.Speech, "content": c.Agents.Content, "orchestrator": c.Agents.Orchestrator} {
		if _, ok := c.Pricing.Tiers[a.Tier]; !ok {
			errs = append(errs, fmt.Errorf("agents.%s.tier %q: %w", name, a.Tier, pferrors.ErrUnknownTier))
		}
		if len(nonEmpty(a.Models)) == 0 {
			errs = append(errs, fmt.Errorf("agents.%s.models: %w", name, pferrors.ErrMissingIdentifier))
		}
		if a.MaxTokens < 0 || a.MaxTokens > math.MaxInt32 {
			errs = append(errs, fmt.Errorf("agents.%s.max_tokens %d out of range: %w", name, a.MaxTokens, pferrors.ErrInvalidInput))
		}
	}
	for name, r := range c.Pricing.Tiers {
		if r.InputPer1K < 0 || r.OutputPer1K < 0 {
			errs = append(errs, fmt.Errorf("pricing.tiers.%s: negative rate: %w", name, pferrors.ErrInvalidInput))
		}
	}
	if c.Pricing.TranscriptionPerSecond < 0 {
		errs = append(errs, fmt.Errorf("pricing.transcription_per_second: negative rate: %w", pferrors.ErrInvalidInput))
	}
	switch c.Services.Transcription.Backend {
	case BackendHTTP:
		if c.Services.Transcription.URL == "" {
			errs = append(errs, fmt.Errorf("services.transcription.url: %w", pferrors.ErrMissingIdentifier))
		}
	case BackendDemo:
	default:
		errs = append(errs, fmt.Errorf("services.transcription.backend %q: %w", c.Services.Transcription.Backend, pferrors.ErrInvalidInput))
	}
	switch c.Services.Model.Backend {
	case BackendBedrock:
		if c.Services.Model.Region == "" {
			errs = append(errs, fmt.Errorf("services.model.region: %w", pferrors.ErrMissingIdentifier))
		}
	case BackendDemo:
	default:
		errs = append(errs, fmt.Errorf("services.model.backend %q: %w", c.Services.Model.Backend, pferrors.ErrInvalidInput))
	}
	if c.Features.LongPauseThreshold < c.Features.PauseThreshold {
		errs = append(errs, fmt.Errorf("features.long_pause_threshold below pause_threshold: %w", pferrors.ErrInvalidInput))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// UseDemo switches both collaborators to the offline demo doubles.
func (c *Root) UseDemo() {
	c.Services.Transcription.Backend = BackendDemo
	c.Services.Model.Backend = BackendDemo
}

// LedgerPricing converts the pricing section for the cost ledger.
func (c *Root) LedgerPricing() ledger.Pricing {
	p := ledger.Pricing{TranscriptionPerSecond: c.Pricing.TranscriptionPerSecond, Tiers: map[string]ledger.TierRate{}}
	for name, r := range c.Pricing.Tiers {
		p.Tiers[name] = ledger.TierRate{InputPer1K: r.InputPer1K, OutputPer1K: r.OutputPer1K}
	}
	return p
}

func nonEmpty(ss []string) []string {
	var out []string
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func DurSeconds(n int) time.Duration { return time.Duration(n) * time.Second }
