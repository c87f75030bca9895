// Package agents holds the three language-model agents of the feedback
// pipeline: speech-delivery analysis, content analysis and the orchestrator
// that merges both into the final report.
package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ryuki-imachi/prezentation-feedback-agent/clients"
	"github.com/ryuki-imachi/prezentation-feedback-agent/response"
)

// Stage names, shared with the pipeline.
const (
	StageDelivery     = string(clients.PurposeDelivery)
	StageContent      = string(clients.PurposeContent)
	StageOrchestrator = string(clients.PurposeReport)
)

// Config selects the model tier of one agent.
type Config struct {
	Tier      string
	Models    []string
	MaxTokens int
	Log       logrus.FieldLogger
}

// Response is the structured output of an analysis agent. Data always holds
// the "usage" key, copied from the model call metering.
type Response struct {
	Stage   string           `json:"stage" yaml:"stage"`
	Tier    string           `json:"tier" yaml:"tier"`
	Model   string           `json:"model" yaml:"model"`
	Data    map[string]any   `json:"data" yaml:"data"`
	Usage   response.Usage   `json:"usage" yaml:"usage"`
	Outcome response.Outcome `json:"outcome" yaml:"outcome"`
}

func (r *Response) Feedback() string {
	if r == nil {
		return ""
	}
	return asString(r.Data["feedback"])
}

func (r *Response) Strengths() []string {
	if r == nil {
		return []string{}
	}
	return asStrings(r.Data["strengths"])
}

func (r *Response) Improvements() []string {
	if r == nil {
		return []string{}
	}
	return asStrings(r.Data["improvements"])
}

// field returns Data[key], or def when the key is absent.
func (r *Response) field(key string, def any) any {
	if r == nil {
		return def
	}
	if v, ok := r.Data[key]; ok && v != nil {
		return v
	}
	return def
}

// call invokes the model through neg and parses the completion, falling back
// to fallback when the text is not a JSON object.
func call(ctx context.Context, neg *Negotiator, stage string, purpose clients.Purpose, system, prompt string, fallback func(raw string) map[string]any) (*Response, error) {
	c, err := neg.Invoke(ctx, clients.Invocation{Purpose: purpose, System: system, Prompt: prompt})
	if err != nil {
		return nil, err
	}

	var fb map[string]any
	if fallback != nil {
		fb = fallback(c.Text)
	}
	res := response.Parse(c.Text, c.Usage, fb)

	entry := neg.log.WithFields(logrus.Fields{
		"stage":         stage,
		"tier":          neg.Tier,
		"model":         c.Model,
		"input_tokens":  c.Usage.InputTokens,
		"output_tokens": c.Usage.OutputTokens,
	})
	if res.Outcome == response.Fallback {
		entry.WithError(res.Err).Warn("model output is not a JSON object, using fallback")
	} else {
		entry.Debug("model output decoded")
	}

	return &Response{
		Stage:   stage,
		Tier:    neg.Tier,
		Model:   c.Model,
		Data:    res.Data,
		Usage:   res.Usage,
		Outcome: res.Outcome,
	}, nil
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// asStrings flattens a list of strings or objects. Objects contribute their
// most descriptive text field.
func asStrings(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, e := range list {
		switch x := e.(type) {
		case string:
			out = append(out, x)
		case map[string]any:
			for _, k := range []string{"description", "issue", "suggestion", "feedback", "category"} {
				if s := strings.TrimSpace(asString(x[k])); s != "" {
					out = append(out, s)
					break
				}
			}
		case nil:
		default:
			out = append(out, fmt.Sprint(x))
		}
	}
	return out
}
