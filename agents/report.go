package agents

import (
	"strings"

	"github.com/ryuki-imachi/prezentation-feedback-agent/response"
)

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// GeneralCategory is used for entries the model gave as bare strings.
const GeneralCategory = "general"

type Strength struct {
	Category    string `json:"category" yaml:"category"`
	Description string `json:"description" yaml:"description"`
	Evidence    string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

type Improvement struct {
	Category   string `json:"category" yaml:"category"`
	Issue      string `json:"issue" yaml:"issue"`
	Suggestion string `json:"suggestion" yaml:"suggestion"`
	Priority   string `json:"priority" yaml:"priority"`
}

// FinalReport is the orchestrator output. DetailedFeedback is either a string
// or an object keyed by section.
type FinalReport struct {
	Summary          string           `json:"summary" yaml:"summary"`
	Strengths        []Strength       `json:"strengths" yaml:"strengths"`
	Improvements     []Improvement    `json:"improvements" yaml:"improvements"`
	DetailedFeedback any              `json:"detailed_feedback" yaml:"detailed_feedback"`
	Usage            response.Usage   `json:"usage" yaml:"usage"`
	Tier             string           `json:"tier" yaml:"tier"`
	Model            string           `json:"model" yaml:"model"`
	Outcome          response.Outcome `json:"outcome" yaml:"outcome"`
}

// NewFinalReport reads a report out of loosely typed model data.
func NewFinalReport(r *Response) *FinalReport {
	rep := &FinalReport{
		Strengths:    []Strength{},
		Improvements: []Improvement{},
	}
	if r == nil {
		return rep
	}
	rep.Usage, rep.Tier, rep.Model, rep.Outcome = r.Usage, r.Tier, r.Model, r.Outcome
	rep.Summary = asString(r.Data["summary"])

	list, _ := r.Data["strengths"].([]any)
	for _, e := range list {
		switch x := e.(type) {
		case string:
			rep.Strengths = append(rep.Strengths, Strength{Category: GeneralCategory, Description: x})
		case map[string]any:
			rep.Strengths = append(rep.Strengths, Strength{
				Category:    orGeneral(asString(x["category"])),
				Description: asString(x["description"]),
				Evidence:    asString(x["evidence"]),
			})
		}
	}

	list, _ = r.Data["improvements"].([]any)
	for _, e := range list {
		switch x := e.(type) {
		case string:
			rep.Improvements = append(rep.Improvements, Improvement{Category: GeneralCategory, Issue: x, Priority: PriorityMedium})
		case map[string]any:
			rep.Improvements = append(rep.Improvements, Improvement{
				Category:   orGeneral(asString(x["category"])),
				Issue:      asString(x["issue"]),
				Suggestion: asString(x["suggestion"]),
				Priority:   NormalizePriority(asString(x["priority"])),
			})
		}
	}

	switch d := r.Data["detailed_feedback"].(type) {
	case string, map[string]any:
		rep.DetailedFeedback = d
	case nil:
		rep.DetailedFeedback = ""
	default:
		rep.DetailedFeedback = asString(d)
	}
	return rep
}

// NormalizePriority maps a priority to high, medium or low. Unknown values
// become medium.
func NormalizePriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case PriorityHigh, "高":
		return PriorityHigh
	case PriorityLow, "低":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

func orGeneral(s string) string {
	if strings.TrimSpace(s) == "" {
		return GeneralCategory
	}
	return s
}
