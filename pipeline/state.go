package pipeline

import "fmt"

// State is the position of a run in the stage sequence.
type State int

const (
	Idle State = iota
	Transcribing
	FeatureExtraction
	DeliveryAnalysis
	ContentAnalysis
	Orchestration
	Done
	Failed
)

var stateNames = [...]string{
	Idle:              "idle",
	Transcribing:      "transcribing",
	FeatureExtraction: "feature_extraction",
	DeliveryAnalysis:  "delivery_analysis",
	ContentAnalysis:   "content_analysis",
	Orchestration:     "orchestration",
	Done:              "done",
	Failed:            "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == Done || s == Failed }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("pipeline: unknown state %q", b)
}
