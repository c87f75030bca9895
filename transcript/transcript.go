package transcript

import (
	"fmt"
	"sort"
	"strings"

	pferrors "github.com/ryuki-imachi/prezentation-feedback-agent/errors"
)

// DefaultLanguage is the language code requested when none is given.
const DefaultLanguage = "ja-JP"

type Segment struct {
	Text       string  `json:"text"`
	StartTime  float64 `json:"start_time"` // sec
	EndTime    float64 `json:"end_time"`   // sec
	Confidence float64 `json:"confidence"`
}

// Duration is the segment length in seconds, never negative.
func (s Segment) Duration() float64 {
	if s.EndTime < s.StartTime {
		return 0
	}
	return s.EndTime - s.StartTime
}

// Transcript is the normalized output of the transcription collaborator.
type Transcript struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Duration float64   `json:"duration"`
	Language string    `json:"language,omitempty"`
}

// New builds a transcript from segments: it sorts them by start time, joins the
// text and sets Duration to the last end time.
func New(segs []Segment, language string) *Transcript {
	out := make([]Segment, 0, len(segs))
	for _, s := range segs {
		s.Text = strings.TrimSpace(s.Text)
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })

	var b strings.Builder
	for _, s := range out {
		b.WriteString(s.Text)
	}
	t := &Transcript{Text: b.String(), Segments: out, Language: language}
	if n := len(out); n > 0 {
		t.Duration = out[n-1].EndTime
	}
	return t
}

// Validate checks the record invariants: at least one segment, segments
// ordered and non-overlapping, non-negative duration.
func (t *Transcript) Validate() error {
	if t == nil {
		return fmt.Errorf("transcript: nil record: %w", pferrors.ErrTranscription)
	}
	if len(t.Segments) == 0 {
		return fmt.Errorf("transcript: no segments: %w", pferrors.ErrTranscription)
	}
	if t.Duration < 0 {
		return fmt.Errorf("transcript: negative duration %.3f: %w", t.Duration, pferrors.ErrTranscription)
	}
	for i, s := range t.Segments {
		if s.StartTime < 0 || s.EndTime < s.StartTime {
			return fmt.Errorf("transcript: segment %d has bad bounds [%.3f, %.3f]: %w", i, s.StartTime, s.EndTime, pferrors.ErrTranscription)
		}
		if i > 0 && s.StartTime < t.Segments[i-1].EndTime {
			return fmt.Errorf("transcript: segment %d overlaps previous: %w", i, pferrors.ErrTranscription)
		}
	}
	return nil
}

// Excerpt returns at most n runes of the text.
func (t *Transcript) Excerpt(n int) string {
	r := []rune(t.Text)
	if n < 0 || len(r) <= n {
		return t.Text
	}
	return string(r[:n])
}
