// Package features derives delivery metrics (speaking rate, pauses, filler
// words) from a transcript.
package features

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/ryuki-imachi/prezentation-feedback-agent/transcript"
)

const (
	DefaultPauseThreshold     = 0.5 // sec
	DefaultLongPauseThreshold = 3.0 // sec
)

// DefaultFillerWords are hesitation sounds counted as delivery defects.
var DefaultFillerWords = []string{"えー", "えーと", "えっと", "あのー", "あー", "まあ", "um", "uh"}

type LongPause struct {
	Time     float64 `json:"time"`     // end of the segment before the gap
	Duration float64 `json:"duration"` // sec
}

type Pauses struct {
	Total       int         `json:"total"`
	AvgDuration float64     `json:"avg_duration"`
	LongPauses  []LongPause `json:"long_pauses"`
}

type FillerWord struct {
	Word       string    `json:"word"`
	Count      int       `json:"count"`
	Timestamps []float64 `json:"timestamps"`
}

// Record is the feature set handed to the speech-delivery analyzer.
type Record struct {
	SpeakingRate float64      `json:"speaking_rate"` // characters per minute
	Pauses       Pauses       `json:"pauses"`
	FillerWords  []FillerWord `json:"filler_words"`
}

// FillerTotal is the number of filler occurrences across all words.
func (r Record) FillerTotal() int {
	n := 0
	for _, f := range r.FillerWords {
		n += f.Count
	}
	return n
}

type Config struct {
	PauseThreshold     float64
	LongPauseThreshold float64
	FillerWords        []string
}

// Extractor is the feature extraction collaborator. It is a pure function of
// its configuration and the transcript.
type Extractor struct {
	cfg     Config
	fillers []filler
}

type filler struct {
	word  string // as configured
	runes []rune // normalized
	latin bool
}

func NewExtractor(c Config) *Extractor {
	if c.PauseThreshold <= 0 {
		c.PauseThreshold = DefaultPauseThreshold
	}
	if c.LongPauseThreshold <= 0 {
		c.LongPauseThreshold = DefaultLongPauseThreshold
	}
	if c.FillerWords == nil {
		c.FillerWords = DefaultFillerWords
	}
	e := &Extractor{cfg: c}
	seen := map[string]bool{}
	for _, w := range c.FillerWords {
		n := normalize(w)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		e.fillers = append(e.fillers, filler{word: w, runes: []rune(n), latin: isLatin(n)})
	}
	// longest first so "あのー" wins over "あの" at the same position
	sort.SliceStable(e.fillers, func(i, j int) bool { return len(e.fillers[i].runes) > len(e.fillers[j].runes) })
	return e
}

// Extract computes the feature record. Degenerate input yields zero values.
func (e *Extractor) Extract(t *transcript.Transcript) Record {
	if t == nil {
		return Record{Pauses: Pauses{LongPauses: []LongPause{}}, FillerWords: []FillerWord{}}
	}
	return Record{
		SpeakingRate: SpeakingRate(t.Segments),
		Pauses:       e.pauses(t.Segments),
		FillerWords:  e.fillerWords(t.Segments),
	}
}

// SpeakingRate returns characters per minute over the summed segment time, or
// 0 when no time elapsed.
func SpeakingRate(segs []transcript.Segment) float64 {
	chars := 0
	elapsed := 0.0
	for _, s := range segs {
		chars += utf8.RuneCountInString(s.Text)
		elapsed += s.EndTime - s.StartTime
	}
	if elapsed <= 0 {
		return 0.0
	}
	return float64(chars) * 60 / elapsed
}

func (e *Extractor) pauses(segs []transcript.Segment) Pauses {
	out := Pauses{LongPauses: []LongPause{}}
	total := 0.0
	for i := 0; i+1 < len(segs); i++ {
		gap := roundGap(segs[i+1].StartTime - segs[i].EndTime)
		if gap < e.cfg.PauseThreshold {
			continue
		}
		out.Total++
		total += gap
		if gap >= e.cfg.LongPauseThreshold {
			out.LongPauses = append(out.LongPauses, LongPause{Time: segs[i].EndTime, Duration: gap})
		}
	}
	if out.Total > 0 {
		out.AvgDuration = total / float64(out.Total)
	}
	return out
}

// roundGap snaps a gap to the microsecond so decimal timestamps such as
// 4.1-1.1 compare equal to the threshold they spell.
func roundGap(gap float64) float64 {
	return math.Round(gap*1e6) / 1e6
}

func (e *Extractor) fillerWords(segs []transcript.Segment) []FillerWord {
	byWord := map[string]*FillerWord{}
	for _, s := range segs {
		text := []rune(normalize(s.Text))
		for i := 0; i < len(text); {
			f, ok := e.matchAt(text, i)
			if !ok {
				i++
				continue
			}
			fw := byWord[f.word]
			if fw == nil {
				fw = &FillerWord{Word: f.word}
				byWord[f.word] = fw
			}
			fw.Count++
			fw.Timestamps = append(fw.Timestamps, s.StartTime)
			i += len(f.runes)
		}
	}

	out := make([]FillerWord, 0, len(byWord))
	for _, fw := range byWord {
		out = append(out, *fw)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	return out
}

func (e *Extractor) matchAt(text []rune, i int) (filler, bool) {
	for _, f := range e.fillers {
		end := i + len(f.runes)
		if end > len(text) || !equalRunes(text[i:end], f.runes) {
			continue
		}
		if f.latin && (i > 0 && unicode.IsLetter(text[i-1]) || end < len(text) && unicode.IsLetter(text[end])) {
			continue
		}
		return f, true
	}
	return filler{}, false
}

// normalize folds width variants (ｴｰ → エー) and case.
func normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(s)))
}

func isLatin(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func equalRunes(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
