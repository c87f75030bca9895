// Package clients holds the adapters for the external collaborators of the
// pipeline: the transcription service and the language-model service.
package clients

import (
	"context"
	"net/http"
	"time"

	"github.com/ryuki-imachi/prezentation-feedback-agent/response"
	"github.com/ryuki-imachi/prezentation-feedback-agent/transcript"
)

type HTTP struct{ c *http.Client }

func NewHTTP(timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTP{c: &http.Client{Timeout: timeout}}
}

// Transcriber turns an audio file into a transcript record. Implementations
// return segments sorted by start time and a non-negative duration.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (*transcript.Transcript, error)
}

// Purpose names the agent an invocation is made for.
type Purpose string

const (
	PurposeDelivery Purpose = "delivery_analysis"
	PurposeContent  Purpose = "content_analysis"
	PurposeReport   Purpose = "orchestration"
)

// Invocation is one request to a language model.
type Invocation struct {
	Purpose   Purpose
	System    string
	Prompt    string
	ModelID   string
	MaxTokens int
}

// Completion is the generated text and its metering.
type Completion struct {
	Text  string
	Usage response.Usage
	Model string
}

// ModelInvoker runs a model with a prompt and system instructions. Errors wrap
// ErrModelUnavailable or ErrThrottled when the model variant cannot serve.
type ModelInvoker interface {
	Invoke(ctx context.Context, inv Invocation) (*Completion, error)
}

// WithTimeout bounds every invocation of inv by d. A non-positive d returns inv.
func WithTimeout(inv ModelInvoker, d time.Duration) ModelInvoker {
	if d <= 0 {
		return inv
	}
	return timeoutInvoker{inv: inv, d: d}
}

type timeoutInvoker struct {
	inv ModelInvoker
	d   time.Duration
}

func (t timeoutInvoker) Invoke(ctx context.Context, inv Invocation) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inv.Invoke(ctx, inv)
}
