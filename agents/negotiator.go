package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ryuki-imachi/prezentation-feedback-agent/clients"
	pferrors "github.com/ryuki-imachi/prezentation-feedback-agent/errors"
)

// Negotiator runs an invocation against the ordered model candidates of one
// tier. The first candidate gets the real request; a later one is tried only
// when the previous reported ErrModelUnavailable or ErrThrottled.
type Negotiator struct {
	Tier      string
	Models    []string
	MaxTokens int

	inv clients.ModelInvoker
	log logrus.FieldLogger
}

func NewNegotiator(inv clients.ModelInvoker, c Config) *Negotiator {
	log := c.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	var models []string
	for _, m := range c.Models {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	return &Negotiator{Tier: c.Tier, Models: models, MaxTokens: c.MaxTokens, inv: inv, log: log}
}

// Invoke fills in ModelID and MaxTokens on inv. The returned completion names
// the candidate that answered.
func (n *Negotiator) Invoke(ctx context.Context, inv clients.Invocation) (*clients.Completion, error) {
	if len(n.Models) == 0 {
		return nil, fmt.Errorf("tier %s: no model candidates: %w", n.Tier, pferrors.ErrMissingIdentifier)
	}
	inv.MaxTokens = n.MaxTokens

	var lastErr error
	for i, model := range n.Models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inv.ModelID = model
		c, err := n.inv.Invoke(ctx, inv)
		if err == nil {
			if c.Model == "" {
				c.Model = model
			}
			if i > 0 {
				n.log.WithFields(logrus.Fields{"tier": n.Tier, "model": model}).Info("fell back to model candidate")
			}
			return c, nil
		}
		if !pferrors.IsRetryable(err) {
			return nil, err
		}
		n.log.WithFields(logrus.Fields{"tier": n.Tier, "model": model}).WithError(err).Warn("model candidate unavailable, trying next")
		lastErr = err
	}
	return nil, fmt.Errorf("tier %s: all %d model candidates failed: %w", n.Tier, len(n.Models), lastErr)
}
