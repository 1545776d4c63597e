// Package decision asks the vision model for the next action.
package decision

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/devicelab-dev/droid-agent/pkg/core"
	"github.com/devicelab-dev/droid-agent/pkg/element"
)

// Request is everything the model sees for one round.
type Request struct {
	Task        string
	LastSummary string
	Elements    element.List
	ImagePNG    []byte
}

// Config bounds model calls. Retries defaults to zero: a failed call ends the round.
type Config struct {
	Retries     int
	MinInterval time.Duration
}

// Client wraps a VisionLanguageModel with prompt building, spacing and retry.
type Client struct {
	model   core.VisionLanguageModel
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger

	backoffFactory func() backoff.BackOff
}

// New creates a Client.
func New(model core.VisionLanguageModel, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Client{
		model:   model,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("decision"),
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
}

// Decide returns the model's raw reply. Failures wrap core.ErrModelUnavailable;
// cancellation returns ctx.Err().
func (c *Client) Decide(ctx context.Context, req Request) (string, error) {
	prompt := BuildPrompt(req.Task, req.LastSummary, req.Elements)

	var reply string
	attempt := 0
	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		text, err := c.model.Complete(ctx, prompt, req.ImagePNG)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Warn("model call failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		if strings.TrimSpace(text) == "" {
			c.logger.Warn("model returned an empty reply", zap.Int("attempt", attempt))
			return core.ErrModelUnavailable.WithMessage("model returned an empty reply")
		}

		c.logger.Debug("model replied",
			zap.Int("attempt", attempt),
			zap.Duration("duration", time.Since(start)),
			zap.Int("elements", len(req.Elements)),
			zap.Int("chars", len(text)))
		reply = text
		return nil
	}

	retries := c.cfg.Retries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(c.backoffFactory(), uint64(retries)), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, core.ErrModelUnavailable) {
			return "", err
		}
		return "", core.ErrModelUnavailable.WithCause(err)
	}
	return reply, nil
}
