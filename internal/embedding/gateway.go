package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

// Limiter bounds concurrent embed calls. *semaphore.Weighted serves waiters
// in FIFO order.
type Limiter interface {
	Acquire(ctx context.Context, n int64) error
	Release(n int64)
}

// Gateway is the process-wide embed client: at most MaxConcurrency calls in
// flight, each retried on transient failures with linear backoff.
type Gateway struct {
	backend     Embedder
	limiter     Limiter
	throttle    *rate.Limiter
	maxChars    int
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(*Gateway)

// WithLimiter replaces the admission limiter.
func WithLimiter(l Limiter) Option {
	return func(g *Gateway) { g.limiter = l }
}

// WithSleep replaces the backoff wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gateway) { g.sleep = fn }
}

func NewGateway(backend Embedder, cfg config.EmbedConfig, opts ...Option) *Gateway {
	g := &Gateway{
		backend:     backend,
		limiter:     semaphore.NewWeighted(int64(max(1, cfg.MaxConcurrency))),
		maxChars:    cfg.MaxChars,
		maxAttempts: max(1, cfg.MaxAttempts),
		baseDelay:   cfg.BaseDelay,
		sleep:       sleepContext,
	}
	if cfg.RateLimit > 0 {
		g.throttle = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Embed returns the embedding vector of text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	prompt := CleanText(text, g.maxChars)

	// Cancelling ctx abandons the wait for a slot and any pending backoff.
	// A request already handed to the backend is not retried after that.
	if err := g.limiter.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.limiter.Release(1)

	for attempt := 1; ; attempt++ {
		vector, err := g.embedOnce(ctx, prompt)
		if err == nil {
			return vector, nil
		}
		if !Retryable(err) || attempt >= g.maxAttempts || ctx.Err() != nil {
			return nil, err
		}

		delay := g.baseDelay * time.Duration(attempt)
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("Embed retry")
		if err := g.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrEmbedding, err)
		}
	}
}

func (g *Gateway) embedOnce(ctx context.Context, prompt string) ([]float32, error) {
	if g.throttle != nil {
		if err := g.throttle.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrEmbedding, err)
		}
	}
	vector, err := g.backend.EmbedQuery(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbedding, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty embedding vector", models.ErrEmbedding)
	}
	return vector, nil
}

// Retryable reports whether an embed failure is transient: a connection
// reset, abort or timeout, or an HTTP 429/5xx answer.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// CleanText collapses whitespace and cuts the prompt to maxChars characters.
func CleanText(text string, maxChars int) string {
	value := strings.Join(strings.Fields(text), " ")
	if maxChars <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= maxChars {
		return value
	}
	return strings.TrimSpace(string(runes[:maxChars]))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
