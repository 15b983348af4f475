// Package oracle is the single crossing point to the extraction LLM.
package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/conftool-helper/internal/cost"
	"github.com/sells-group/conftool-helper/internal/model"
	"github.com/sells-group/conftool-helper/internal/resilience"
)

// TransportError reports a network or protocol failure talking to a provider.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("oracle: %s transport failure: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transient reports whether the underlying failure is likely to clear up.
func (e *TransportError) Transient() bool {
	return resilience.IsTransient(e.Err)
}

// Usage is the running total of everything sent through a Gateway.
type Usage struct {
	Calls  int
	Tokens model.TokenUsage
	Cost   float64
}

// Gateway invokes the provider once per call. It performs no retries.
type Gateway struct {
	provider Provider
	limiter  *rate.Limiter
	calc     *cost.Calculator

	mu    sync.Mutex
	usage Usage
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRequestsPerMinute paces calls. Zero or negative means unlimited.
func WithRequestsPerMinute(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(float64(n)/60.0), 1)
		}
	}
}

// WithCalculator prices every call.
func WithCalculator(c *cost.Calculator) Option {
	return func(g *Gateway) { g.calc = c }
}

// NewGateway creates a Gateway around a provider built by the caller.
func NewGateway(p Provider, opts ...Option) *Gateway {
	g := &Gateway{provider: p}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Provider returns the name of the provider behind the gateway.
func (g *Gateway) Provider() string { return g.provider.Name() }

// Invoke sends both prompts as one request and blocks until it resolves. It
// returns the first candidate's text, or ok=false when the provider returned
// no candidate.
func (g *Gateway) Invoke(ctx context.Context, systemPrompt, userPrompt string) (string, bool, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", false, eris.Wrap(err, "oracle: rate limit wait")
		}
	}

	var completion *Completion
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		c, err := g.provider.Complete(gctx, systemPrompt, userPrompt)
		if err != nil {
			return err
		}
		completion = c
		return nil
	})
	if err := eg.Wait(); err != nil {
		terr := &TransportError{Provider: g.provider.Name(), Err: err}
		zap.L().Error("oracle: call failed",
			zap.String("provider", g.provider.Name()),
			zap.String("model", g.provider.Model()),
			zap.Bool("transient", terr.Transient()),
			zap.Error(err),
		)
		return "", false, terr
	}

	callCost := g.record(completion.Usage)
	zap.L().Info("oracle: call complete",
		zap.String("provider", g.provider.Name()),
		zap.String("model", g.provider.Model()),
		zap.Bool("candidate", completion.OK),
		zap.Int("input_tokens", completion.Usage.InputTokens),
		zap.Int("output_tokens", completion.Usage.OutputTokens),
		zap.Int("cache_write_tokens", completion.Usage.CacheCreationTokens),
		zap.Int("cache_read_tokens", completion.Usage.CacheReadTokens),
		zap.Float64("estimated_cost_usd", callCost),
	)

	return completion.Text, completion.OK, nil
}

func (g *Gateway) record(u model.TokenUsage) float64 {
	var c float64
	if g.calc != nil {
		c = g.calc.Estimate(g.provider.Name(), g.provider.Model(), u)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.usage.Calls++
	g.usage.Tokens.Add(u)
	g.usage.Cost += c
	return c
}

// Usage returns the totals accumulated so far.
func (g *Gateway) Usage() Usage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage
}
