package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the cost of a single logical call.
type RetryPolicy struct {
	Attempts int           // total tries, including the first
	Backoff  time.Duration // wait before retry n is n*Backoff
	Timeout  time.Duration // per-attempt deadline; zero means none
}

// linearBackOff waits n*step before retry n.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }

// Do runs op until it succeeds or p's attempts run out. Every attempt gets
// its own deadline. Cancellation of ctx and permanent API errors end the loop
// early. name prefixes log lines and the final error.
func Do[T any](ctx context.Context, p RetryPolicy, name string, op func(context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(&linearBackOff{step: p.Backoff}, uint64(attempts-1)), ctx)

	tries := 0
	res, err := backoff.RetryNotifyWithData(func() (T, error) {
		tries++
		res, err := once(ctx, p.Timeout, op)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Permanent() {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, b, func(err error, wait time.Duration) {
		log.Printf("%s: attempt %d/%d failed (%v), retrying in %s", name, tries, attempts, err, wait)
	})
	if err == nil {
		return res, nil
	}
	var zero T
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}
	return zero, fmt.Errorf("%s: %d attempts failed: %w", name, tries, err)
}

func once[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return op(ctx)
}

// Retrying wraps a Client with a per-attempt timeout and linear backoff.
type Retrying struct {
	Client Client
	Policy RetryPolicy
}

// WithRetry wraps c so every call carries a deadline and a bounded number
// of attempts.
func WithRetry(c Client, p RetryPolicy) *Retrying {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	return &Retrying{Client: c, Policy: p}
}

// Complete calls the wrapped client under the retry policy.
func (r *Retrying) Complete(ctx context.Context, prompt string) (*Response, error) {
	return Do(ctx, r.Policy, "llm", func(ctx context.Context) (*Response, error) {
		return r.Client.Complete(ctx, prompt)
	})
}
