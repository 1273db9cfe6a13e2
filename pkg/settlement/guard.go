package settlement

import (
	"context"
	"maps"

	"github.com/rs/zerolog"

	"github.com/yourorg/zkspend/pkg/policy"
)

// GuardSpec fixes what a guarded call costs.
type GuardSpec struct {
	Wallet     string
	ServiceKey string
	Amount     uint64
	Resource   string
	Metadata   map[string]string
}

// Guard wraps fn so that every call first pays spec.Amount. fn runs only
// after the payment settled; a failed payment returns its error and fn is
// never called. Each call uses a fresh idempotency key.
func Guard[T any](c *Coordinator, spec GuardSpec, fn func(ctx context.Context, r *Receipt) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		r, err := c.Pay(ctx, PaymentRequest{
			Wallet:     spec.Wallet,
			ServiceKey: spec.ServiceKey,
			Amount:     spec.Amount,
			Resource:   spec.Resource,
			Metadata:   maps.Clone(spec.Metadata),
		})
		if err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx, r)
	}
}

// StatusSource is satisfied by *policy.Policy.
type StatusSource interface {
	Status(ctx context.Context, wallet, serviceKey string) (*policy.Status, error)
}

// TrackSpending wraps fn and logs how much wallet spent at serviceKey while
// it ran. Failures to read the status are logged and never fail fn.
func TrackSpending[T any](src StatusSource, wallet, serviceKey string, log zerolog.Logger, fn func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	spent := func(ctx context.Context) (uint64, bool) {
		st, err := src.Status(ctx, wallet, serviceKey)
		if err != nil {
			log.Warn().Err(err).Str("wallet", wallet).Str("service", serviceKey).Msg("spending status unavailable")
			return 0, false
		}
		return st.Committed, true
	}
	return func(ctx context.Context) (T, error) {
		before, okBefore := spent(ctx)
		v, err := fn(ctx)
		after, okAfter := spent(ctx)
		if okBefore && okAfter {
			var delta uint64
			if after > before {
				delta = after - before
			}
			log.Info().
				Str("wallet", wallet).
				Str("service", serviceKey).
				Str("spent", policy.FormatSOL(delta)).
				Str("spentToday", policy.FormatSOL(after)).
				Msg("spending tracked")
		}
		return v, err
	}
}
