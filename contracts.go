package zonedb

import "context"

// AuthZ is a permission-check hook a future frontend package can plug
// into Store.Handle without the core depending on any concrete
// implementation, grounded on the way hasty.ConfigOption lets an
// external caller supply behavior through an interface the teacher
// never implements itself. The core ships no AuthZ implementation:
// command framing, auth, and rate limiting are out of scope (spec §1).
type AuthZ interface {
	Allow(ctx context.Context, cmd Command) error
}

// RateLimiter is consulted by a future coordinator layer before
// admitting a command, never by a shard actor (spec §1: rate limiting
// is a named, unimplemented contract, not a core feature).
type RateLimiter interface {
	Allow(ctx context.Context) error
}

type authZKey struct{}
type rateLimiterKey struct{}

// WithAuthZ attaches az to ctx so a future Store.Handle call can
// consult it before dispatching cmd. The core never reads this key
// itself; it exists so the contract shape is real, not aspirational.
func WithAuthZ(ctx context.Context, az AuthZ) context.Context {
	return context.WithValue(ctx, authZKey{}, az)
}

// AuthZFromContext returns the AuthZ attached by WithAuthZ, if any.
func AuthZFromContext(ctx context.Context) (AuthZ, bool) {
	az, ok := ctx.Value(authZKey{}).(AuthZ)
	return az, ok
}

// WithRateLimiter attaches rl to ctx for the same reason WithAuthZ
// does.
func WithRateLimiter(ctx context.Context, rl RateLimiter) context.Context {
	return context.WithValue(ctx, rateLimiterKey{}, rl)
}

// RateLimiterFromContext returns the RateLimiter attached by
// WithRateLimiter, if any.
func RateLimiterFromContext(ctx context.Context) (RateLimiter, bool) {
	rl, ok := ctx.Value(rateLimiterKey{}).(RateLimiter)
	return rl, ok
}
