package keys

import (
	"crypto/rand"
	"io"
	"time"
)

// DefaultMaxValidityDays caps validity_days when no limit is configured.
const DefaultMaxValidityDays = 3650

type options struct {
	now             func() time.Time
	random          io.Reader
	metrics         *Metrics
	usage           UsageTracker
	maxValidityDays int
}

// Option configures a Generator, Validator or Manager.
// Options that do not apply to a component are ignored by it.
type Option func(*options)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRandom overrides the secret entropy source.
func WithRandom(r io.Reader) Option {
	return func(o *options) { o.random = r }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithUsageTracker enables usage recording and usage fields in listings.
func WithUsageTracker(u UsageTracker) Option {
	return func(o *options) { o.usage = u }
}

// WithMaxValidityDays sets the upper bound for validity_days.
func WithMaxValidityDays(days int) Option {
	return func(o *options) {
		if days > 0 {
			o.maxValidityDays = days
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:             time.Now,
		random:          rand.Reader,
		maxValidityDays: DefaultMaxValidityDays,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
