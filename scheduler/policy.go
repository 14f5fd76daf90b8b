package scheduler

import (
	"panda/models"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultBaseInterval        = 15 * time.Minute
	DefaultMaxInterval         = 24 * time.Hour
	DefaultRateLimitMinBackoff = 30 * time.Minute
)

// Policy computes the delay until a feed's next fetch
type Policy struct {
	// Interval after a success, unless the feed declares its own
	Base time.Duration
	// Failure backoff never grows past this
	Ceiling time.Duration
	// Floor applied after a 429
	RateLimitMin time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Base:         DefaultBaseInterval,
		Ceiling:      DefaultMaxInterval,
		RateLimitMin: DefaultRateLimitMinBackoff,
	}
}

func (p Policy) withDefaults() Policy {
	if p.Base <= 0 {
		p.Base = DefaultBaseInterval
	}
	if p.Ceiling <= 0 {
		p.Ceiling = DefaultMaxInterval
	}
	if p.RateLimitMin < 0 {
		p.RateLimitMin = 0
	}
	return p
}

func (p Policy) base(feed models.Feed) time.Duration {
	if feed.RefreshInterval != nil && *feed.RefreshInterval > 0 {
		return *feed.RefreshInterval
	}
	return p.Base
}

// Next returns the interval to wait after an attempt with the given number of
// consecutive failures, zero meaning the attempt succeeded. Failure n waits
// base * 2^(n-1), capped at the ceiling.
func (p Policy) Next(feed models.Feed, failures int, cause error) time.Duration {
	p = p.withDefaults()
	base := p.base(feed)
	ceiling := max(p.Ceiling, base)
	if failures <= 0 {
		return base
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = ceiling
	b.MaxElapsedTime = 0
	b.Reset()

	interval := base
	for i := 0; i < failures; i++ {
		interval = b.NextBackOff()
		if interval >= ceiling {
			interval = ceiling
			break
		}
	}

	if retryAfter, ok := models.RetryAfter(cause); ok {
		interval = max(interval, retryAfter, p.RateLimitMin)
	}
	return interval
}
