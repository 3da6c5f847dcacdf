package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrEndpointDown is returned when a call is rejected because the endpoint's
// breaker is open.
var ErrEndpointDown = eris.New("resilience: endpoint breaker is open")

// BreakerConfig controls per-endpoint breaker behavior.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures before the endpoint
	// is taken out of rotation. Default: 3.
	Threshold int

	// Cooldown is how long the endpoint stays out of rotation before a
	// probe request is allowed through. Default: 60s.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the defaults used for public data mirrors.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 3, Cooldown: 60 * time.Second}
}

// Breaker tracks the health of one upstream endpoint. After Threshold
// consecutive failures it rejects calls until Cooldown passes, then lets a
// single probe through.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	failures int
	openedAt time.Time

	nowFunc func() time.Time
}

// NewBreaker creates a breaker with the given config. Zero fields take
// defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &Breaker{cfg: cfg, nowFunc: time.Now}
}

// Allow reports whether a call may proceed. When the breaker is open it
// returns ErrEndpointDown until the cooldown elapses.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.cfg.Threshold {
		return nil
	}
	if b.nowFunc().Sub(b.openedAt) >= b.cfg.Cooldown {
		// Probe: count the endpoint as one failure short of open so a
		// failed probe re-opens it immediately.
		b.failures = b.cfg.Threshold - 1
		return nil
	}
	return ErrEndpointDown
}

// Record feeds a call outcome into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.cfg.Threshold {
		b.openedAt = b.nowFunc()
	}
}

// Open reports whether the breaker currently rejects calls. Unlike Allow
// it never consumes the half-open probe slot.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.cfg.Threshold {
		return false
	}
	return b.nowFunc().Sub(b.openedAt) < b.cfg.Cooldown
}

// EndpointBreakers manages breakers keyed by endpoint URL, so a pool of
// interchangeable mirrors can fail over without hammering a dead one.
type EndpointBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
}

// NewEndpointBreakers creates an empty registry.
func NewEndpointBreakers(cfg BreakerConfig) *EndpointBreakers {
	return &EndpointBreakers{breakers: make(map[string]*Breaker), cfg: cfg}
}

// Get returns the breaker for an endpoint, creating one on first use.
func (eb *EndpointBreakers) Get(endpoint string) *Breaker {
	eb.mu.RLock()
	b, ok := eb.breakers[endpoint]
	eb.mu.RUnlock()
	if ok {
		return b
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if b, ok = eb.breakers[endpoint]; ok {
		return b
	}
	b = NewBreaker(eb.cfg)
	eb.breakers[endpoint] = b
	return b
}
