package services

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RateLimiter admits at most limit requests per client key in any sliding
// window of the configured length. Keys whose window empties are dropped by
// Sweep so that a churn of distinct clients cannot grow the map forever.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string][]time.Time
	now     func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Admit records a request for key and reports whether it is within the limit.
// Rejected requests are not recorded.
func (rl *RateLimiter) Admit(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	stamps := rl.evict(rl.clients[key], now)
	if len(stamps) >= rl.limit {
		rl.clients[key] = stamps
		return false
	}
	rl.clients[key] = append(stamps, now)
	return true
}

// Sweep evicts expired entries everywhere and forgets idle keys. It returns
// the number of keys removed.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, stamps := range rl.clients {
		stamps = rl.evict(stamps, now)
		if len(stamps) == 0 {
			delete(rl.clients, key)
			removed++
			continue
		}
		rl.clients[key] = stamps
	}
	return removed
}

// Clients returns the number of keys currently tracked.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Run sweeps every interval until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rl.Sweep(); n > 0 {
				logger.Debug("rate limiter swept idle clients", "removed", n, "remaining", rl.Clients())
			}
		}
	}
}

// evict drops timestamps at least one window old from the front.
func (rl *RateLimiter) evict(stamps []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(stamps) && now.Sub(stamps[i]) >= rl.window {
		i++
	}
	if i == 0 {
		return stamps
	}
	// copy down so the backing array does not keep growing from the front
	n := copy(stamps, stamps[i:])
	return stamps[:n]
}
