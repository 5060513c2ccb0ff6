package limits

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ConnectionRateLimiter throttles TCP connection attempts at two levels:
// per source IP and process-wide. Embedded devices reconnect in herds
// after power or network loss; the token buckets absorb legitimate bursts
// while shedding floods before a session goroutine is spawned.
type ConnectionRateLimiter struct {
	mu         sync.Mutex
	ipLimiters map[string]*ipLimiterEntry
	ipBurst    int
	ipRate     rate.Limit
	ipTTL      time.Duration

	globalLimiter *rate.Limiter

	logger zerolog.Logger
	stop   chan struct{}
	once   sync.Once
}

type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ConnectionRateLimiterConfig holds limiter settings. Zero values fall
// back to defaults suited for a few thousand devices per gateway.
type ConnectionRateLimiterConfig struct {
	IPBurst     int           // max burst connections per IP (default 10)
	IPRate      float64       // sustained connections/sec per IP (default 1)
	IPTTL       time.Duration // drop idle per-IP buckets after this (default 5m)
	GlobalBurst int           // max burst connections process-wide (default 300)
	GlobalRate  float64       // sustained connections/sec process-wide (default 50)
	Logger      zerolog.Logger
}

// NewConnectionRateLimiter builds a limiter and starts its idle-bucket
// cleanup loop.
func NewConnectionRateLimiter(cfg ConnectionRateLimiterConfig) *ConnectionRateLimiter {
	if cfg.IPBurst == 0 {
		cfg.IPBurst = 10
	}
	if cfg.IPRate == 0 {
		cfg.IPRate = 1.0
	}
	if cfg.IPTTL == 0 {
		cfg.IPTTL = 5 * time.Minute
	}
	if cfg.GlobalBurst == 0 {
		cfg.GlobalBurst = 300
	}
	if cfg.GlobalRate == 0 {
		cfg.GlobalRate = 50.0
	}

	l := &ConnectionRateLimiter{
		ipLimiters:    make(map[string]*ipLimiterEntry),
		ipBurst:       cfg.IPBurst,
		ipRate:        rate.Limit(cfg.IPRate),
		ipTTL:         cfg.IPTTL,
		globalLimiter: rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		logger:        cfg.Logger,
		stop:          make(chan struct{}),
	}

	go l.cleanupLoop()
	return l
}

// Allow reports whether a new connection from ip may proceed.
func (l *ConnectionRateLimiter) Allow(ip string) bool {
	if !l.globalLimiter.Allow() {
		l.logger.Warn().Str("ip", ip).Msg("global connection rate exceeded")
		return false
	}

	l.mu.Lock()
	entry, ok := l.ipLimiters[ip]
	if !ok {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(l.ipRate, l.ipBurst)}
		l.ipLimiters[ip] = entry
	}
	entry.lastAccess = time.Now()
	l.mu.Unlock()

	if !entry.limiter.Allow() {
		l.logger.Warn().Str("ip", ip).Msg("per-ip connection rate exceeded")
		return false
	}
	return true
}

// Stop terminates the cleanup loop.
func (l *ConnectionRateLimiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *ConnectionRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.ipTTL)
			l.mu.Lock()
			for ip, entry := range l.ipLimiters {
				if entry.lastAccess.Before(cutoff) {
					delete(l.ipLimiters, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}
