// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"net"
	"sync"
	"time"

	"github.com/absmach/relaymq/config"
	"golang.org/x/time/rate"
)

// IPRateLimiter manages rate limiting for IP addresses (connection layer).
// Used to limit connection attempts per IP to prevent DoS attacks.
type IPRateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*ipEntry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	stopCh   chan struct{}
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a new IP-based rate limiter.
// rate is connections per second, burst is the burst allowance.
func NewIPRateLimiter(r float64, burst int, cleanupInterval time.Duration) *IPRateLimiter {
	l := &IPRateLimiter{
		limiters: make(map[string]*ipEntry),
		rate:     rate.Limit(r),
		burst:    burst,
		cleanup:  cleanupInterval,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow checks if a connection from the given IP address is allowed.
// Returns true if the connection is allowed, false if rate limited.
func (l *IPRateLimiter) Allow(addr net.Addr) bool {
	ip := extractIP(addr)
	if ip == "" {
		return true // Allow if we can't extract IP
	}

	l.mu.Lock()
	entry, exists := l.limiters[ip]
	if !exists {
		entry = &ipEntry{
			limiter:  rate.NewLimiter(l.rate, l.burst),
			lastSeen: time.Now(),
		}
		l.limiters[ip] = entry
	} else {
		entry.lastSeen = time.Now()
	}
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

// cleanupLoop periodically removes stale entries.
func (l *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup_stale()
		case <-l.stopCh:
			return
		}
	}
}

func (l *IPRateLimiter) cleanup_stale() {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := time.Now().Add(-l.cleanup * 2)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(threshold) {
			delete(l.limiters, ip)
		}
	}
}

// Stop stops the cleanup goroutine.
func (l *IPRateLimiter) Stop() {
	close(l.stopCh)
}

// ClientRateLimiter manages per-client publish rate limiting.
type ClientRateLimiter struct {
	mu              sync.RWMutex
	messageLimiters map[string]*rate.Limiter
	messageRate     rate.Limit
	messageBurst    int
}

// NewClientRateLimiter creates a new client-based rate limiter.
func NewClientRateLimiter(messageRate float64, messageBurst int) *ClientRateLimiter {
	return &ClientRateLimiter{
		messageLimiters: make(map[string]*rate.Limiter),
		messageRate:     rate.Limit(messageRate),
		messageBurst:    messageBurst,
	}
}

// AllowPublish checks if a publish from the given client is allowed.
// Returns true if allowed, false if rate limited.
func (l *ClientRateLimiter) AllowPublish(clientID string) bool {
	l.mu.Lock()
	limiter, exists := l.messageLimiters[clientID]
	if !exists {
		limiter = rate.NewLimiter(l.messageRate, l.messageBurst)
		l.messageLimiters[clientID] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// RemoveClient removes rate limiters for a disconnected client.
func (l *ClientRateLimiter) RemoveClient(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.messageLimiters, clientID)
}

// extractIP extracts the IP address from a net.Addr.
func extractIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}

	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	default:
		// Try to parse as host:port format
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return addr.String()
		}
		return host
	}
}

// cleanupInterval is how often stale per-IP entries are removed.
const cleanupInterval = 5 * time.Minute

// Manager coordinates all rate limiters.
type Manager struct {
	cfg      config.RateLimitConfig
	ip       *IPRateLimiter
	client   *ClientRateLimiter
	disabled bool
}

// NewManager creates a new rate limit manager.
func NewManager(cfg config.RateLimitConfig) *Manager {
	if !cfg.Enabled {
		return &Manager{disabled: true, cfg: cfg}
	}

	return &Manager{
		cfg:    cfg,
		ip:     NewIPRateLimiter(cfg.ConnRate, cfg.ConnBurst, cleanupInterval),
		client: NewClientRateLimiter(cfg.MessageRate, cfg.MessageBurst),
	}
}

// AllowConnection checks if a new connection from the given address is allowed.
func (m *Manager) AllowConnection(addr net.Addr) bool {
	if m.disabled || m.ip == nil {
		return true
	}
	return m.ip.Allow(addr)
}

// AllowPublish checks if a publish from the given client is allowed.
func (m *Manager) AllowPublish(clientID string) bool {
	if m.disabled || m.client == nil {
		return true
	}
	return m.client.AllowPublish(clientID)
}

// AllowSubscription checks if a client holding the given number of
// subscriptions may add another one.
func (m *Manager) AllowSubscription(clientID string, current int) bool {
	if m.disabled || m.cfg.MaxSubscriptions == 0 {
		return true
	}
	return current < m.cfg.MaxSubscriptions
}

// OnClientDisconnect cleans up rate limiters for a disconnected client.
func (m *Manager) OnClientDisconnect(clientID string) {
	if m.disabled || m.client == nil {
		return
	}
	m.client.RemoveClient(clientID)
}

// Stop stops the rate limiter manager and cleans up resources.
func (m *Manager) Stop() {
	if m.ip != nil {
		m.ip.Stop()
	}
}
