// rate_limiter.go - Rate limiting for the enrollment service
package main

import (
	"sync"
	"time"
)

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillRate   int
	lastRefill   time.Time
	refillPeriod time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxTokens int, refillRate int, refillPeriod time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		lastRefill:   time.Now(),
		refillPeriod: refillPeriod,
	}
}

// Allow checks if a request is allowed and consumes a token if so
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	timeElapsed := now.Sub(rl.lastRefill)
	refillCount := int(timeElapsed / rl.refillPeriod)

	if refillCount > 0 {
		rl.tokens += refillCount * rl.refillRate
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}

	return false
}

// GetTokens returns the current number of available tokens
func (rl *RateLimiter) GetTokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.tokens
}

// Reset resets the rate limiter to its initial state
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = rl.maxTokens
	rl.lastRefill = time.Now()
}

// WalletRateLimiter manages rate limiting per wallet address
type WalletRateLimiter struct {
	limiters     map[string]*RateLimiter
	mu           sync.RWMutex
	maxTokens    int
	refillRate   int
	refillPeriod time.Duration
}

// NewWalletRateLimiter creates a new per-wallet rate limiter
func NewWalletRateLimiter(maxTokens int, refillRate int, refillPeriod time.Duration) *WalletRateLimiter {
	return &WalletRateLimiter{
		limiters:     make(map[string]*RateLimiter),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
	}
}

// Allow checks if a request from a wallet is allowed
func (wrl *WalletRateLimiter) Allow(wallet string) bool {
	wrl.mu.Lock()
	limiter, exists := wrl.limiters[wallet]
	if !exists {
		limiter = NewRateLimiter(wrl.maxTokens, wrl.refillRate, wrl.refillPeriod)
		wrl.limiters[wallet] = limiter
	}
	wrl.mu.Unlock()

	return limiter.Allow()
}

// GetTokens returns the current number of available tokens for a wallet
func (wrl *WalletRateLimiter) GetTokens(wallet string) int {
	wrl.mu.RLock()
	limiter, exists := wrl.limiters[wallet]
	wrl.mu.RUnlock()

	if !exists {
		return wrl.maxTokens
	}

	return limiter.GetTokens()
}

// Reset resets the rate limiter for a specific wallet
func (wrl *WalletRateLimiter) Reset(wallet string) {
	wrl.mu.Lock()
	if limiter, exists := wrl.limiters[wallet]; exists {
		limiter.Reset()
	}
	wrl.mu.Unlock()
}

// ResetAll resets all wallet rate limiters
func (wrl *WalletRateLimiter) ResetAll() {
	wrl.mu.Lock()
	for _, limiter := range wrl.limiters {
		limiter.Reset()
	}
	wrl.mu.Unlock()
}
