package middleware

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/hat-ai-tgbot-go/internal/config"
	"github.com/hat-ai-tgbot-go/internal/models"
	"github.com/hat-ai-tgbot-go/internal/syncutil"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Allow(senderID string) bool
	Reset(senderID string)
	Sweep(now time.Time) int
	Len() int
}

// UserRateLimiter implements per-sender fixed window limiting
type UserRateLimiter struct {
	enabled     bool
	windows     *cache.Cache
	locks       *syncutil.KeyedMutex
	window      time.Duration
	maxRequests int
	logger      *logrus.Logger
	now         func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.Config, logger *logrus.Logger) *UserRateLimiter {
	window := cfg.RateLimit.Window
	if window <= 0 {
		window = config.DefaultRateWindow
	}
	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = config.DefaultRateMaxRequests
	}

	// Expiry is decided against windowResetAt by Allow and Sweep, so the
	// go-cache janitor stays off.
	return &UserRateLimiter{
		enabled:     cfg.RateLimit.Enabled,
		windows:     cache.New(cache.NoExpiration, 0),
		locks:       syncutil.NewKeyedMutex(),
		window:      window,
		maxRequests: maxRequests,
		logger:      logger,
		now:         time.Now,
	}
}

// Allow checks if a sender is allowed to make a request. A missing sender
// identity is always admitted.
func (r *UserRateLimiter) Allow(senderID string) bool {
	if !r.enabled || senderID == "" {
		return true
	}

	unlock := r.locks.Lock(senderID)
	defer unlock()

	now := r.now()
	w, ok := r.load(senderID)
	if !ok || w.Expired(now) {
		r.windows.Set(senderID, models.RateWindow{Count: 1, WindowResetAt: now.Add(r.window)}, cache.NoExpiration)
		return true
	}

	if w.Count >= r.maxRequests {
		r.logger.WithFields(logrus.Fields{
			"sender_id": senderID,
			"reset_in":  w.WindowResetAt.Sub(now).Round(time.Second).String(),
		}).Warn("Rate limit exceeded")
		return false
	}

	w.Count++
	r.windows.Set(senderID, w, cache.NoExpiration)
	return true
}

// Reset drops the window for a sender
func (r *UserRateLimiter) Reset(senderID string) {
	unlock := r.locks.Lock(senderID)
	defer unlock()
	r.windows.Delete(senderID)
}

// Sweep removes every window whose reset time has passed and returns how many
// were removed.
func (r *UserRateLimiter) Sweep(now time.Time) int {
	removed := 0
	for key := range r.windows.Items() {
		unlock := r.locks.Lock(key)
		if w, ok := r.load(key); ok && w.Expired(now) {
			r.windows.Delete(key)
			removed++
		}
		unlock()
	}
	return removed
}

// Len returns the number of tracked windows
func (r *UserRateLimiter) Len() int {
	return r.windows.ItemCount()
}

func (r *UserRateLimiter) load(senderID string) (models.RateWindow, bool) {
	val, found := r.windows.Get(senderID)
	if !found {
		return models.RateWindow{}, false
	}
	return val.(models.RateWindow), true
}

// SecurityMiddleware provides security checks
type SecurityMiddleware struct {
	maxLength int
	logger    *logrus.Logger
}

// NewSecurityMiddleware creates security middleware
func NewSecurityMiddleware(maxLength int, logger *logrus.Logger) *SecurityMiddleware {
	if maxLength <= 0 {
		maxLength = config.DefaultMaxMessageLength
	}
	return &SecurityMiddleware{
		maxLength: maxLength,
		logger:    logger,
	}
}

// ValidateInput rejects messages longer than the configured limit, counted in
// characters.
func (s *SecurityMiddleware) ValidateInput(text string) error {
	if n := utf8.RuneCountInString(text); n > s.maxLength {
		return fmt.Errorf("message too long: %d characters (max %d)", n, s.maxLength)
	}
	return nil
}
