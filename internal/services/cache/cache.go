package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hat-ai-tgbot-go/internal/models"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// DefaultProbeTTL is how long a reachability result is reused
const DefaultProbeTTL = 30 * time.Second

// Prober checks whether a backend answers
type Prober interface {
	Name() string
	Endpoint() string
	Ping(ctx context.Context) error
}

// Service returns backend reachability, cached or fresh
type Service interface {
	Probe(ctx context.Context, p Prober) models.ProbeResult
}

// ProbeCache keeps recent reachability results
type ProbeCache struct {
	cache  *cache.Cache
	logger *logrus.Logger
	now    func() time.Time
}

// NewProbeCache creates a probe cache. Non-positive ttl uses DefaultProbeTTL.
func NewProbeCache(ttl time.Duration, logger *logrus.Logger) *ProbeCache {
	if ttl <= 0 {
		ttl = DefaultProbeTTL
	}
	return &ProbeCache{
		cache:  cache.New(ttl, ttl*2),
		logger: logger,
		now:    time.Now,
	}
}

func (c *ProbeCache) get(provider, endpoint string) (models.ProbeResult, bool) {
	key := c.generateKey(provider, endpoint)
	if val, found := c.cache.Get(key); found {
		entry := val.(models.ProbeResult)
		c.logger.WithFields(logrus.Fields{
			"provider": provider,
			"age":      c.now().Sub(entry.CheckedAt).String(),
		}).Debug("Probe cache hit")
		return entry, true
	}
	return models.ProbeResult{}, false
}

func (c *ProbeCache) set(provider, endpoint string, result models.ProbeResult) {
	c.cache.SetDefault(c.generateKey(provider, endpoint), result)
}

// Probe returns the cached result for p or pings it and caches the outcome
func (c *ProbeCache) Probe(ctx context.Context, p Prober) models.ProbeResult {
	if result, ok := c.get(p.Name(), p.Endpoint()); ok {
		return result
	}

	err := p.Ping(ctx)
	result := models.ProbeResult{Reachable: err == nil, CheckedAt: c.now()}
	if err != nil {
		c.logger.WithField("provider", p.Name()).Debug("Backend probe failed")
	}
	c.set(p.Name(), p.Endpoint(), result)
	return result
}

// generateKey creates a unique cache key
func (c *ProbeCache) generateKey(provider, endpoint string) string {
	data := fmt.Sprintf("%s:%s", provider, endpoint)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
