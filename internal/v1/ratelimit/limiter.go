// Package ratelimit implements connection rate limiting using Redis or
// local memory.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/driftlabs/matchpoint/internal/v1/config"
	"github.com/driftlabs/matchpoint/internal/v1/logging"
	"github.com/driftlabs/matchpoint/internal/v1/metrics"
)

// Limiter guards the WebSocket accept path with a per-IP connect limit.
type Limiter struct {
	wsIP  *limiter.Limiter
	store limiter.Store
}

// New creates a Limiter from the configured rate. A nil redisClient
// falls back to an in-memory store.
func New(cfg *config.Config, redisClient *redis.Client) (*Limiter, error) {
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
	} else {
		store = memory.NewStore()
	}

	return &Limiter{
		wsIP:  limiter.New(store, wsIPRate),
		store: store,
	}, nil
}

// CheckWebSocket checks whether a WebSocket connection from this IP is
// allowed. Returns false after writing the 429 response. Store failures
// fail open: availability beats strictness here.
func (l *Limiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	ip := c.ClientIP()
	ipContext, err := l.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "WS rate limiter store failed", zap.Error(err))
		return true // Fail open
	}

	if ipContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipContext.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	metrics.RateLimitRequests.WithLabelValues("websocket_connect").Inc()
	return true
}
