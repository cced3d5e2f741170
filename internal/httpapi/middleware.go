package httpapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gabisonia/go-esquery/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/karlseguin/ccache/v2"
	"golang.org/x/time/rate"
)

// RequestLogger logs every request at info level.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

// RequestMetrics records request counts and latency by route.
func RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.ObserveRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

const (
	limiterIdleTTL  = 10 * time.Minute
	maxClientStates = 10000
)

// clientLimiters keeps one limiter per client. Idle clients expire after ttl
// and the least recently used ones are evicted beyond the size bound.
type clientLimiters struct {
	mu    sync.Mutex
	cache *ccache.Cache
	ttl   time.Duration
	rate  rate.Limit
	burst int
}

func newClientLimiters(limit rate.Limit, burst int, ttl time.Duration, maxSize int64) *clientLimiters {
	return &clientLimiters{
		cache: ccache.New(ccache.Configure().MaxSize(maxSize)),
		ttl:   ttl,
		rate:  limit,
		burst: burst,
	}
}

func (l *clientLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, _ := l.cache.Fetch(ip, l.ttl, func() (interface{}, error) {
		return rate.NewLimiter(l.rate, l.burst), nil
	})
	item.Extend(l.ttl)
	return item.Value().(*rate.Limiter)
}

// RateLimitMiddleware limits requests per client IP.
func RateLimitMiddleware(requestsPerMinute int, burst int) gin.HandlerFunc {
	limiters := newClientLimiters(rate.Every(time.Minute/time.Duration(requestsPerMinute)), burst, limiterIdleTTL, maxClientStates)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = c.RemoteIP()
		}
		if !limiters.get(ip).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}
