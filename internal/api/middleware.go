package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/energizer-project/quarry/internal/config"
)

// Permission levels. Each level includes the ones before it.
const (
	PermMonitor   = "monitor"   // read status, players and bans
	PermControl   = "control"   // kick and broadcast
	PermConfigure = "configure" // change the MOTD and the ban list
)

var permRank = map[string]int{
	PermMonitor:   1,
	PermControl:   2,
	PermConfigure: 3,
}

const permissionKey = "permission"

// AuthMiddleware checks bearer tokens. The admin token grants every
// permission, the monitor token grants read access only.
type AuthMiddleware struct {
	token        string
	monitorToken string
}

// NewAuthMiddleware creates an auth middleware for the API section.
func NewAuthMiddleware(cfg config.APIConfig) *AuthMiddleware {
	return &AuthMiddleware{
		token:        cfg.Token,
		monitorToken: cfg.MonitorToken,
	}
}

// RequireAuth rejects requests without a known token. With no tokens
// configured every request is refused.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or invalid authorization header",
			})
			return
		}

		switch {
		case tokenMatches(token, am.token):
			c.Set(permissionKey, PermConfigure)
		case tokenMatches(token, am.monitorToken):
			c.Set(permissionKey, PermMonitor)
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			return
		}
		c.Next()
	}
}

// RequirePermission rejects callers whose token is below permission.
func (am *AuthMiddleware) RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		granted := c.GetString(permissionKey)
		if permRank[granted] < permRank[permission] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "insufficient permissions",
				"required": permission,
			})
			return
		}
		c.Next()
	}
}

func tokenMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// RateLimiter throttles requests per client IP with a token bucket.
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter creates a rate limiter allowing rps requests per second
// with bursts of twice that. A non-positive rps disables limiting.
func NewRateLimiter(rps int) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   rps * 2,
		clients: expirable.NewLRU[string, *rate.Limiter](4096, nil, 10*time.Minute),
	}
}

// Middleware returns a Gin middleware that rate limits by client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 {
			c.Next()
			return
		}
		if !rl.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	lim, ok := rl.clients.Get(ip)
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.burst)
		rl.clients.Add(ip, lim)
	}
	rl.mu.Unlock()
	return lim.Allow()
}

// SecurityHeaders adds security-related HTTP headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Server", "Quarry")
		c.Next()
	}
}

// HTTPObserver records request metrics.
type HTTPObserver interface {
	ObserveHTTP(method, path string, status int, elapsed time.Duration)
}

// RequestLogger logs each request and reports it to obs when set.
func RequestLogger(obs HTTPObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		if obs != nil {
			obs.ObserveHTTP(c.Request.Method, path, c.Writer.Status(), duration)
		}
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("api request")
	}
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
