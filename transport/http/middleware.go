package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/layer-3/signet/adapters/ratelimit"
	"github.com/layer-3/signet/core"
	"github.com/layer-3/signet/ports"
	"github.com/layer-3/signet/service"
)

const sessionContextKey = "session"

// ClientIP resolves the caller address from proxy headers. Without either
// header every caller shares the "unknown" bucket.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return service.UnknownIP
}

func requestMeta(c *gin.Context) service.RequestMeta {
	return service.RequestMeta{
		IP:        ClientIP(c.Request),
		UserAgent: c.Request.UserAgent(),
		DeviceID:  service.GenerateDeviceID(c.Request),
	}
}

// sessionToken reads the auth cookie, then falls back to a bearer header
func sessionToken(c *gin.Context) string {
	if token, err := c.Cookie(AuthCookie); err == nil && token != "" {
		return token
	}
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return auth[7:]
	}
	return ""
}

// RateLimit rejects callers that exhausted the limiter window for their IP.
// A limiter failure lets the request through.
func RateLimit(category ratelimit.Category, limiter ports.RateLimiter, security *service.SecurityLogger, logger *zap.Logger) gin.HandlerFunc {
	retryAfter := ratelimit.RetryAfterSeconds(limiter.Window())
	return func(c *gin.Context) {
		ip := ClientIP(c.Request)

		limited, err := limiter.IsRateLimited(c.Request.Context(), ip)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("category", string(category)), zap.Error(err))
			c.Next()
			return
		}
		if !limited {
			c.Next()
			return
		}

		security.Log(c.Request.Context(), core.SecurityEvent{
			Type:      core.EventRateLimit,
			IP:        ip,
			UserAgent: c.Request.UserAgent(),
			Reason:    string(category),
		})
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":      "Too many requests",
			"retryAfter": retryAfter,
		})
	}
}

// RequireSession creates middleware that only lets requests with a valid
// session through
func RequireSession(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "reason": core.ReasonNoToken})
			return
		}

		session, err := authService.Check(c.Request.Context(), token, requestMeta(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "reason": core.ReasonFor(err)})
			return
		}

		c.Set(sessionContextKey, session)
		c.Next()
	}
}

// RequestLogger logs one line per request
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", ClientIP(c.Request)),
		)
	}
}

func sessionFromContext(c *gin.Context) (*core.Session, bool) {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	session, ok := v.(*core.Session)
	return session, ok
}
