package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/layer-3/signet/adapters/ratelimit"
	"github.com/layer-3/signet/ports"
	"github.com/layer-3/signet/service"
)

// RouterConfig carries the collaborators the router wires around the auth service
type RouterConfig struct {
	Production bool
	Limiters   map[ratelimit.Category]ports.RateLimiter
	Security   *service.SecurityLogger
	Gatherer   prometheus.Gatherer
	Logger     *zap.Logger
}

var routedCategories = []ratelimit.Category{
	ratelimit.CategoryNonce,
	ratelimit.CategoryVerify,
	ratelimit.CategoryCheck,
	ratelimit.CategoryLogout,
	ratelimit.CategoryBlacklist,
}

// RoutedCategories lists the rate limit categories the router applies
func RoutedCategories() []ratelimit.Category {
	return append([]ratelimit.Category(nil), routedCategories...)
}

// SetupRouter sets up the Gin router
func SetupRouter(authService *service.AuthService, cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Security == nil {
		cfg.Security = service.NewSecurityLogger(cfg.Logger, nil, nil)
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(cfg.Logger))

	handlers := NewAuthHandlers(authService, cfg.Production)

	// Categories without a configured limiter get a process-local one
	limiters := make(map[ratelimit.Category]ports.RateLimiter, len(routedCategories))
	for _, category := range routedCategories {
		if l, ok := cfg.Limiters[category]; ok {
			limiters[category] = l
		} else {
			limiters[category] = ratelimit.NewMemoryLimiter(ratelimit.DefaultPolicies[category])
		}
	}
	limit := func(category ratelimit.Category) gin.HandlerFunc {
		return RateLimit(category, limiters[category], cfg.Security, cfg.Logger)
	}

	router.GET("/healthz", handlers.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))

	// Auth routes
	auth := router.Group("/auth")
	{
		auth.GET("/nonce", limit(ratelimit.CategoryNonce), handlers.GetNonce)
		auth.POST("/nonce", limit(ratelimit.CategoryNonce), handlers.PostNonce)
		auth.POST("/verify", limit(ratelimit.CategoryVerify), handlers.Verify)
		auth.GET("/check", limit(ratelimit.CategoryCheck), handlers.Check)
		auth.POST("/logout", limit(ratelimit.CategoryLogout), handlers.Logout)
		auth.POST("/sessions/blacklist", limit(ratelimit.CategoryBlacklist), handlers.Blacklist)
		auth.GET("/sessions", limit(ratelimit.CategoryCheck), RequireSession(authService), handlers.Sessions)
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(RequireSession(authService))
	{
		api.GET("/me", handlers.Me)
	}

	return router
}
