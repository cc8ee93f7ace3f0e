package middleware

import (
	"sync"

	"judgerunner/pkg/errors"
	"judgerunner/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig bounds inbound request rates. Zero rates disable a limit.
type RateLimitConfig struct {
	Enabled    bool    `yaml:"enabled"`
	GlobalRPS  float64 `yaml:"globalRps"`
	PerIPRPS   float64 `yaml:"perIpRps"`
	PerIPBurst int     `yaml:"perIpBurst"`
}

// RateLimiter applies a global and a per-client token bucket.
type RateLimiter struct {
	global   *rate.Limiter
	perIP    sync.Map
	ipRate   rate.Limit
	ipBurst  int
	onReject func()
}

// NewRateLimiter creates a limiter. onReject, if set, runs for every
// rejected request.
func NewRateLimiter(cfg RateLimitConfig, onReject func()) *RateLimiter {
	rl := &RateLimiter{
		ipRate:   rate.Limit(cfg.PerIPRPS),
		ipBurst:  cfg.PerIPBurst,
		onReject: onReject,
	}
	if cfg.GlobalRPS > 0 {
		burst := int(cfg.GlobalRPS) * 2
		if burst < 1 {
			burst = 1
		}
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}
	if rl.ipBurst <= 0 {
		rl.ipBurst = 1
	}
	return rl
}

func (rl *RateLimiter) ipLimiter(ip string) *rate.Limiter {
	if limiter, ok := rl.perIP.Load(ip); ok {
		return limiter.(*rate.Limiter)
	}
	limiter, _ := rl.perIP.LoadOrStore(ip, rate.NewLimiter(rl.ipRate, rl.ipBurst))
	return limiter.(*rate.Limiter)
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.global != nil && !rl.global.Allow() {
		return false
	}
	if rl.ipRate > 0 && !rl.ipLimiter(ip).Allow() {
		return false
	}
	return true
}

// Middleware rejects requests over the limit with TooManyRequests.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			if rl.onReject != nil {
				rl.onReject()
			}
			response.AbortWithErrorCode(c, errors.TooManyRequests, "")
			return
		}
		c.Next()
	}
}
