package api

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window request counter kept in redis. A nil
// client lets every request through.
type RateLimiter struct {
	redisClient *redis.Client
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{redisClient: client}
}

// Limit allows limit requests per client per window for routes sharing
// keySuffix. Redis errors fail open.
func (rl *RateLimiter) Limit(keySuffix string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.redisClient == nil || limit <= 0 {
			c.Next()
			return
		}

		client := c.ClientIP()
		if p, ok := principalFrom(c); ok {
			client = p.Subject
		}
		key := fmt.Sprintf("rate_limit:%s:%s", keySuffix, client)

		count, err := rl.redisClient.Incr(c, key).Result()
		if err != nil {
			log.Printf("API: rate limiter unavailable: %v", err)
			c.Next()
			return
		}

		if count == 1 {
			rl.redisClient.Expire(c, key, window)
		}

		if count > int64(limit) {
			ttl, _ := rl.redisClient.TTL(c, key).Result()
			c.Header("Retry-After", fmt.Sprintf("%.0f", ttl.Seconds()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": fmt.Sprintf("%.0fs", ttl.Seconds()),
			})
			return
		}
		c.Next()
	}
}
