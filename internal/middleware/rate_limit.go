package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukepan/chatroom-gateway/internal/contextkey"
	"github.com/dukepan/chatroom-gateway/internal/utils"
)

// RateLimiter implements a per-user token bucket stored in Redis, so the
// limit holds across every node of the cluster.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *utils.Logger
	// Token bucket parameters
	capacity float64 // Maximum number of tokens the bucket can hold
	rate     float64 // Tokens added per second
}

// NewRateLimiter creates a new RateLimiter instance.
func NewRateLimiter(redisClient *redis.Client, capacity int64, perSecond float64, logger *utils.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		capacity:    float64(capacity),
		rate:        perSecond,
	}
}

// Middleware applies rate limiting to HTTP requests. It must run after the
// authentication middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		userID, ok := req.Context().Value(contextkey.ContextKeyUserID).(int64)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized: user ID not found in context")
			return
		}

		if !rl.Allow(req.Context(), userID) {
			utils.RespondError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}

		next.ServeHTTP(w, req)
	})
}

// Allow checks if a request is allowed for a given user ID. Redis failures
// let the request through.
func (rl *RateLimiter) Allow(ctx context.Context, userID int64) bool {
	key := fmt.Sprintf("rate_limit:%d", userID)

	val, err := rl.redisClient.HMGet(ctx, key, "tokens", "last_refill").Result()
	if err != nil {
		rl.logger.Warn(ctx, "Error getting rate limit info from Redis: %v", err)
		return true
	}

	now := time.Now()
	tokens, last := rl.capacity, now
	if s, ok := val[0].(string); ok {
		if t, err := strconv.ParseFloat(s, 64); err == nil {
			tokens = t
		}
	}
	if s, ok := val[1].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			last = t
		}
	}

	tokens, allowed := take(tokens, last, now, rl.capacity, rl.rate)

	pipe := rl.redisClient.TxPipeline()
	pipe.HSet(ctx, key, "tokens", tokens, "last_refill", now.Format(time.RFC3339Nano))
	pipe.Expire(ctx, key, rl.idleTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Warn(ctx, "Error setting rate limit info to Redis: %v", err)
	}
	return allowed
}

// idleTTL is how long an untouched bucket takes to refill completely; after
// that its key carries no information.
func (rl *RateLimiter) idleTTL() time.Duration {
	if rl.rate <= 0 {
		return time.Hour
	}
	return time.Duration(math.Ceil(rl.capacity/rl.rate)) * time.Second
}

// take refills the bucket for the time elapsed since last and consumes one
// token if available.
func take(tokens float64, last, now time.Time, capacity, rate float64) (float64, bool) {
	if elapsed := now.Sub(last).Seconds(); elapsed > 0 {
		tokens = math.Min(capacity, tokens+elapsed*rate)
	}
	if tokens < 1 {
		return tokens, false
	}
	return tokens - 1, true
}
