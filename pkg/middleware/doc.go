// Package middleware provides request throttling for the API router.
//
// RateLimit throttles callers per user (or per client address before
// authentication) through a Limiter: MemoryLimiter is a per-process token
// bucket, RedisLimiter a fixed window shared between instances.
//
//	limiter := middleware.NewMemoryLimiter(middleware.DefaultRateLimitConfig())
//	router.Use(middleware.RateLimit(limiter, logger))
package middleware
