/*
 * Copyright (c) 2025, Breakwater Networks Inc.
 * All rights reserved.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package server

import (
	"time"

	lrucache "github.com/cognusion/go-cache-lru"
	"golang.org/x/time/rate"
)

const (
	acceptRateLimiterReapFrequencySeconds = 300
	acceptRateLimiterMaxCacheEntries      = 1000000
)

// acceptRateLimiter imposes a per-source-IP rate limit on accepted
// connections. Per-IP limiter state is kept in an LRU cache with a TTL of
// the rate limit interval, so the table is bounded and idle source history
// is reaped.
type acceptRateLimiter struct {
	quantity     int
	interval     time.Duration
	rateLimiters *lrucache.Cache
}

// newAcceptRateLimiter creates an acceptRateLimiter permitting quantity
// accepts per interval per source IP. Returns nil when rate limiting is
// not configured; a nil acceptRateLimiter allows all accepts.
func newAcceptRateLimiter(config *Config) *acceptRateLimiter {

	if config.AcceptRateLimitQuantity <= 0 ||
		config.AcceptRateLimitIntervalMilliseconds <= 0 {
		return nil
	}

	return &acceptRateLimiter{
		quantity: config.AcceptRateLimitQuantity,
		interval: time.Duration(
			config.AcceptRateLimitIntervalMilliseconds) * time.Millisecond,
		rateLimiters: lrucache.NewWithLRU(
			0,
			time.Duration(acceptRateLimiterReapFrequencySeconds)*time.Second,
			acceptRateLimiterMaxCacheEntries),
	}
}

// allow checks and updates the rate limit state for the given source IP,
// returning false when the accept should be rejected.
func (limiter *acceptRateLimiter) allow(IPAddress string) bool {

	if limiter == nil {
		return true
	}

	var rateLimiter *rate.Limiter

	entry, ok := limiter.rateLimiters.Get(IPAddress)
	if ok {
		rateLimiter = entry.(*rate.Limiter)
	} else {
		limit := float64(limiter.quantity) / limiter.interval.Seconds()
		rateLimiter = rate.NewLimiter(rate.Limit(limit), limiter.quantity)
		limiter.rateLimiters.Set(
			IPAddress, rateLimiter, limiter.interval)
	}

	return rateLimiter.Allow()
}
