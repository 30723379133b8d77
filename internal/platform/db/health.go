package db

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// HealthCache bounds how often the health endpoint pings the database. It is
// an explicit injected collaborator, not package state, so each server owns
// its own cache lifetime.
type HealthCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	checkedAt time.Time
	lastErr   error
}

// NewHealthCache returns a cache that re-pings at most once per ttl.
func NewHealthCache(ttl time.Duration) *HealthCache {
	return &HealthCache{ttl: ttl}
}

// Check pings the database unless a result newer than the TTL is cached.
func (hc *HealthCache) Check(ctx context.Context, pool *pgxpool.Pool) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if time.Since(hc.checkedAt) < hc.ttl {
		return hc.lastErr
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	hc.lastErr = pool.Ping(pingCtx)
	hc.checkedAt = time.Now()
	return hc.lastErr
}

// HealthHandler returns a handler for the database health check endpoint.
func HealthHandler(pool *pgxpool.Pool, cache *HealthCache) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := cache.Check(c.Request().Context(), pool)
		stats := GetPoolStats(pool)

		if err != nil {
			stats.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   stats,
			})
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"pool":   stats,
		})
	}
}
