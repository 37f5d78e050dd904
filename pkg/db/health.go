package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pingTimeout bounds a health probe when the caller's context has no deadline.
const pingTimeout = 2 * time.Second

// HealthStatus is one probe of the pool.
type HealthStatus struct {
	Latency       time.Duration `json:"latency_ns"`
	TotalConns    int32         `json:"total_conns"`
	IdleConns     int32         `json:"idle_conns"`
	AcquiredConns int32         `json:"acquired_conns"`
	Err           error         `json:"-"`
}

// Healthy reports whether the probe succeeded.
func (s HealthStatus) Healthy() bool { return s.Err == nil }

// Check pings the database and snapshots pool usage.
func Check(ctx context.Context, pool *pgxpool.Pool) HealthStatus {
	if pool == nil {
		return HealthStatus{Err: ErrNilPool}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pingTimeout)
		defer cancel()
	}

	start := time.Now()
	err := pool.Ping(ctx)
	status := HealthStatus{Latency: time.Since(start)}
	if err != nil {
		status.Err = fmt.Errorf("postgres ping: %w", err)
		return status
	}

	stat := pool.Stat()
	status.TotalConns = stat.TotalConns()
	status.IdleConns = stat.IdleConns()
	status.AcquiredConns = stat.AcquiredConns()
	return status
}
