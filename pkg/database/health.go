package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus reports database reachability and connection pool statistics.
type HealthStatus struct {
	Status          string `json:"status"`
	ResponseTime    int64  `json:"response_time_ms"`
	TotalConns      int32  `json:"total_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	IdleConns       int32  `json:"idle_conns"`
	MaxConns        int32  `json:"max_conns"`
	EmptyAcquireCnt int64  `json:"empty_acquire_count"`
}

// Health pings the database over a dedicated connection and returns pool
// statistics. Acquiring a real connection means a healthy report implies a
// store call could get one too.
func Health(ctx context.Context, client *Client) (*HealthStatus, error) {
	start := time.Now()

	err := client.WithConn(ctx, func(conn *pgxpool.Conn) error {
		return conn.Ping(ctx)
	})
	if err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, Classify(err)
	}

	stats := client.Pool().Stat()

	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start).Milliseconds(),
		TotalConns:      stats.TotalConns(),
		AcquiredConns:   stats.AcquiredConns(),
		IdleConns:       stats.IdleConns(),
		MaxConns:        stats.MaxConns(),
		EmptyAcquireCnt: stats.EmptyAcquireCount(),
	}, nil
}
