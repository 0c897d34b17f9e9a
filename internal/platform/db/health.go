package db

import (
	"context"
	"time"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health is the database section of the service health report.
type Health struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Check pings the database with a five second bound. A nil pinger reports
// the database as disabled.
func Check(ctx context.Context, p Pinger) Health {
	if p == nil {
		return Health{Status: "disabled"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return Health{Status: "unhealthy", Error: err.Error()}
	}
	return Health{Status: "healthy", Latency: time.Since(start).String()}
}

// Healthy reports whether h does not indicate a failure.
func (h Health) Healthy() bool {
	return h.Status != "unhealthy"
}
