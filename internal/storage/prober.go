package storage

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Pinger is satisfied by *DB.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober pings the database on an interval and remembers the last outcome
// so health checks never block on a dead connection.
type Prober struct {
	db       Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	healthy  atomic.Bool
}

func NewProber(db Pinger, interval time.Duration, logger *slog.Logger) *Prober {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	p := &Prober{
		db:       db,
		interval: interval,
		timeout:  interval / 2,
		logger:   logger,
	}
	p.healthy.Store(true)
	return p
}

// Run probes until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

// Healthy reports the result of the most recent probe.
func (p *Prober) Healthy() bool {
	return p.healthy.Load()
}

func (p *Prober) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.db.Ping(pctx)
	if ctx.Err() != nil {
		return
	}
	ok := err == nil
	if prev := p.healthy.Swap(ok); prev != ok {
		if ok {
			p.logger.Info("storage: database reachable again")
		} else {
			p.logger.Error("storage: database probe failed", "error", err)
		}
	}
}
