package simpleasset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor runs eviction sweeps on a cron schedule. Both the schedule and the
// bytes to reclaim per run come from configuration.
type Janitor struct {
	evictor *Evictor
	target  int64
	timeout time.Duration
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewJanitor parses schedule (standard five-field cron or a descriptor such
// as "@hourly") and prepares a janitor. It does not start it.
func NewJanitor(evictor *Evictor, schedule string, targetFreeBytes int64, logger *slog.Logger) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if targetFreeBytes <= 0 {
		return nil, fmt.Errorf("eviction target must be positive, got %d", targetFreeBytes)
	}
	j := &Janitor{
		evictor: evictor,
		target:  targetFreeBytes,
		timeout: 10 * time.Minute,
		cron:    cron.New(),
		logger:  logger.With("component", "janitor"),
	}
	if _, err := j.cron.AddFunc(schedule, j.tick); err != nil {
		return nil, fmt.Errorf("invalid eviction schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins running sweeps and stops them once ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	j.cron.Start()
	go func() {
		<-ctx.Done()
		j.Stop()
	}()
}

// Stop halts the schedule and waits for a running sweep to return.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	return j.evictor.Sweep(ctx, j.target)
}

func (j *Janitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.ErrorContext(ctx, "scheduled sweep failed", "err", err)
	}
}
