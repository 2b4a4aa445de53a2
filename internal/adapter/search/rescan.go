package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"conductor-ai/internal/domain"
)

// Rescanner triggers periodic Reindex runs on a cron schedule.
type Rescanner struct {
	cron   *cron.Cron
	index  *Index
	bus    domain.EventBus // optional
	logger *slog.Logger
}

// NewRescanner schedules spec (standard 5-field cron syntax) against
// the index. Start must be called to begin scanning.
func NewRescanner(index *Index, spec string, bus domain.EventBus, logger *slog.Logger) (*Rescanner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Rescanner{
		cron:   cron.New(),
		index:  index,
		bus:    bus,
		logger: logger,
	}

	if _, err := r.cron.AddFunc(spec, r.run); err != nil {
		return nil, domain.NewDomainError("search.NewRescanner", domain.ErrInvalidInput,
			"bad cron spec "+spec+": "+err.Error())
	}
	return r, nil
}

func (r *Rescanner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := r.index.Reindex(ctx); err != nil {
		r.logger.Error("scheduled rescan failed", "error", err)
		return
	}
	if r.bus != nil {
		r.bus.Publish(ctx, domain.Event{
			Type:      domain.EventIndexRescan,
			Timestamp: time.Now(),
		})
	}
}

// Start begins the schedule on the cron's own goroutine.
func (r *Rescanner) Start() { r.cron.Start() }

// Stop halts the schedule and waits for a running scan to finish.
func (r *Rescanner) Stop() {
	<-r.cron.Stop().Done()
}
