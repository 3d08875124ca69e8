package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/domain"
)

const DefaultJobTTL = 2 * time.Hour

// ExpiryProcessor forces stale non-terminal jobs to EXPIRED. It satisfies
// jobs.JobProcessor so the background worker can run it on a ticker.
type ExpiryProcessor struct {
	store  JobStore
	events Publisher
	ttl    time.Duration
	now    func() time.Time
}

// NewExpiryProcessor creates an expiry sweep. Jobs whose last update is older
// than ttl are expired.
func NewExpiryProcessor(store JobStore, events Publisher, ttl time.Duration) *ExpiryProcessor {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	if events == nil {
		events = noopPublisher{}
	}
	return &ExpiryProcessor{store: store, events: events, ttl: ttl, now: time.Now}
}

// ProcessJobs runs one sweep.
func (p *ExpiryProcessor) ProcessJobs(ctx context.Context) error {
	_, err := p.ExpireStale(ctx)
	return err
}

// ExpireStale runs one sweep and returns the number of jobs expired.
func (p *ExpiryProcessor) ExpireStale(ctx context.Context) (int, error) {
	now := p.now().UTC()
	ids, err := p.store.ExpireStale(ctx, now.Add(-p.ttl))
	if err != nil {
		return 0, fmt.Errorf("expire stale jobs: %w", err)
	}

	for _, id := range ids {
		p.events.Publish(ctx, domain.Event{
			Name:      domain.EventExpired,
			JobID:     id,
			Status:    domain.JobStatusExpired,
			Message:   fmt.Sprintf("no progress for %s", p.ttl),
			Timestamp: now,
		})
	}
	if len(ids) > 0 {
		log.Printf("queue: expired %d stale jobs", len(ids))
	}
	return len(ids), nil
}
