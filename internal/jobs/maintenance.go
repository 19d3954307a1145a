// Package jobs runs the engine's periodic maintenance: thought
// retention pruning and reclaiming queue entries stranded by an
// unclean shutdown.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"apexwatch/internal/services"

	"github.com/go-co-op/gocron/v2"
)

// Maintenance owns the gocron scheduler and the recurring jobs.
type Maintenance struct {
	scheduler gocron.Scheduler

	ledger    *services.LedgerService
	queue     *services.QueueService
	retention time.Duration
}

// NewMaintenance builds the scheduler. Retention of zero disables the
// pruning job.
func NewMaintenance(ledger *services.LedgerService, queue *services.QueueService, retention time.Duration) (*Maintenance, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Maintenance{
		scheduler: scheduler,
		ledger:    ledger,
		queue:     queue,
		retention: retention,
	}, nil
}

// Start registers and starts the jobs.
func (m *Maintenance) Start() error {
	if m.retention > 0 {
		_, err := m.scheduler.NewJob(
			gocron.DurationJob(time.Hour),
			gocron.NewTask(m.pruneThoughts),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule retention job: %w", err)
		}
		log.Printf("⏰ [MAINTENANCE] Thought retention job scheduled (horizon: %s)", m.retention)
	}

	_, err := m.scheduler.NewJob(
		gocron.DurationJob(5*time.Minute),
		gocron.NewTask(m.reclaimStale),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule reclaim job: %w", err)
	}

	m.scheduler.Start()
	log.Println("✅ [MAINTENANCE] Scheduler started")
	return nil
}

func (m *Maintenance) pruneThoughts() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-m.retention)
	if _, err := m.ledger.PruneBefore(ctx, cutoff); err != nil {
		log.Printf("⚠️ [MAINTENANCE] Thought pruning failed: %v", err)
	}
}

// reclaimStale picks up pending deliveries whose consumer died without
// acknowledging. With a healthy single loop instance this is a no-op;
// after a failover it is what lets the replacement resume the stream.
func (m *Maintenance) reclaimStale() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := m.queue.ReclaimStale(ctx, 10*time.Minute); err != nil {
		log.Printf("⚠️ [MAINTENANCE] Stale reclaim failed: %v", err)
	}
}

// Stop shuts the scheduler down, waiting for running jobs.
func (m *Maintenance) Stop() error {
	return m.scheduler.Shutdown()
}
