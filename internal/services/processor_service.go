package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"apexwatch/internal/logging"
	"apexwatch/internal/models"
	"apexwatch/internal/prompt"

	"github.com/google/uuid"
)

// Narrow dependency interfaces so the loop is testable against fakes.
// Production wiring passes the concrete services.

type EventQueue interface {
	Dequeue(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Nack(ctx context.Context, d *Delivery, reason string)
	DeadLetter(ctx context.Context, d *Delivery, reason string) error
}

type ContextStore interface {
	Load(ctx context.Context, assetID string) (models.Context, bool, error)
	Save(ctx context.Context, c models.Context, ttl time.Duration) error
}

type Refresher interface {
	Resolve(ctx context.Context, c models.Context, cfg models.AssetConfig, kind models.EventKind, now time.Time) (models.Context, bool)
}

type Invoker interface {
	Invoke(ctx context.Context, promptText string) (*Generation, error)
}

type Ledger interface {
	Append(ctx context.Context, t models.Thought) error
	Find(ctx context.Context, eventID string) (*models.Thought, error)
}

type Sink interface {
	Persist(ctx context.Context, event models.Event) error
	RecordOutcome(ctx context.Context, o models.Outcome)
}

type AssetSource interface {
	Get(assetID string) models.AssetConfig
}

// ProcessorService is the sequential processing loop: a single logical
// consumer that takes one event fully to completion before the next.
// That single-consumer invariant is what keeps context mutations
// causally ordered without any locking; correctness depends on the
// queue's consumer group delivering to one active loop at a time.
type ProcessorService struct {
	queue     EventQueue
	contexts  ContextStore
	refresher Refresher
	composer  *prompt.Composer
	invoker   Invoker
	ledger    Ledger
	analytics Sink
	assets    AssetSource
	metrics   *Metrics
	backoff   *BackoffCalculator

	// attempts tracks in-place retries per event ID; entries are
	// dropped once the event reaches a terminal state.
	attempts map[string]int

	sleep func(time.Duration)
	now   func() time.Time
}

// NewProcessorService wires the loop.
func NewProcessorService(
	queue EventQueue,
	contexts ContextStore,
	refresher Refresher,
	composer *prompt.Composer,
	invoker Invoker,
	ledger Ledger,
	analytics Sink,
	assets AssetSource,
	metrics *Metrics,
	backoff *BackoffCalculator,
) *ProcessorService {
	if backoff == nil {
		backoff = NewBackoffCalculator(2*time.Second, 30*time.Second, 2.0, 20)
	}
	return &ProcessorService{
		queue:     queue,
		contexts:  contexts,
		refresher: refresher,
		composer:  composer,
		invoker:   invoker,
		ledger:    ledger,
		analytics: analytics,
		assets:    assets,
		metrics:   metrics,
		backoff:   backoff,
		attempts:  make(map[string]int),
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// Run consumes events until the context is canceled. It never returns
// early on processing failures; those are retried in place so ordering
// is preserved.
func (p *ProcessorService) Run(ctx context.Context) {
	log.Println("🧠 [PROCESSOR] Sequential processing loop started")
	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 [PROCESSOR] Loop stopped")
			return
		default:
		}

		d, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			log.Printf("⚠️ [PROCESSOR] Dequeue failed, backing off: %v", err)
			p.sleep(p.backoff.NextDelay(0))
			continue
		}
		if d == nil {
			continue
		}

		p.handle(ctx, d)
	}
}

// handle drives one delivery to a terminal or retry-pending state.
func (p *ProcessorService) handle(ctx context.Context, d *Delivery) {
	event := d.Event
	cfg := p.assets.Get(event.AssetID)
	p.attempts[event.ID]++
	if n := int(d.DeliveryCount); n > p.attempts[event.ID] {
		// The consumer group remembers deliveries across restarts;
		// the in-process counter alone would reset the ceiling every
		// crash and let a poison event loop forever.
		p.attempts[event.ID] = n
	}
	attempt := p.attempts[event.ID]
	d.Event.Attempts = attempt

	logger := logging.WithEvent(event.ID, event.AssetID, string(event.Kind))
	start := p.now()
	queueWait := start.Sub(enqueueTime(d, event))

	outcome := models.Outcome{
		EventID:     event.ID,
		AssetID:     event.AssetID,
		EventKind:   event.Kind,
		Attempts:    attempt,
		QueueWaitMS: queueWait.Milliseconds(),
	}

	// Malformed events are terminal on first sight: retrying cannot
	// repair a payload.
	if err := event.Validate(); err != nil {
		logger.Error("event failed validation, dead-lettering", "error", err)
		p.terminate(ctx, d, &outcome, err)
		return
	}

	evCtx := ctx
	cancel := func() {}
	if cfg.EventTimeout > 0 {
		evCtx, cancel = context.WithTimeout(ctx, cfg.EventTimeout)
	}
	defer cancel()

	degraded, err := p.processOne(evCtx, d, cfg, &outcome)
	outcome.ProcessingMS = p.now().Sub(start).Milliseconds()
	outcome.Degraded = degraded

	if err == nil {
		outcome.Success = true
		delete(p.attempts, event.ID)
		p.analytics.RecordOutcome(ctx, outcome)
		if p.metrics != nil {
			p.metrics.RecordEvent(string(event.Kind), "acked")
			p.metrics.RecordLatency(float64(outcome.ProcessingMS) / 1000)
			p.metrics.RecordQueueWait(queueWait.Seconds())
			if degraded {
				p.metrics.RecordDegraded()
			}
		}
		logger.Info("event processed",
			"attempt", attempt,
			"degraded", degraded,
			"duration_ms", outcome.ProcessingMS)
		return
	}

	class := models.ClassOf(err)
	outcome.ErrorClass = string(class)

	if class == models.ErrValidation {
		logger.Error("event unprocessable, dead-lettering", "error", err)
		p.terminate(ctx, d, &outcome, err)
		return
	}

	if attempt >= cfg.RetryCeiling {
		// Same event failing past the ceiling, whatever the cause:
		// poison. Route it out so it stops blocking the queue head.
		logger.Error("retry ceiling exceeded, dead-lettering",
			"attempts", attempt, "error", err)
		outcome.ErrorClass = string(models.ErrPoison)
		p.terminate(ctx, d, &outcome, err)
		return
	}

	// Retry in place. The delivery stays pending, so the next dequeue
	// returns this same event; advancing past it would break the
	// ordering guarantee.
	delay := p.backoff.NextDelay(attempt - 1)
	logger.Warn("event failed, retrying in place",
		"class", class, "attempt", attempt, "retry_in", delay.String(), "error", err)
	p.queue.Nack(ctx, d, err.Error())
	p.analytics.RecordOutcome(ctx, outcome)
	if p.metrics != nil {
		p.metrics.RecordEvent(string(event.Kind), "retried")
	}
	p.sleep(delay)
}

// terminate routes a delivery to the dead-letter stream.
func (p *ProcessorService) terminate(ctx context.Context, d *Delivery, outcome *models.Outcome, cause error) {
	if err := p.queue.DeadLetter(ctx, d, cause.Error()); err != nil {
		// The entry stays pending and will be retried; better than
		// losing it.
		log.Printf("❌ [PROCESSOR] Dead-letter failed for event %s: %v", d.Event.ID, err)
		return
	}
	outcome.DeadLettered = true
	delete(p.attempts, d.Event.ID)
	p.analytics.RecordOutcome(ctx, *outcome)
	if p.metrics != nil {
		p.metrics.RecordEvent(string(d.Event.Kind), "dead_lettered")
		p.metrics.RecordDeadLetter()
	}
}

// processOne runs the state machine for a single event:
// ContextLoaded → (Refreshing) → PromptReady → Invoking →
// ThoughtPersisted → ContextSaved → Acknowledged. Any failure leaves
// the delivery unacknowledged; nothing before Ack is a partial commit
// because context is only saved after the thought is durable and
// reprocessing re-derives everything from the same inputs.
func (p *ProcessorService) processOne(ctx context.Context, d *Delivery, cfg models.AssetConfig, outcome *models.Outcome) (bool, error) {
	event := d.Event
	state := models.StateDequeued

	// A redelivered event whose thought already landed only needs the
	// tail of the cycle: the ledger would reject a second append
	// anyway, and regenerating would burn a model call. The prior
	// cycle may have died between the append and the context save, so
	// the stored thought is replayed into the context before the ack.
	if d.Redelivered {
		if prior, err := p.ledger.Find(ctx, event.ID); err == nil && prior != nil {
			return false, p.completeRedelivered(ctx, d, cfg, prior)
		}
	}

	// Load context; store unavailability degrades to an empty context
	// rather than stalling the loop.
	assetCtx, _, loadErr := p.contexts.Load(ctx, event.AssetID)
	degraded := loadErr != nil
	state = models.TransitionEventState(state, models.StateContextLoaded)

	// Refresh stale segments from collectors; failure degrades.
	state = models.TransitionEventState(state, models.StateRefreshing)
	now := p.now()
	refreshed, refreshDegraded := p.refresher.Resolve(ctx, assetCtx, cfg, event.Kind, now)
	assetCtx = refreshed
	degraded = degraded || refreshDegraded

	promptText, err := p.composer.Compose(assetCtx, event)
	if err != nil {
		return degraded, err
	}
	state = models.TransitionEventState(state, models.StatePromptReady)

	state = models.TransitionEventState(state, models.StateInvoking)
	gen, err := p.invoker.Invoke(ctx, promptText)
	if err != nil {
		return degraded, err
	}

	thought := models.Thought{
		ID:         uuid.New().String(),
		AssetID:    event.AssetID,
		EventID:    event.ID,
		EventKind:  event.Kind,
		Prompt:     promptText,
		Content:    gen.Content,
		Model:      gen.Model,
		TokensUsed: gen.TokensUsed,
		DurationMS: gen.Duration.Milliseconds(),
		Degraded:   degraded,
		CreatedAt:  p.now(),
	}
	if err := p.ledger.Append(ctx, thought); err != nil {
		return degraded, err
	}
	state = models.TransitionEventState(state, models.StateThoughtPersisted)

	assetCtx = assetCtx.AppendThought(event.Kind, gen.Content, p.now())
	assetCtx.LastEventID = event.ID
	if err := p.contexts.Save(ctx, assetCtx, cfg.ContextTTL); err != nil {
		return degraded, err
	}
	state = models.TransitionEventState(state, models.StateContextSaved)

	// Analytics are best-effort relative to the ledger: log and move
	// on, never hold the event hostage.
	if err := p.analytics.Persist(ctx, event); err != nil {
		log.Printf("⚠️ [PROCESSOR] Analytics persist failed for event %s (continuing): %v", event.ID, err)
	}

	if err := p.queue.Ack(ctx, d); err != nil {
		return degraded, err
	}
	state = models.TransitionEventState(state, models.StateAcknowledged)
	if !models.IsTerminalState(state) {
		return degraded, fmt.Errorf("event %s ended in non-terminal state %s", event.ID, state)
	}
	return degraded, nil
}

// completeRedelivered finishes an event whose thought survived a prior
// cycle. The context's LastEventID says whether the save landed too: if
// it did not, the stored thought is folded in and saved before the ack
// so the entry never commits half-applied. A failing context load or
// save leaves the entry pending for another round.
func (p *ProcessorService) completeRedelivered(ctx context.Context, d *Delivery, cfg models.AssetConfig, prior *models.Thought) error {
	event := d.Event
	assetCtx, _, err := p.contexts.Load(ctx, event.AssetID)
	if err != nil {
		return err
	}
	if assetCtx.LastEventID != event.ID {
		assetCtx = assetCtx.AppendThought(event.Kind, prior.Content, p.now())
		assetCtx.LastEventID = event.ID
		if err := p.contexts.Save(ctx, assetCtx, cfg.ContextTTL); err != nil {
			return err
		}
	}
	log.Printf("♻️ [PROCESSOR] Event %s already has a thought, completing without regeneration", event.ID)
	return p.queue.Ack(ctx, d)
}

// enqueueTime recovers the durable-enqueue time from the stream entry
// ID (millisecond prefix), falling back to the envelope timestamp.
func enqueueTime(d *Delivery, event models.Event) time.Time {
	if i := strings.Index(d.MessageID, "-"); i > 0 {
		if ms, err := strconv.ParseInt(d.MessageID[:i], 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
	}
	return event.Timestamp
}
