package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"apexwatch/internal/models"

	"github.com/redis/go-redis/v9"
)

// Queue stream field and dedup key settings.
const (
	queueEventField = "event"
	dedupKeyPrefix  = "event:seen:"
	dedupTTL        = 48 * time.Hour
	queueMaxLen     = 100000
)

// Delivery is the acknowledgment handle returned with each dequeued
// event. It stays valid until Ack or DeadLetter.
type Delivery struct {
	MessageID string
	Event     models.Event
	// Redelivered is true when the entry came back from the pending
	// list after an earlier dequeue that was never acknowledged.
	Redelivered bool
	// DeliveryCount is the consumer group's delivery counter for the
	// entry, which survives process restarts. Zero when unknown.
	DeliveryCount int64
}

// QueueService is the durable event queue: an append-only Redis stream
// consumed through a consumer group with at-least-once delivery. Events
// that exceed the retry ceiling move to a dead-letter stream and the
// original entry is acknowledged, so nothing is ever silently dropped.
type QueueService struct {
	redis      *RedisService
	stream     string
	group      string
	consumer   string
	deadStream string
}

// NewQueueService creates the queue and ensures the consumer group
// exists on the stream.
func NewQueueService(redisService *RedisService, stream, group, consumer, deadStream string) (*QueueService, error) {
	q := &QueueService{
		redis:      redisService,
		stream:     stream,
		group:      group,
		consumer:   consumer,
		deadStream: deadStream,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := q.redis.Client().XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	log.Printf("✅ Event queue ready (stream: %s, group: %s, consumer: %s)", stream, group, consumer)
	return q, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Enqueue durably records an event on the stream. Resubmissions of the
// same event ID are absorbed here: the dedup key is set once and later
// submissions return without a second stream entry.
func (q *QueueService) Enqueue(ctx context.Context, event models.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	fresh, err := q.redis.SetNX(ctx, dedupKeyPrefix+event.ID, 1, dedupTTL)
	if err != nil {
		return models.NewStoreError("queue dedup check failed", err)
	}
	if !fresh {
		log.Printf("⚠️ [QUEUE] Duplicate event %s ignored", event.ID)
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		q.releaseDedup(ctx, event.ID)
		return models.NewValidationError(fmt.Sprintf("event not encodable: %v", err))
	}

	err = q.redis.Client().XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: queueMaxLen,
		Approx: true,
		Values: map[string]interface{}{queueEventField: string(body)},
	}).Err()
	if err != nil {
		// The dedup key was claimed but no entry landed. Without the
		// release, a resubmission of the same event would be absorbed
		// as a duplicate and the event lost for the key's lifetime.
		q.releaseDedup(ctx, event.ID)
		return models.NewStoreError("queue append failed", err)
	}

	return nil
}

func (q *QueueService) releaseDedup(ctx context.Context, eventID string) {
	if err := q.redis.Client().Del(ctx, dedupKeyPrefix+eventID).Err(); err != nil {
		log.Printf("❌ [QUEUE] Could not release dedup key for event %s, resubmission blocked for %s: %v",
			eventID, dedupTTL, err)
	}
}

// Dequeue blocks until one event is available and returns it with its
// acknowledgment handle. Entries this consumer dequeued earlier but
// never acknowledged are returned first, in their original order, which
// is what makes an unacknowledged crash or nack a retry rather than a
// loss.
func (q *QueueService) Dequeue(ctx context.Context) (*Delivery, error) {
	// Own pending entries first.
	if d, err := q.readOne(ctx, "0", 0); err != nil || d != nil {
		if d != nil {
			d.Redelivered = true
			d.DeliveryCount = q.deliveryCount(ctx, d.MessageID)
		}
		return d, err
	}

	// Then block for new entries. A finite block keeps the loop
	// responsive to shutdown.
	return q.readOne(ctx, ">", 5*time.Second)
}

func (q *QueueService) readOne(ctx context.Context, id string, block time.Duration) (*Delivery, error) {
	args := &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, id},
		Count:    1,
	}
	if block > 0 {
		args.Block = block
	}

	res, err := q.redis.Client().XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, models.NewStoreError("queue read failed", err)
	}

	for _, stream := range res {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values[queueEventField].(string)
			if !ok {
				// Entry without an event body cannot be processed;
				// route it straight to the dead-letter stream.
				log.Printf("❌ [QUEUE] Malformed stream entry %s, dead-lettering", msg.ID)
				d := &Delivery{MessageID: msg.ID}
				_ = q.DeadLetter(ctx, d, "missing event field")
				continue
			}

			var event models.Event
			if err := json.Unmarshal([]byte(raw), &event); err != nil {
				log.Printf("❌ [QUEUE] Undecodable event in entry %s, dead-lettering: %v", msg.ID, err)
				d := &Delivery{MessageID: msg.ID}
				_ = q.DeadLetter(ctx, d, "undecodable event: "+err.Error())
				continue
			}

			return &Delivery{MessageID: msg.ID, Event: event}, nil
		}
	}
	return nil, nil
}

// deliveryCount reads the group's delivery counter for one pending
// entry. Best-effort; a lookup failure reports zero.
func (q *QueueService) deliveryCount(ctx context.Context, id string) int64 {
	pend, err := q.redis.Client().XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pend) == 0 {
		return 0
	}
	return pend[0].RetryCount
}

// Ack marks the delivered event as fully processed and removable.
func (q *QueueService) Ack(ctx context.Context, d *Delivery) error {
	if err := q.redis.Client().XAck(ctx, q.stream, q.group, d.MessageID).Err(); err != nil {
		return models.NewStoreError("queue ack failed", err)
	}
	return nil
}

// Nack leaves the delivery unacknowledged so the next Dequeue returns
// it again. The stream entry is untouched; retry-in-place is the
// processor's job and keeps the global order intact.
func (q *QueueService) Nack(ctx context.Context, d *Delivery, reason string) {
	log.Printf("🔄 [QUEUE] Event %s nacked, will redeliver (reason: %s)", d.Event.ID, reason)
}

// DeadLetter moves the delivery to the dead-letter stream and
// acknowledges the original entry. Terminal; manual intervention only.
func (q *QueueService) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
	values := map[string]interface{}{
		"reason":       reason,
		"dead_at":      time.Now().UTC().Format(time.RFC3339),
		"source_entry": d.MessageID,
	}
	if d.Event.ID != "" {
		body, err := json.Marshal(d.Event)
		if err == nil {
			values[queueEventField] = string(body)
		}
	}

	if err := q.redis.Client().XAdd(ctx, &redis.XAddArgs{
		Stream: q.deadStream,
		Values: values,
	}).Err(); err != nil {
		return models.NewStoreError("dead-letter append failed", err)
	}

	if err := q.redis.Client().XAck(ctx, q.stream, q.group, d.MessageID).Err(); err != nil {
		return models.NewStoreError("dead-letter ack failed", err)
	}

	log.Printf("💀 [QUEUE] Event %s dead-lettered: %s", d.Event.ID, reason)
	return nil
}

// Depth returns the number of entries currently on the stream.
func (q *QueueService) Depth(ctx context.Context) (int64, error) {
	return q.redis.Client().XLen(ctx, q.stream).Result()
}

// PendingCount returns how many deliveries are awaiting acknowledgment.
func (q *QueueService) PendingCount(ctx context.Context) (int64, error) {
	info, err := q.redis.Client().XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		return 0, err
	}
	return info.Count, nil
}

// ReclaimStale transfers pending entries stuck with dead consumers to
// this consumer. Run periodically; with a single active loop instance
// this only matters after an unclean failover.
func (q *QueueService) ReclaimStale(ctx context.Context, minIdle time.Duration) (int, error) {
	msgs, _, err := q.redis.Client().XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    100,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(msgs) > 0 {
		log.Printf("🔁 [QUEUE] Reclaimed %d stale pending entries", len(msgs))
	}
	return len(msgs), nil
}
