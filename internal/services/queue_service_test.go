package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"apexwatch/internal/models"

	"github.com/redis/go-redis/v9"
)

// streamFaults intercepts the commands Enqueue issues and answers them
// in-process, so the dedup/append sequencing can be exercised without
// a server. Injecting xaddErr simulates the stream write failing after
// the dedup key was already claimed.
type streamFaults struct {
	keys    map[string]struct{}
	entries int
	dels    []string
	xaddErr error
}

func newStreamFaults() *streamFaults {
	return &streamFaults{keys: make(map[string]struct{})}
}

func (h *streamFaults) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *streamFaults) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (h *streamFaults) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		switch cmd.Name() {
		case "set":
			key := cmd.Args()[1].(string)
			c := cmd.(*redis.BoolCmd)
			if _, dup := h.keys[key]; dup {
				c.SetVal(false)
			} else {
				h.keys[key] = struct{}{}
				c.SetVal(true)
			}
		case "xadd":
			c := cmd.(*redis.StringCmd)
			if h.xaddErr != nil {
				return h.xaddErr
			}
			h.entries++
			c.SetVal(fmt.Sprintf("%d-0", h.entries))
		case "del":
			key := cmd.Args()[1].(string)
			delete(h.keys, key)
			h.dels = append(h.dels, key)
			cmd.(*redis.IntCmd).SetVal(1)
		default:
			return next(ctx, cmd)
		}
		return nil
	}
}

func newHookedQueue(t *testing.T, h *streamFaults) *QueueService {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(h)
	t.Cleanup(func() { client.Close() })
	return &QueueService{
		redis:      &RedisService{client: client},
		stream:     "events",
		group:      "processors",
		consumer:   "loop-1",
		deadStream: "events:dead",
	}
}

func queueEvent(id string) models.Event {
	return models.Event{
		ID:        id,
		AssetID:   "BTC",
		Kind:      models.EventPriceChange,
		Payload:   json.RawMessage(`{"exchange":"binance","old_price":50000,"new_price":52500,"change_percent":5}`),
		Timestamp: time.Now().UTC(),
	}
}

func TestEnqueueAbsorbsDuplicates(t *testing.T) {
	h := newStreamFaults()
	q := newHookedQueue(t, h)
	ctx := context.Background()

	if err := q.Enqueue(ctx, queueEvent("e1")); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, queueEvent("e1")); err != nil {
		t.Fatalf("duplicate enqueue must succeed quietly: %v", err)
	}
	if h.entries != 1 {
		t.Errorf("stream entries = %d, want a single entry per event ID", h.entries)
	}
}

func TestEnqueueReleasesDedupKeyWhenAppendFails(t *testing.T) {
	h := newStreamFaults()
	h.xaddErr = errors.New("stream write refused")
	q := newHookedQueue(t, h)
	ctx := context.Background()

	// The dedup key is claimed first; if the stream append then fails
	// the key must be released, or the event is unsubmittable for the
	// key's whole lifetime.
	if err := q.Enqueue(ctx, queueEvent("e1")); err == nil {
		t.Fatal("append failure must surface to the submitter")
	}
	if h.entries != 0 {
		t.Fatalf("stream entries = %d after failed append", h.entries)
	}
	if len(h.dels) != 1 || h.dels[0] != dedupKeyPrefix+"e1" {
		t.Fatalf("dedup key not released after failed append: dels = %v", h.dels)
	}

	// Resubmission lands an entry instead of being absorbed as a
	// duplicate of the lost one.
	h.xaddErr = nil
	if err := q.Enqueue(ctx, queueEvent("e1")); err != nil {
		t.Fatalf("resubmit after recovery: %v", err)
	}
	if h.entries != 1 {
		t.Errorf("stream entries = %d, want the resubmission appended", h.entries)
	}
}
