package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes events onto a Redis stream so multiple session-server
// replicas can share one event feed. Grounded on
// features/stream/pulse/clients/pulse.Client (Redis-backed Add/Stream
// wrapper), generalized here to call go-redis's Streams API directly since
// goa.design/pulse is not wired into this module (see DESIGN.md).
//
// Only Publish touches Redis; Register and in-process subscriber fan-out go
// through an in-memory Bus composed alongside it (see NewRedisBus).
type RedisBus struct {
	client    *redis.Client
	stream    string
	maxLen    int64
	local     Bus
	cancelSub context.CancelFunc
}

// RedisBusOptions configures a RedisBus.
type RedisBusOptions struct {
	// Client is the Redis connection. Required.
	Client *redis.Client
	// Stream names the Redis stream key events are appended to.
	Stream string
	// MaxLen approximately caps stream length via XADD MAXLEN ~. Zero means unbounded.
	MaxLen int64
}

// NewRedisBus constructs a Bus that appends every published event to a Redis
// stream (for durability/fan-out across processes) while also delivering it
// to local in-process subscribers synchronously, mirroring the semantics of
// the in-memory Bus. Returns an error if Client or Stream is unset.
func NewRedisBus(opts RedisBusOptions) (Bus, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("pubsub: redis client is required")
	}
	if opts.Stream == "" {
		return nil, fmt.Errorf("pubsub: stream name is required")
	}
	return &RedisBus{
		client: opts.Client,
		stream: opts.Stream,
		maxLen: opts.MaxLen,
		local:  NewBus(),
	}, nil
}

// Publish appends event to the Redis stream as a JSON-encoded payload, then
// fans it out to local subscribers. Redis append failures are returned; local
// subscriber errors also propagate, matching Bus.Publish's fail-fast contract.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(eventEnvelope{
		Kind:    string(event.Type()),
		Session: event.SessionID(),
		Run:     event.RunID(),
		At:      event.Timestamp(),
		Payload: event,
	})
	if err != nil {
		return fmt.Errorf("pubsub: encode event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]any{"event": payload},
	}
	if b.maxLen > 0 {
		args.Approx = true
		args.MaxLen = b.maxLen
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("pubsub: xadd: %w", err)
	}
	return b.local.Publish(ctx, event)
}

// Register delegates to the in-process bus; remote replicas receive events
// only through the Redis stream and must run their own consumer loop over
// XReadGroup to rehydrate a local Bus.
func (b *RedisBus) Register(sub Subscriber) (Subscription, error) {
	return b.local.Register(sub)
}

type eventEnvelope struct {
	Kind    string `json:"kind"`
	Session string `json:"session_id"`
	Run     string `json:"run_id"`
	At      int64  `json:"timestamp"`
	Payload any    `json:"payload"`
}

// consumeLoop reads events appended by other processes off the stream via a
// consumer group and acknowledges them. It does not decode them or
// republish them to the local in-process Bus. Callers run it in its own
// goroutine and cancel ctx to stop.
func (b *RedisBus) consumeLoop(ctx context.Context, group, consumer string) error {
	if err := b.client.XGroupCreateMkStream(ctx, b.stream, group, "$").Err(); err != nil {
		// BUSYGROUP means the group already exists; any other error is fatal.
		if !isBusyGroupErr(err) {
			return fmt.Errorf("pubsub: create consumer group: %w", err)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{b.stream, ">"},
			Block:    5 * time.Second,
			Count:    64,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return fmt.Errorf("pubsub: xreadgroup: %w", err)
		}
		for _, s := range res {
			for _, msg := range s.Messages {
				b.client.XAck(ctx, b.stream, group, msg.ID)
			}
		}
	}
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= len("BUSYGROUP") && err.Error()[:9] == "BUSYGROUP"
}
