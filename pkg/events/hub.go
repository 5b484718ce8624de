package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/oklog/ulid/v2"

	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
)

const topic = "parley.events"

// HubConfig configures a Hub.
type HubConfig struct {
	// SubscriberBuffer is the per-subscriber queue length. Events beyond it
	// are dropped for that subscriber.
	SubscriberBuffer int
}

// Hub fans events out to any number of subscribers over a watermill
// in-process pub/sub. Publishing waits for every subscriber's reader to ack,
// so each subscriber sees events in emit order. Readers ack before handing
// the event on and never block; events a slow observer cannot take are
// dropped.
type Hub struct {
	pubsub      *gochannel.GoChannel
	buffer      int
	subscribers atomic.Int64
	dropped     atomic.Int64
	started     time.Time

	closeOnce sync.Once
}

// NewHub creates a hub ready for publishing.
func NewHub(cfg HubConfig) *Hub {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 256
	}
	return &Hub{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            int64(cfg.SubscriberBuffer),
				Persistent:                     false,
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NopLogger{},
		),
		buffer:  cfg.SubscriberBuffer,
		started: time.Now(),
	}
}

// Emit stamps ev with an id, timestamp and the tracing ids found in ctx, then
// publishes it. Errors are swallowed: observability must not fail a request.
func (h *Hub) Emit(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Level == "" {
		ev.Level = LevelInfo
	}
	if ctx != nil {
		if ev.SessionID == "" {
			ev.SessionID = tracing.GetSessionID(ctx)
		}
		if ev.TraceID == "" {
			ev.TraceID = tracing.GetTraceID(ctx)
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = h.pubsub.Publish(topic, message.NewMessage(ev.ID, payload))
}

// Subscribe attaches a new observer. The returned channel is closed once ctx
// is cancelled or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context) (<-chan Event, error) {
	msgs, err := h.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to event hub: %w", err)
	}

	out := make(chan Event, h.buffer)
	observability.SetStreamClients(int(h.subscribers.Add(1)))

	go func() {
		defer func() {
			close(out)
			observability.SetStreamClients(int(h.subscribers.Add(-1)))
		}()

		for msg := range msgs {
			var ev Event
			err := json.Unmarshal(msg.Payload, &ev)
			msg.Ack()
			if err != nil {
				continue
			}

			select {
			case out <- ev:
			default:
				h.dropped.Add(1)
			}
		}
	}()

	return out, nil
}

// Subscribers reports how many observers are attached.
func (h *Hub) Subscribers() int {
	return int(h.subscribers.Load())
}

// Dropped reports how many events were discarded for slow observers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Uptime is the time since the hub was created.
func (h *Hub) Uptime() time.Duration {
	return time.Since(h.started)
}

// Close detaches every subscriber.
func (h *Hub) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.pubsub.Close()
	})
	return err
}
