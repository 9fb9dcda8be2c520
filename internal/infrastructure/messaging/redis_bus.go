package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/latetrack/late-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// RedisClient is the pub/sub surface the bridge uses.
type RedisClient interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan RedisMessage, error)
}

type RedisMessage struct {
	Channel string
	Payload string
}

// GoRedisClient implements RedisClient on go-redis.
type GoRedisClient struct {
	client goredis.UniversalClient
}

func NewGoRedisClient(client goredis.UniversalClient) *GoRedisClient {
	return &GoRedisClient{client: client}
}

func (c *GoRedisClient) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.client.Publish(ctx, channel, payload).Err()
}

// Subscribe waits for the subscription to be confirmed, then forwards
// messages until ctx ends. The returned channel is closed on exit.
func (c *GoRedisClient) Subscribe(ctx context.Context, channel string) (<-chan RedisMessage, error) {
	sub := c.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	in := sub.Channel()
	out := make(chan RedisMessage)
	go func() {
		defer close(out)

		for msg := range in {
			select {
			case out <- RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS-BRIDGED BUS
// ══════════════════════════════════════════════════════════════════════════════

type RedisEventBusConfig struct {
	Client RedisClient

	// ChannelName defaults to "late-ledger:events".
	ChannelName string

	// InstanceID tags outgoing envelopes so this process can skip its own
	// echoes. Defaults to a random UUID.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig
	Logger         *slog.Logger
}

// RedisEventBus delivers locally at once and mirrors every event to one
// Redis channel for the other instances. A Redis outage degrades it to a
// local bus; Publish still succeeds.
type RedisEventBus struct {
	local   *InMemoryEventBus
	client  RedisClient
	channel string
	self    string
	logger  *slog.Logger

	stop    context.CancelFunc
	ctx     context.Context
	reader  sync.WaitGroup
	stopped atomic.Bool
}

func NewRedisEventBus(cfg RedisEventBusConfig) (*RedisEventBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = "late-ledger:events"
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LocalBusConfig.Logger == nil {
		cfg.LocalBusConfig.Logger = cfg.Logger
	}

	ctx, stop := context.WithCancel(context.Background())
	inbox, err := cfg.Client.Subscribe(ctx, cfg.ChannelName)
	if err != nil {
		stop()
		return nil, fmt.Errorf("start subscriber: %w", err)
	}

	b := &RedisEventBus{
		local:   NewInMemoryEventBus(cfg.LocalBusConfig),
		client:  cfg.Client,
		channel: cfg.ChannelName,
		self:    cfg.InstanceID,
		logger:  cfg.Logger.With("component", "redis_event_bus", "instance_id", cfg.InstanceID),
		ctx:     ctx,
		stop:    stop,
	}

	b.reader.Add(1)
	go b.consume(inbox)
	return b, nil
}

func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	if b.stopped.Load() {
		return ErrEventBusClosed
	}

	payload, err := encodeEnvelope(b.self, event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(b.ctx, b.channel, payload); err != nil {
		b.logger.Error("redis publish failed, delivering locally only",
			"event_type", event.EventType(), "error", err)
	}
	return b.local.Publish(event)
}

func (b *RedisEventBus) consume(inbox <-chan RedisMessage) {
	defer b.reader.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			b.receive(msg)
		}
	}
}

func (b *RedisEventBus) receive(msg RedisMessage) {
	origin, event, err := decodeEnvelope([]byte(msg.Payload))
	switch {
	case err != nil:
		b.logger.Warn("dropping undecodable event", "channel", msg.Channel, "error", err)
	case origin == b.self:
		// already delivered locally by Publish
	default:
		if err := b.local.Publish(event); err != nil {
			b.logger.Error("remote event not delivered", "event_type", event.EventType(), "origin", origin, "error", err)
		}
	}
}

// Close stops the reader, then closes the local bus.
func (b *RedisEventBus) Close() error {
	if !b.stopped.CompareAndSwap(false, true) {
		return nil
	}
	b.stop()
	b.reader.Wait()
	return b.local.Close()
}

func (b *RedisEventBus) Metrics() *EventBusMetrics {
	return b.local.Metrics()
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

type wireEnvelope struct {
	InstanceID string `json:"instance_id"`
	shared.EventEnvelope
}

func encodeEnvelope(origin string, event shared.Event) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}
	env := wireEnvelope{InstanceID: origin}
	env.ID = uuid.NewString()
	env.Type = event.EventType()
	env.AggregateID = event.AggregateID()
	env.Timestamp = event.OccurredAt()
	env.Version = 1
	env.Payload = body
	return json.Marshal(env)
}

// eventDecoders restore the concrete event type, so a handler's type
// assertion behaves the same for remote and local events.
var eventDecoders = map[shared.EventType]func([]byte) (shared.Event, error){
	shared.EventLateEventAppended:  decodeAs[shared.LateEventAppendedEvent],
	shared.EventLateEventUndone:    decodeAs[shared.LateEventUndoneEvent],
	shared.EventLateEventsRemoved:  decodeAs[shared.LateEventsRemovedEvent],
	shared.EventFineSettled:        decodeAs[shared.FineSettledEvent],
	shared.EventFacultyAlertRaised: decodeAs[shared.FacultyAlertRaisedEvent],
	shared.EventSemesterPromoted:   decodeAs[shared.SemesterPromotedEvent],
	shared.EventStudentGraduated:   decodeAs[shared.StudentGraduatedEvent],
}

func decodeAs[T shared.Event](raw []byte) (shared.Event, error) {
	var ev T
	err := json.Unmarshal(raw, &ev)
	return ev, err
}

// decodeEnvelope returns the sender's instance ID and the rebuilt event.
func decodeEnvelope(raw []byte) (string, shared.Event, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	decode, ok := eventDecoders[env.Type]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrEventNotSupported, env.Type)
	}
	event, err := decode(env.Payload)
	if err != nil {
		return "", nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
	}
	return env.InstanceID, event, nil
}
