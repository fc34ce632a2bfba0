// Package events is the in-process event broker plugins publish to and
// subscribe on. Published events can also be forwarded to Kafka.
package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/shared/id"
	"github.com/GriffinCanCode/devportal/backend/internal/shared/utils"
)

// AllTopics subscribes to every topic
const AllTopics = "*"

// ErrClosed is returned when publishing after shutdown
var ErrClosed = errors.New("event broker is closed")

// Ref is the shared event broker
var Ref = backend.NewServiceRef[*Broker]("core.events", backend.ScopeRoot)

// Event is one published message
type Event struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Decode unmarshals the payload into out
func (e Event) Decode(out interface{}) error {
	return sonic.Unmarshal(e.Payload, out)
}

// MarshalJSON embeds the payload as raw JSON rather than base64
func (e Event) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID        string            `json:"id"`
		Topic     string            `json:"topic"`
		Payload   sonicRaw          `json:"payload"`
		Metadata  map[string]string `json:"metadata,omitempty"`
		Timestamp time.Time         `json:"timestamp"`
	}
	return sonic.Marshal(wire{
		ID:        e.ID,
		Topic:     e.Topic,
		Payload:   sonicRaw(e.Payload),
		Metadata:  e.Metadata,
		Timestamp: e.Timestamp,
	})
}

type sonicRaw []byte

func (r sonicRaw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// Handler receives events for its topics. Errors are logged.
type Handler func(ctx context.Context, e Event) error

// Forwarder ships events outside the process
type Forwarder interface {
	Forward(ctx context.Context, e Event) error
	Close() error
}

type subscription struct {
	id      string
	topics  map[string]bool
	handler Handler
}

// Broker fans out published events to subscribers synchronously
type Broker struct {
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	forwarder Forwarder

	mu       sync.RWMutex
	subs     map[string]*subscription
	closed   bool
	inflight sync.WaitGroup
}

// NewBroker creates a broker; forwarder may be nil
func NewBroker(logger *logging.Logger, metrics *monitoring.Metrics, forwarder Forwarder) *Broker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Broker{
		logger:    logger,
		metrics:   metrics,
		forwarder: forwarder,
		subs:      make(map[string]*subscription),
	}
}

// Subscribe registers handler for topics under subscriber id. The returned
// func removes the subscription.
func (b *Broker) Subscribe(subscriberID string, topics []string, handler Handler) func() {
	sub := &subscription{
		id:      subscriberID + "#" + id.NewEventID().String(),
		topics:  make(map[string]bool, len(topics)),
		handler: handler,
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, sub.id)
		b.mu.Unlock()
	}
}

// Publish encodes payload as JSON and delivers it to every subscriber of topic
func (b *Broker) Publish(ctx context.Context, topic string, payload interface{}, metadata map[string]string) error {
	e, err := newEvent(topic, payload, metadata)
	if err != nil {
		return err
	}
	return b.PublishEvent(ctx, e)
}

// PublishAsync validates and encodes the event, then delivers it on its own
// goroutine so the caller does not wait on subscribers. Delivery failures
// are logged. Wait blocks until pending deliveries finish.
func (b *Broker) PublishAsync(topic string, payload interface{}, metadata map[string]string) (Event, error) {
	e, err := newEvent(topic, payload, metadata)
	if err != nil {
		return Event{}, err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return Event{}, ErrClosed
	}
	b.inflight.Add(1)
	b.mu.RUnlock()

	go func() {
		defer b.inflight.Done()
		if err := b.PublishEvent(context.Background(), e); err != nil {
			b.logger.Warn("Async event delivery failed", zap.String("topic", e.Topic), zap.String("event", e.ID), zap.Error(err))
		}
	}()
	return e, nil
}

// Wait blocks until every PublishAsync delivery has returned or ctx ends
func (b *Broker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event deliveries still running: %w", ctx.Err())
	}
}

func newEvent(topic string, payload interface{}, metadata map[string]string) (Event, error) {
	if err := utils.ValidateTopic(topic); err != nil {
		return Event{}, err
	}

	var raw []byte
	switch p := payload.(type) {
	case []byte:
		raw = p
	default:
		encoded, err := sonic.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("failed to encode event payload: %w", err)
		}
		raw = encoded
	}

	return Event{
		ID:        id.NewEventID().String(),
		Topic:     topic,
		Payload:   raw,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}, nil
}

// PublishEvent delivers an already built event
func (b *Broker) PublishEvent(ctx context.Context, e Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	matched := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.topics[e.Topic] || s.topics[AllTopics] {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })

	if b.metrics != nil {
		b.metrics.EventsPublished.WithLabelValues(e.Topic).Inc()
	}

	for _, s := range matched {
		if err := b.deliver(ctx, s, e); err != nil {
			b.logger.Warn("Event subscriber failed",
				zap.String("subscriber", s.id),
				zap.String("topic", e.Topic),
				zap.Error(err),
			)
		}
	}

	if b.forwarder != nil {
		if err := b.forwarder.Forward(ctx, e); err != nil {
			return fmt.Errorf("failed to forward event %s: %w", e.ID, err)
		}
	}
	return nil
}

func (b *Broker) deliver(ctx context.Context, s *subscription, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return s.handler(ctx, e)
}

// Close stops accepting events and closes the forwarder
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = make(map[string]*subscription)
	b.mu.Unlock()

	if b.forwarder != nil {
		return b.forwarder.Close()
	}
	return nil
}

// Factory creates the broker, with Kafka forwarding when events.kafka is set
func Factory() *backend.ServiceFactory {
	return backend.NewServiceFactory(Ref, func(ctx context.Context, deps *backend.Deps) (*Broker, error) {
		cfg, err := backend.Get(ctx, deps, core.RootConfigRef)
		if err != nil {
			return nil, err
		}
		logger, err := backend.Get(ctx, deps, core.RootLoggerRef)
		if err != nil {
			return nil, err
		}
		metrics, err := backend.Get(ctx, deps, core.MetricsRef)
		if err != nil {
			return nil, err
		}
		lifecycle, err := backend.Get(ctx, deps, backend.RootLifecycleRef)
		if err != nil {
			return nil, err
		}

		var forwarder Forwarder
		if brokers := cfg.Strings("events.kafka.brokers"); len(brokers) > 0 {
			forwarder, err = NewKafkaForwarder(brokers, cfg.OptionalString("events.kafka.topicPrefix", "backstage."))
			if err != nil {
				return nil, err
			}
		}

		b := NewBroker(logger.With(zap.String("service", "events")), metrics, forwarder)
		lifecycle.AddShutdownHook("events.close", func(ctx context.Context) error {
			waitErr := b.Wait(ctx)
			return errors.Join(waitErr, b.Close())
		})
		return b, nil
	})
}
