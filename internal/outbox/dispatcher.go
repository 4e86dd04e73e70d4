// Package outbox queues roster events in memory and delivers them to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Publish when the delivery queue has no room.
	ErrQueueFull = errors.New("outbox queue full")
	// ErrStopped is returned by Publish after the dispatcher has shut down.
	ErrStopped = errors.New("outbox dispatcher stopped")
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

// SchemaRegistrar resolves the Schema Registry ID for a subject.
type SchemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// identified is implemented by event payloads that carry their own id.
type identified interface {
	ID() string
}

// Config tunes the Dispatcher.
type Config struct {
	Topic        string
	PollInterval time.Duration
	BatchSize    int
	QueueSize    int
	FlushTimeout time.Duration
}

// Option configures optional behaviour for the Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the logger used to report delivery failures.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// Dispatcher drains the in-memory queue and delivers events to Kafka using Schema Registry framing.
type Dispatcher struct {
	producer         messageWriter
	registry         SchemaRegistrar
	cfg              Config
	queue            chan Message
	schemaIDCache    sync.Map
	logger           *zap.Logger
	shutdownComplete chan struct{}

	// mu orders Publish against shutdown so nothing is queued after the final flush.
	mu      sync.RWMutex
	stopped bool

	// pending holds a batch whose write was interrupted by shutdown. Only the
	// goroutine running Start touches it.
	pending []Message
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(producer messageWriter, registry SchemaRegistrar, cfg Config, opts ...Option) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		producer:         producer,
		registry:         registry,
		cfg:              cfg,
		queue:            make(chan Message, cfg.QueueSize),
		logger:           zap.NewNop(),
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish marshals payload and queues it for delivery without blocking.
func (d *Dispatcher) Publish(_ context.Context, eventType, key string, payload any) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		droppedCounter.Inc()
		return ErrStopped
	}
	if _, ok := schemaCatalog[eventType]; !ok {
		return fmt.Errorf("no schema metadata for event_type=%s", eventType)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}

	msg := Message{
		EventType: eventType,
		Topic:     d.cfg.Topic,
		Key:       key,
		Payload:   body,
	}
	if ev, ok := payload.(identified); ok {
		msg.EventID = ev.ID()
	}
	select {
	case d.queue <- msg:
		enqueuedCounter.WithLabelValues(eventType).Inc()
		queueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		droppedCounter.Inc()
		return ErrQueueFull
	}
}

// Start launches the polling loop. It should be called in a goroutine. When ctx
// is cancelled the queue is flushed once more before the loop returns. Events
// still queued when the flush times out are counted as dropped.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.stopped = true
			d.mu.Unlock()

			flushCtx, cancel := context.WithTimeout(context.Background(), d.cfg.FlushTimeout)
			d.drain(flushCtx)
			cancel()
			d.discardRemaining()
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

// Wait waits until dispatcher stops.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

// drain delivers batches until the queue is empty or ctx ends. A batch cut
// short by ctx is kept in pending for the next drain.
func (d *Dispatcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		batch := d.takeBatch()
		if len(batch) == 0 {
			return
		}
		err := d.processBatch(ctx, batch)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			d.pending = batch
			return
		}
		d.logger.Error("outbox delivery failure", zap.Int("events", len(batch)), zap.Error(err))
	}
}

func (d *Dispatcher) discardRemaining() {
	lost := len(d.pending)
	d.pending = nil
	for len(d.queue) > 0 {
		<-d.queue
		lost++
	}
	queueDepth.Set(0)
	if lost > 0 {
		droppedCounter.Add(float64(lost))
		d.logger.Warn("outbox flush timed out, events dropped", zap.Int("events", lost))
	}
}

func (d *Dispatcher) takeBatch() []Message {
	batch := d.pending
	d.pending = nil
	if batch == nil {
		batch = make([]Message, 0, d.cfg.BatchSize)
	}
	for len(batch) < d.cfg.BatchSize {
		select {
		case msg := <-d.queue:
			batch = append(batch, msg)
		default:
			queueDepth.Set(float64(len(d.queue)))
			return batch
		}
	}
	queueDepth.Set(float64(len(d.queue)))
	return batch
}

func (d *Dispatcher) processBatch(ctx context.Context, messages []Message) error {
	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	if err := d.deliver(ctx, messages); err != nil {
		if ctx.Err() != nil {
			return err
		}
		for _, msg := range messages {
			failedCounter.WithLabelValues(msg.Topic).Inc()
		}
		return err
	}

	deliveredCounter.Add(float64(len(messages)))
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, messages []Message) error {
	batches := make(map[string][]kafka.Message)

	for _, msg := range messages {
		meta, ok := schemaCatalog[msg.EventType]
		if !ok {
			return fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
		}

		schemaID, err := d.schemaID(ctx, meta)
		if err != nil {
			return fmt.Errorf("resolve schema %s: %w", meta.Subject, err)
		}

		record := kafka.Message{
			Key:   []byte(msg.Key),
			Value: encodeWireFormat(schemaID, msg.Payload),
			Time:  time.Now().UTC(),
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(msg.EventType)},
				{Key: "event_id", Value: []byte(msg.EventID)},
				{Key: "schema_subject", Value: []byte(meta.Subject)},
			},
		}
		batches[msg.Topic] = append(batches[msg.Topic], record)
	}

	for topic, batch := range batches {
		if err := d.producer.WriteMessages(ctx, topic, batch...); err != nil {
			return err
		}
	}

	return nil
}

func (d *Dispatcher) schemaID(ctx context.Context, meta SchemaCatalogEntry) (int, error) {
	if cached, ok := d.schemaIDCache.Load(meta.Subject); ok {
		return cached.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, meta.Subject, meta.Schema)
	if err != nil {
		return 0, err
	}
	d.schemaIDCache.Store(meta.Subject, id)
	return id, nil
}

// Message is a queued roster event awaiting delivery.
type Message struct {
	EventID   string
	EventType string
	Topic     string
	Key       string
	Payload   json.RawMessage
}

// encodeWireFormat applies Confluent framing for Schema Registry aware payloads.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
