// Package consumer reads roster events back from Kafka for downstream auditing.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Reader is the subset of *kafka.Reader the Processor uses.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded roster events.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is a roster event record with its Confluent framing and headers decoded.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	Key           string
	EventID       string
	EventType     string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor feeds roster event records from a Reader into a Handler.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *zap.Logger
}

// NewProcessor constructs a Processor.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes records until ctx is cancelled or the reader reports cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Warn("fetch failed", zap.Error(err))
			continue
		}
		p.process(ctx, record)
	}
}

// process handles a single record. Undecodable records are committed so they
// cannot stall the partition; a handler failure leaves the offset uncommitted
// and the record is redelivered after a rebalance or restart.
func (p *Processor) process(ctx context.Context, record kafka.Message) {
	log := p.logger.With(
		zap.String("topic", record.Topic),
		zap.Int("partition", record.Partition),
		zap.Int64("offset", record.Offset))

	msg, err := decodeMessage(record)
	if err != nil {
		eventType, _ := headerValue(record, "event_type")
		log.Warn("undecodable roster record", zap.Error(err))
		observeOutcome(record.Topic, string(eventType), outcomeDecodeError)
		p.commit(ctx, log, record)
		return
	}

	log = log.With(
		zap.String("event_type", msg.EventType),
		zap.String("event_id", msg.EventID),
		zap.String("activity", msg.Key))

	if err := p.handler.Handle(ctx, msg); err != nil {
		log.Error("roster event not handled", zap.Error(err))
		observeOutcome(msg.Topic, msg.EventType, outcomeHandlerError)
		return
	}

	if !p.commit(ctx, log, record) {
		observeOutcome(msg.Topic, msg.EventType, outcomeCommitError)
		return
	}
	observeAudited(msg)
}

func (p *Processor) commit(ctx context.Context, log *zap.Logger, record kafka.Message) bool {
	if err := p.reader.CommitMessages(ctx, record); err != nil {
		log.Warn("commit failed", zap.Error(err))
		return false
	}
	return true
}

func decodeMessage(record kafka.Message) (Message, error) {
	if len(record.Value) < 5 {
		return Message{}, fmt.Errorf("invalid payload length: %d", len(record.Value))
	}
	if record.Value[0] != 0 {
		return Message{}, fmt.Errorf("unknown magic byte: %d", record.Value[0])
	}

	eventType, ok := headerValue(record, "event_type")
	if !ok || len(eventType) == 0 {
		return Message{}, errors.New("missing event_type header")
	}

	payload := json.RawMessage(append([]byte(nil), record.Value[5:]...))
	if !json.Valid(payload) {
		return Message{}, errors.New("payload is not valid JSON")
	}

	eventID, _ := headerValue(record, "event_id")
	subject, _ := headerValue(record, "schema_subject")

	return Message{
		Topic:         record.Topic,
		Partition:     record.Partition,
		Offset:        record.Offset,
		Timestamp:     record.Time,
		Key:           string(record.Key),
		EventID:       string(eventID),
		EventType:     string(eventType),
		SchemaSubject: string(subject),
		SchemaID:      int(binary.BigEndian.Uint32(record.Value[1:5])),
		Payload:       payload,
	}, nil
}

func headerValue(record kafka.Message, key string) ([]byte, bool) {
	for _, h := range record.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return nil, false
}
