package outbox

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"example.com/signup/internal/events"
)

func TestDispatcherPublishesFramedMessages(t *testing.T) {
	ctx := context.Background()
	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	dispatcher := NewDispatcher(producer, registry, Config{Topic: "roster_events", BatchSize: 10})

	beforeDelivered := testutil.ToFloat64(deliveredCounter)
	beforeHistogram := histogramSampleCount(t)

	require.NoError(t, dispatcher.Publish(ctx, events.TypeParticipantSignedUp, "Chess Club", events.ParticipantSignedUp{
		EventID:  "evt-1",
		Activity: "Chess Club",
		Email:    "a@mergington.edu",
	}))
	require.NoError(t, dispatcher.Publish(ctx, events.TypeParticipantRemoved, "Chess Club", events.ParticipantRemoved{
		EventID:  "evt-2",
		Activity: "Chess Club",
		Email:    "a@mergington.edu",
	}))

	dispatcher.drain(ctx)

	writes := producer.snapshot()
	require.Len(t, writes, 1)
	require.Equal(t, "roster_events", writes[0].topic)
	require.Len(t, writes[0].messages, 2)

	first := writes[0].messages[0]
	require.Equal(t, "Chess Club", string(first.Key))
	require.Equal(t, byte(0), first.Value[0])
	require.Equal(t, uint32(42), binary.BigEndian.Uint32(first.Value[1:5]))
	require.JSONEq(t, `{"event_id":"evt-1","activity":"Chess Club","email":"a@mergington.edu","roster_size":0,"occurred_at":"0001-01-01T00:00:00Z"}`, string(first.Value[5:]))
	require.Equal(t, events.TypeParticipantSignedUp, headerString(first, "event_type"))
	require.Equal(t, "evt-1", headerString(first, "event_id"))
	require.Equal(t, "evt-2", headerString(writes[0].messages[1], "event_id"))
	require.Equal(t, "participant_signed_up-value", headerString(first, "schema_subject"))

	require.InDelta(t, beforeDelivered+2, testutil.ToFloat64(deliveredCounter), 0.0001)
	require.Greater(t, histogramSampleCount(t), beforeHistogram)
}

func TestDispatcherCachesSchemaIDs(t *testing.T) {
	ctx := context.Background()
	registry := &stubRegistry{id: 7}
	dispatcher := NewDispatcher(&stubProducer{}, registry, Config{Topic: "roster_events", BatchSize: 1})

	for i := 0; i < 3; i++ {
		require.NoError(t, dispatcher.Publish(ctx, events.TypeParticipantSignedUp, "Art Club", events.ParticipantSignedUp{}))
	}
	dispatcher.drain(ctx)

	require.Equal(t, 1, registry.callCount())
}

func TestDispatcherCountsFailures(t *testing.T) {
	ctx := context.Background()
	producer := &stubProducer{err: errors.New("kafka write failed")}
	dispatcher := NewDispatcher(producer, &stubRegistry{id: 1}, Config{Topic: "roster_events"}, WithLogger(zaptest.NewLogger(t)))

	beforeFailed := testutil.ToFloat64(failedCounter.WithLabelValues("roster_events"))

	require.NoError(t, dispatcher.Publish(ctx, events.TypeParticipantRemoved, "Math Club", events.ParticipantRemoved{}))
	dispatcher.drain(ctx)

	require.InDelta(t, beforeFailed+1, testutil.ToFloat64(failedCounter.WithLabelValues("roster_events")), 0.0001)
}

func TestDispatcherRejectsWhenQueueFull(t *testing.T) {
	ctx := context.Background()
	dispatcher := NewDispatcher(&stubProducer{}, StaticRegistrar{}, Config{Topic: "roster_events", QueueSize: 1})

	beforeDropped := testutil.ToFloat64(droppedCounter)

	require.NoError(t, dispatcher.Publish(ctx, events.TypeParticipantSignedUp, "Gym Class", events.ParticipantSignedUp{}))
	err := dispatcher.Publish(ctx, events.TypeParticipantSignedUp, "Gym Class", events.ParticipantSignedUp{})
	require.ErrorIs(t, err, ErrQueueFull)

	require.InDelta(t, beforeDropped+1, testutil.ToFloat64(droppedCounter), 0.0001)
}

func TestDispatcherRejectsUnknownEventType(t *testing.T) {
	dispatcher := NewDispatcher(&stubProducer{}, StaticRegistrar{}, Config{Topic: "roster_events"})

	err := dispatcher.Publish(context.Background(), "participant.renamed", "Gym Class", struct{}{})
	require.Error(t, err)
}

func TestDispatcherFlushesOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	producer := &stubProducer{}
	dispatcher := NewDispatcher(producer, StaticRegistrar{ID: 3}, Config{
		Topic:        "roster_events",
		PollInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go dispatcher.Start(ctx)

	require.NoError(t, dispatcher.Publish(ctx, events.TypeParticipantSignedUp, "Drama Club", events.ParticipantSignedUp{}))
	cancel()
	dispatcher.Wait()

	writes := producer.snapshot()
	require.Len(t, writes, 1)
	require.Len(t, writes[0].messages, 1)

	err := dispatcher.Publish(context.Background(), events.TypeParticipantSignedUp, "Drama Club", events.ParticipantSignedUp{})
	require.ErrorIs(t, err, ErrStopped)
}

func TestDispatcherFlushRetriesBatchInterruptedByShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	producer := newSlowProducer(50 * time.Millisecond)
	dispatcher := NewDispatcher(producer, StaticRegistrar{}, Config{
		Topic:        "roster_events",
		BatchSize:    1,
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		require.NoError(t, dispatcher.Publish(ctx, events.TypeParticipantSignedUp, "Soccer Team", events.ParticipantSignedUp{}))
	}

	go dispatcher.Start(ctx)
	<-producer.started
	cancel()
	dispatcher.Wait()

	require.Equal(t, 5, producer.deliveredCount())
}

func TestDispatcherCountsEventsLeftAfterFlushTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	producer := newSlowProducer(time.Hour)
	dispatcher := NewDispatcher(producer, StaticRegistrar{}, Config{
		Topic:        "roster_events",
		BatchSize:    1,
		PollInterval: time.Hour,
		FlushTimeout: 20 * time.Millisecond,
	})

	beforeDropped := testutil.ToFloat64(droppedCounter)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 3; i++ {
		require.NoError(t, dispatcher.Publish(ctx, events.TypeParticipantRemoved, "Basketball Team", events.ParticipantRemoved{}))
	}
	go dispatcher.Start(ctx)
	cancel()
	dispatcher.Wait()

	require.Equal(t, 0, producer.deliveredCount())
	require.InDelta(t, beforeDropped+3, testutil.ToFloat64(droppedCounter), 0.0001)
}

func TestDispatcherDeliversEveryAcceptedEventAcrossShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	producer := &stubProducer{}
	dispatcher := NewDispatcher(producer, StaticRegistrar{}, Config{
		Topic:        "roster_events",
		BatchSize:    50,
		QueueSize:    10000,
		PollInterval: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go dispatcher.Start(ctx)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				err := dispatcher.Publish(context.Background(), events.TypeParticipantSignedUp, "Chess Club", events.ParticipantSignedUp{})
				if errors.Is(err, ErrStopped) {
					return
				}
				if err == nil {
					accepted.Add(1)
				}
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	cancel()
	dispatcher.Wait()
	wg.Wait()

	delivered := 0
	for _, w := range producer.snapshot() {
		delivered += len(w.messages)
	}
	require.EqualValues(t, accepted.Load(), delivered)
}

func TestDispatcherDeliversOnTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	producer := &stubProducer{}
	dispatcher := NewDispatcher(producer, StaticRegistrar{}, Config{
		Topic:        "roster_events",
		PollInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go dispatcher.Start(ctx)
	defer func() {
		cancel()
		dispatcher.Wait()
	}()

	require.NoError(t, dispatcher.Publish(ctx, events.TypeParticipantSignedUp, "Debate Team", events.ParticipantSignedUp{}))
	require.Eventually(t, func() bool { return len(producer.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestSchemaRegistryClientRegistersMissingSubject(t *testing.T) {
	var (
		registered  bool
		contentType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/subjects/participant_removed-value/versions":
			registered = true
			contentType = r.Header.Get("Content-Type")
			_, _ = w.Write([]byte(`{"id": 11}`))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	client := NewSchemaRegistryClient(srv.URL + "/")
	id, err := client.EnsureSchema(context.Background(), "participant_removed-value", participantRemovedSchema)
	require.NoError(t, err)
	require.Equal(t, 11, id)
	require.True(t, registered)
	require.Equal(t, "application/vnd.schemaregistry.v1+json", contentType)
}

func TestSchemaRegistryClientUsesLatestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/subjects/participant_signed_up-value/versions/latest" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"id": 5, "version": 2}`))
	}))
	defer srv.Close()

	id, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "participant_signed_up-value", participantSignedUpSchema)
	require.NoError(t, err)
	require.Equal(t, 5, id)
}

type producerWrite struct {
	topic    string
	messages []kafka.Message
}

type stubProducer struct {
	mu     sync.Mutex
	writes []producerWrite
	err    error
}

func (p *stubProducer) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.writes = append(p.writes, producerWrite{topic: topic, messages: append([]kafka.Message(nil), msgs...)})
	return nil
}

func (p *stubProducer) snapshot() []producerWrite {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]producerWrite(nil), p.writes...)
}

// slowProducer takes delay per write and gives up when ctx ends.
type slowProducer struct {
	delay     time.Duration
	started   chan struct{}
	once      sync.Once
	mu        sync.Mutex
	delivered int
}

func newSlowProducer(delay time.Duration) *slowProducer {
	return &slowProducer{delay: delay, started: make(chan struct{})}
}

func (p *slowProducer) WriteMessages(ctx context.Context, _ string, msgs ...kafka.Message) error {
	p.once.Do(func() { close(p.started) })

	timer := time.NewTimer(p.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.delivered += len(msgs)
	return nil
}

func (p *slowProducer) deliveredCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delivered
}

type stubRegistry struct {
	mu    sync.Mutex
	id    int
	calls int
}

func (r *stubRegistry) EnsureSchema(context.Context, string, string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.id, nil
}

func (r *stubRegistry) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func headerString(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	batchDuration.Collect(ch)
	metric := <-ch

	var m dto.Metric
	require.NoError(t, metric.Write(&m))
	return m.GetHistogram().GetSampleCount()
}
