package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	e, err := New(TypeAlertRaised, map[string]string{"patient_id": "p1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Type != TypeAlertRaised {
		t.Errorf("expected type %s, got %s", TypeAlertRaised, e.Type)
	}
	if e.OccurredAt.IsZero() {
		t.Error("expected occurred_at to be set")
	}
	if string(e.Payload) != `{"patient_id":"p1"}` {
		t.Errorf("unexpected payload %s", e.Payload)
	}
}

func TestNew_UnmarshalablePayload(t *testing.T) {
	if _, err := New(TypeLabRecorded, make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))

	e, _ := New(TypeStageChanged, map[string]string{"to": "Stage 4"})
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, TypeStageChanged) || !strings.Contains(out, "Stage 4") {
		t.Errorf("expected event in log output, got %s", out)
	}
}

type fakeChannel struct {
	mu        sync.Mutex
	published []amqp.Publishing
	keys      []string
	closed    bool
	err       error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) Close() error { f.setClosed(true); return nil }

func (f *fakeChannel) setClosed(v bool) {
	f.mu.Lock()
	f.closed = v
	f.mu.Unlock()
}

// newTestPublisher returns a connected publisher whose redials reopen ch.
func newTestPublisher(ch *fakeChannel) (*AMQPPublisher, *atomic.Int32) {
	var dials atomic.Int32
	p := newPublisher("ckd.events", zerolog.Nop())
	p.minDelay = time.Millisecond
	p.maxDelay = 5 * time.Millisecond
	p.dial = func() (amqpChannel, error) {
		dials.Add(1)
		ch.setClosed(false)
		return ch, nil
	}
	p.ch = ch
	return p, &dials
}

func TestAMQPPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p, _ := newTestPublisher(ch)

	e, _ := New(TypeAlertRaised, map[string]float64{"value": 12.5})
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.published) != 1 {
		t.Fatalf("expected 1 message, got %d", len(ch.published))
	}
	if ch.keys[0] != TypeAlertRaised {
		t.Errorf("expected routing key %s, got %s", TypeAlertRaised, ch.keys[0])
	}
	msg := ch.published[0]
	if msg.ContentType != "application/json" || msg.MessageId != e.ID.String() {
		t.Errorf("unexpected message metadata: %+v", msg)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("body is not an event: %v", err)
	}
	if decoded.ID != e.ID {
		t.Errorf("expected id %s, got %s", e.ID, decoded.ID)
	}
}

func TestAMQPPublisher_ReopensClosedChannel(t *testing.T) {
	ch := &fakeChannel{}
	p, dials := newTestPublisher(ch)
	e, _ := New(TypeLabRecorded, nil)

	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ch.setClosed(true)
	if err := p.Publish(context.Background(), e); !errors.Is(err, errUnavailable) {
		t.Fatalf("expected errUnavailable while disconnected, got %v", err)
	}

	waitFor(t, func() bool { return p.Publish(context.Background(), e) == nil })
	if n := dials.Load(); n != 1 {
		t.Errorf("expected one redial, got %d", n)
	}
}

func TestAMQPPublisher_BlockedDialDoesNotBlockPublish(t *testing.T) {
	ch := &fakeChannel{}
	p, _ := newTestPublisher(ch)
	release := make(chan struct{})
	var dials atomic.Int32
	p.dial = func() (amqpChannel, error) {
		dials.Add(1)
		<-release
		ch.setClosed(false)
		return ch, nil
	}
	ch.setClosed(true)
	e, _ := New(TypeAuditAccess, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	start := time.Now()
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.Publish(context.Background(), e)
		}()
	}
	wg.Wait()
	close(errs)

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("publishers waited %s on a blocked dial", elapsed)
	}
	for err := range errs {
		if !errors.Is(err, errUnavailable) {
			t.Errorf("expected errUnavailable, got %v", err)
		}
	}
	waitFor(t, func() bool { return dials.Load() == 1 })

	close(release)
	waitFor(t, func() bool { return p.Publish(context.Background(), e) == nil })
	if n := dials.Load(); n != 1 {
		t.Errorf("expected a single reconnect loop, got %d dials", n)
	}
}

func TestAMQPPublisher_ReconnectBacksOff(t *testing.T) {
	ch := &fakeChannel{}
	p, _ := newTestPublisher(ch)
	var dials atomic.Int32
	p.dial = func() (amqpChannel, error) {
		if dials.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		ch.setClosed(false)
		return ch, nil
	}
	ch.setClosed(true)
	e, _ := New(TypeLabRecorded, nil)

	_ = p.Publish(context.Background(), e)
	waitFor(t, func() bool { return p.Publish(context.Background(), e) == nil })
	if n := dials.Load(); n != 3 {
		t.Errorf("expected 3 dial attempts, got %d", n)
	}
}

func TestAMQPPublisher_CloseStopsReconnect(t *testing.T) {
	ch := &fakeChannel{}
	p, _ := newTestPublisher(ch)
	p.minDelay, p.maxDelay = time.Hour, time.Hour
	p.dial = func() (amqpChannel, error) { return nil, errors.New("connection refused") }
	ch.setClosed(true)
	e, _ := New(TypeLabRecorded, nil)

	_ = p.Publish(context.Background(), e)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitFor(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return !p.reconnecting
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAMQPPublisher_PublishError(t *testing.T) {
	ch := &fakeChannel{err: errors.New("broker gone")}
	p, _ := newTestPublisher(ch)
	e, _ := New(TypeLabRecorded, nil)

	if err := p.Publish(context.Background(), e); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestAMQPPublisher_Closed(t *testing.T) {
	ch := &fakeChannel{}
	p, _ := newTestPublisher(ch)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	e, _ := New(TypeLabRecorded, nil)
	if err := p.Publish(context.Background(), e); !errors.Is(err, errClosed) {
		t.Errorf("expected errClosed, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}
