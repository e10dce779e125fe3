package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

var (
	errClosed      = errors.New("publisher closed")
	errUnavailable = errors.New("broker unavailable")
)

const (
	publishTimeout    = 5 * time.Second
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// AMQPPublisher publishes events to a topic exchange, using the event type
// as routing key. After a broker disconnect a single background loop redials
// with backoff; until it succeeds Publish fails fast with errUnavailable.
type AMQPPublisher struct {
	url      string
	exchange string
	logger   zerolog.Logger
	dial     func() (amqpChannel, error)
	minDelay time.Duration
	maxDelay time.Duration
	done     chan struct{}

	mu           sync.Mutex
	conn         *amqp.Connection
	ch           amqpChannel
	reconnecting bool
	closed       bool
}

func newPublisher(exchange string, logger zerolog.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		exchange: exchange,
		logger:   logger.With().Str("component", "amqp").Str("exchange", exchange).Logger(),
		minDelay: minReconnectDelay,
		maxDelay: maxReconnectDelay,
		done:     make(chan struct{}),
	}
}

// NewAMQPPublisher connects to the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string, logger zerolog.Logger) (*AMQPPublisher, error) {
	p := newPublisher(exchange, logger)
	p.url = url
	p.dial = p.connect
	ch, err := p.dial()
	if err != nil {
		return nil, err
	}
	p.ch = ch
	return p, nil
}

// connect runs without p.mu held; only the constructor and the reconnect
// loop call it.
func (p *AMQPPublisher) connect() (amqpChannel, error) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		c, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			c.Close()
			return nil, errClosed
		}
		p.conn = c
		p.mu.Unlock()
		conn = c
		p.logger.Info().Msg("connected to broker")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	return ch, nil
}

// channel returns the open channel. When it is gone it starts the reconnect
// loop, if not already running, and returns errUnavailable without waiting.
func (p *AMQPPublisher) channel() (amqpChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errClosed
	}
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if !p.reconnecting {
		p.reconnecting = true
		go p.reconnect()
	}
	return nil, errUnavailable
}

func (p *AMQPPublisher) reconnect() {
	delay := p.minDelay
	for {
		ch, err := p.dial()

		p.mu.Lock()
		if p.closed {
			p.reconnecting = false
			p.mu.Unlock()
			if ch != nil {
				ch.Close()
			}
			return
		}
		if err == nil {
			p.ch = ch
			p.reconnecting = false
			p.mu.Unlock()
			p.logger.Info().Msg("broker channel reopened")
			return
		}
		p.mu.Unlock()

		p.logger.Warn().Err(err).Dur("retry_in", delay).Msg("broker reconnect failed")
		select {
		case <-time.After(delay):
		case <-p.done:
			p.mu.Lock()
			p.reconnecting = false
			p.mu.Unlock()
			return
		}
		if delay *= 2; delay > p.maxDelay {
			delay = p.maxDelay
		}
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ch, err := p.channel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(ctx, p.exchange, e.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID.String(),
		Type:         e.Type,
		Timestamp:    e.OccurredAt,
		Body:         body,
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("event_type", e.Type).Msg("publish failed")
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)

	var errs []error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
