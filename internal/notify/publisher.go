package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/model"
)

const (
	// DefaultBuffer is how many notifications wait for the broker before
	// new ones are dropped.
	DefaultBuffer = 256

	dialTimeout    = 5 * time.Second
	publishTimeout = 5 * time.Second
)

// ErrBacklogFull is returned by Notify when the broker has fallen so far
// behind that the notification was dropped.
var ErrBacklogFull = errors.New("notification backlog full")

// NopPublisher drops every notification.  It is used when notifications
// are disabled.
type NopPublisher struct{}

func (NopPublisher) Notify(context.Context, model.ChangeEvent, string) error { return nil }

// sender delivers one encoded notification to the broker.
type sender interface {
	Send(ctx context.Context, body []byte) error
	Close() error
}

// Publisher queues notifications in memory and sends them to RabbitMQ from
// a single background loop, so a slow or absent broker never holds up the
// request that committed the change.  Run must be started for anything to
// be sent.
type Publisher struct {
	out     sender
	log     *slog.Logger
	queue   chan []byte
	backoff time.Duration
}

// NewPublisher creates a publisher for the broker at url.
func NewPublisher(url string, log *slog.Logger) *Publisher {
	return newPublisher(&amqpSender{url: url}, DefaultBuffer, log)
}

func newPublisher(out sender, buffer int, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	if buffer < 1 {
		buffer = 1
	}
	return &Publisher{out: out, log: log, queue: make(chan []byte, buffer), backoff: time.Second}
}

// Notify queues the notification for ev, if it calls for one.  It never
// blocks.
func (p *Publisher) Notify(_ context.Context, ev model.ChangeEvent, userID string) error {
	n, ok := FromEvent(ev, userID)
	if !ok {
		return nil
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	select {
	case p.queue <- body:
		return nil
	default:
		return ErrBacklogFull
	}
}

// Pending returns the number of queued notifications.
func (p *Publisher) Pending() int { return len(p.queue) }

// Run sends queued notifications until ctx is done.  A failed send is
// retried with backoff; messages queued meanwhile wait their turn.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case body := <-p.queue:
			p.deliver(ctx, body)
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, body []byte) {
	backoff := p.backoff
	for {
		sendCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := p.out.Send(sendCtx, body)
		cancel()
		if err == nil {
			return
		}
		p.log.Warn("notify: publish failed", "err", err, "retry_in", backoff)
		if !sleep(ctx, backoff) {
			return
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	return p.out.Close()
}

// dial opens a broker connection with a bounded connect time.
func dial(url string) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
}

// amqpSender publishes to the notification queue over one lazily opened
// channel, reopened after the broker drops it.
type amqpSender struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// channel returns an open channel, dialling if needed.  Callers hold s.mu.
func (s *amqpSender) channel() (*amqp.Channel, error) {
	if s.ch != nil && !s.ch.IsClosed() {
		return s.ch, nil
	}
	if s.conn == nil || s.conn.IsClosed() {
		conn, err := dial(s.url)
		if err != nil {
			return nil, err
		}
		s.conn = conn
	}
	ch, err := s.conn.Channel()
	if err != nil {
		return nil, err
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}
	s.ch = ch
	return ch, nil
}

// Send publishes body as a persistent message.
func (s *amqpSender) Send(ctx context.Context, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.channel()
	if err != nil {
		return apperr.Unavailable("rabbitmq", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", QueueName, false, false, msg); err != nil {
		_ = ch.Close()
		s.ch = nil
		return apperr.Unavailable("rabbitmq", err)
	}
	return nil
}

func (s *amqpSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
