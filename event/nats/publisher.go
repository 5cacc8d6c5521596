package nats

import (
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/code-payments/iap-bridge/event"
	"github.com/code-payments/iap-bridge/metrics"
)

// Conn is the subset of *nats.Conn used by the Publisher.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher forwards push events to NATS. Each event is published on
// "<subject>.<event type>" with the wire payload as the message body.
type Publisher struct {
	log     *zap.Logger
	conn    Conn
	subject string
	metrics *metrics.Metrics
}

func NewPublisher(log *zap.Logger, conn Conn, subject string, m *metrics.Metrics) *Publisher {
	return &Publisher{
		log:     log,
		conn:    conn,
		subject: subject,
		metrics: m,
	}
}

func (p *Publisher) OnEvent(t event.Type, e *event.Event) {
	subject := p.Subject(t)
	if err := p.conn.Publish(subject, e.Payload); err != nil {
		p.log.Warn("Failed to publish event", zap.String("subject", subject), zap.String("epoch", e.Epoch), zap.Error(err))
		p.metrics.EventDropped(metrics.DropPublishFailed)
	}
}

// Subject returns the subject events of type t are published on.
func (p *Publisher) Subject(t event.Type) string {
	return p.subject + "." + string(t)
}

// Connect dials url with reconnect handling that logs through log.
func Connect(log *zap.Logger, url string) (*natsgo.Conn, error) {
	conn, err := natsgo.Connect(url,
		natsgo.Name("iap-bridge"),
		natsgo.ReconnectWait(2*time.Second),
		natsgo.MaxReconnects(10),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}
