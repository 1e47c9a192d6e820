package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"labreserve/internal/config"
	"labreserve/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// LogSink writes notifications to the log. Used when no broker is configured.
type LogSink struct {
	logger *zerolog.Logger
}

func NewLogSink(logger *zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(_ context.Context, n *models.Notification) error {
	s.logger.Info().
		Str("notification_id", n.ID).
		Str("user_id", n.UserID).
		Str("type", n.Type).
		Str("title", n.Title).
		Msg("Notification delivered")
	return nil
}

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes notifications to a topic exchange with routing key
// notification.<type>. MessageId carries the notification id so consumers
// can drop redeliveries.
type AMQPSink struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	pub      amqpPublisher
	exchange string
}

func NewAMQPSink(cfg config.AMQPConfig) (*AMQPSink, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPSink{conn: conn, ch: ch, pub: ch, exchange: cfg.Exchange}, nil
}

func (s *AMQPSink) Deliver(ctx context.Context, n *models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	err = s.pub.PublishWithContext(ctx, s.exchange, "notification."+n.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.ID,
		Timestamp:    n.CreatedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish notification %s: %w", n.ID, err)
	}
	return nil
}

func (s *AMQPSink) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
