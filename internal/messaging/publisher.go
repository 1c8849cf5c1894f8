// Package messaging рассылает итоги завершенных сцен через RabbitMQ.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"improv-server/internal/monitor"
)

const (
	DefaultSummaryExchange = "improv.scenes"
	summaryExchangeType    = "fanout"
	SceneFinishedEvent     = "scene_finished"
)

// SceneFinishedPayload публикуется один раз на завершенную сцену.
type SceneFinishedPayload struct {
	Event      string                  `json:"event"`
	SceneID    string                  `json:"sceneId"`
	Status     string                  `json:"status"`
	Reason     string                  `json:"reason,omitempty"`
	TotalLines int                     `json:"totalLines"`
	FinishedAt time.Time               `json:"finishedAt"`
	Summary    *monitor.SessionSummary `json:"summary,omitempty"`
}

// SummaryPublisher публикует итоги завершенных сцен.
type SummaryPublisher interface {
	PublishSceneFinished(ctx context.Context, payload SceneFinishedPayload) error
	Close() error
}

// NopPublisher используется, когда брокер не настроен.
type NopPublisher struct{}

func (NopPublisher) PublishSceneFinished(context.Context, SceneFinishedPayload) error { return nil }
func (NopPublisher) Close() error                                                     { return nil }

// RabbitMQSummaryPublisher публикует JSON в durable fanout exchange.
type RabbitMQSummaryPublisher struct {
	ch           *amqp091.Channel
	logger       *zap.Logger
	exchangeName string
}

var _ SummaryPublisher = (*RabbitMQSummaryPublisher)(nil)

// NewRabbitMQSummaryPublisher открывает канал и объявляет exchange.
func NewRabbitMQSummaryPublisher(conn *amqp091.Connection, exchange string, logger *zap.Logger) (*RabbitMQSummaryPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if exchange == "" {
		exchange = DefaultSummaryExchange
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		summaryExchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", exchange, err)
	}

	logger.Info("Scene summary exchange declared", zap.String("exchange", exchange), zap.String("type", summaryExchangeType))
	return &RabbitMQSummaryPublisher{
		ch:           ch,
		logger:       logger.Named("SummaryPublisher"),
		exchangeName: exchange,
	}, nil
}

func (p *RabbitMQSummaryPublisher) PublishSceneFinished(ctx context.Context, payload SceneFinishedPayload) error {
	if payload.Event == "" {
		payload.Event = SceneFinishedEvent
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal scene summary: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchangeName,
		"", // fanout
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    payload.SceneID,
			Type:         payload.Event,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish scene summary", zap.String("sceneID", payload.SceneID), zap.Error(err))
		return fmt.Errorf("failed to publish scene summary: %w", err)
	}
	p.logger.Debug("Scene summary published", zap.String("sceneID", payload.SceneID), zap.Int("bytes", len(body)))
	return nil
}

func (p *RabbitMQSummaryPublisher) Close() error {
	if p.ch != nil {
		return p.ch.Close()
	}
	return nil
}

// Connect подключается к RabbitMQ, повторяя попытки, пока брокер стартует.
func Connect(ctx context.Context, url string, attempts int, delay time.Duration, logger *zap.Logger) (*amqp091.Connection, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp091.Dial(url)
		if err == nil {
			logger.Info("Connected to RabbitMQ", zap.Int("attempt", i))
			return conn, nil
		}
		lastErr = err
		logger.Warn("RabbitMQ connection failed", zap.Int("attempt", i), zap.Int("maxAttempts", attempts), zap.Error(err))
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", attempts, lastErr)
}
