package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher はアカウントメールイベントの発行インターフェース。
type Publisher interface {
	Publish(ctx context.Context, event AccountEmailEvent) error
}

// AMQPPublisher はRabbitMQの永続キューへイベントをJSONで発行する。
// 発行ごとに接続を張り、キュー宣言は冪等に行う。
type AMQPPublisher struct {
	url    string
	queue  string
	logger *slog.Logger
}

// NewAMQPPublisher はAMQPPublisherを生成する。
func NewAMQPPublisher(url, queue string, logger *slog.Logger) *AMQPPublisher {
	return &AMQPPublisher{url: url, queue: queue, logger: logger}
}

// Publish はイベントを発行する。失敗時はログに記録し、エラーを返す。
func (p *AMQPPublisher) Publish(ctx context.Context, event AccountEmailEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.logFailure(event, "dial", err)
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		p.logFailure(event, "channel", err)
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		p.logFailure(event, "queue_declare", err)
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         string(event.Kind),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.logFailure(event, "publish", err)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("アカウントメールイベントを発行しました",
		slog.String("kind", string(event.Kind)),
		slog.String("user_id", event.UserID),
		slog.String("queue", p.queue),
	)
	return nil
}

func (p *AMQPPublisher) logFailure(event AccountEmailEvent, stage string, err error) {
	p.logger.Error("アカウントメールイベントの発行に失敗しました",
		slog.String("kind", string(event.Kind)),
		slog.String("user_id", event.UserID),
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
}

// LogPublisher はブローカー未設定時に使用する、イベントをログへ出力するだけの実装。
// 開発環境での確認用で、ActionURL もログに残す。
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher はLogPublisherを生成する。
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish はイベントをInfoレベルでログ出力する。
func (p *LogPublisher) Publish(_ context.Context, event AccountEmailEvent) error {
	p.logger.Info("アカウントメールイベント（ブローカー未設定のためログ出力のみ）",
		slog.String("kind", string(event.Kind)),
		slog.String("user_id", event.UserID),
		slog.String("email", event.Email),
		slog.String("action_url", event.ActionURL),
	)
	return nil
}

var (
	_ Publisher = (*AMQPPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
)
