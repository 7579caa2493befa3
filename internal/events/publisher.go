// Package events は請求成功イベントの外部通知を提供する。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hitoshi/tokenminer/internal/model"
)

// DefaultClaimTopic は請求イベントのKafkaトピックのデフォルト値。
const DefaultClaimTopic = "mining.claims"

// messageWriter はkafka.Writerのうち本パッケージが使う操作。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher は請求イベントをJSONとしてKafkaへ送信する。
// メッセージキーはユーザーIDとし、同一ユーザーのイベント順序を保つ。
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewKafkaPublisher はブローカー一覧とトピックからKafkaPublisherを生成する。
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	if topic == "" {
		topic = DefaultClaimTopic
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafkaPublisher(writer, topic, logger)
}

func newKafkaPublisher(writer messageWriter, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

// PublishClaim は請求イベントを送信する。
func (p *KafkaPublisher) PublishClaim(ctx context.Context, event model.ClaimEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal claim event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.UserID),
		Value: value,
		Time:  event.ClaimedAt,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(event.ID)},
			{Key: "event-type", Value: []byte("claim.settled")},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish claim event to %s: %w", p.topic, err)
	}

	p.logger.Debug("claim event published",
		slog.String("topic", p.topic),
		slog.String("event_id", event.ID),
	)
	return nil
}

// Close は内部のWriterを閉じ、未送信のメッセージをフラッシュする。
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher はイベントを送信しないPublisher。Kafka未設定時に使用する。
type NopPublisher struct{}

// PublishClaim は何もしない。
func (NopPublisher) PublishClaim(context.Context, model.ClaimEvent) error {
	return nil
}

// Close は何もしない。
func (NopPublisher) Close() error {
	return nil
}
