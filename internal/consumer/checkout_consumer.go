package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cartapi/internal/domain/model"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	EventCheckoutCompleted = "checkout.completed"

	clearAttempts = 3
	clearBackoff  = 200 * time.Millisecond
)

// ErrMalformedEvent marks payloads that no retry can fix.
var ErrMalformedEvent = errors.New("malformed checkout event")

// CheckoutEvent is published by the checkout service once an order is placed.
type CheckoutEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
}

type CartClearer interface {
	ClearCart(ctx context.Context, owner model.OwnerKey) error
}

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter is the part of *kafka.Writer used for the dead letter topic.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// CheckoutConsumer empties a shopper's cart after their checkout completes.
type CheckoutConsumer struct {
	reader  MessageReader
	dlq     MessageWriter
	carts   CartClearer
	log     *zap.Logger
	backoff time.Duration
}

// dlq may be nil. Without it an event that cannot be applied stops the
// consumer with its offset uncommitted.
func NewCheckoutConsumer(reader MessageReader, dlq MessageWriter, carts CartClearer, log *zap.Logger) *CheckoutConsumer {
	return &CheckoutConsumer{reader: reader, dlq: dlq, carts: carts, log: log, backoff: clearBackoff}
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
}

func NewKafkaDeadLetterWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

// Run consumes until ctx is canceled.
//
// An offset is committed only once its message is applied, ignored, or parked
// on the dead letter topic. A malformed payload is committed even when it
// cannot be parked. Any other unhandled message ends Run with an error and
// stays uncommitted, so the group redelivers it after restart.
func (c *CheckoutConsumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.log.Warn("closing kafka reader", zap.Error(err))
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch checkout message: %w", err)
		}

		if herr := c.Handle(ctx, m.Value); herr != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err := c.deadLetter(ctx, m, herr); err != nil {
				if !errors.Is(herr, ErrMalformedEvent) {
					return fmt.Errorf("checkout event at partition %d offset %d not applied: %w (dead letter: %v)",
						m.Partition, m.Offset, herr, err)
				}
				c.log.Error("malformed checkout event dropped",
					zap.Int("partition", m.Partition),
					zap.Int64("offset", m.Offset),
					zap.Error(herr))
			}
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit checkout message: %w", err)
		}
	}
}

// deadLetter copies m to the dead letter topic with the failure in its headers.
func (c *CheckoutConsumer) deadLetter(ctx context.Context, m kafka.Message, cause error) error {
	if c.dlq == nil {
		return errors.New("no dead letter topic configured")
	}

	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Key:   m.Key,
		Value: m.Value,
		Headers: []kafka.Header{
			{Key: "error", Value: []byte(cause.Error())},
			{Key: "source_topic", Value: []byte(m.Topic)},
			{Key: "source_partition", Value: []byte(strconv.Itoa(m.Partition))},
			{Key: "source_offset", Value: []byte(strconv.FormatInt(m.Offset, 10))},
		},
	})
	if err != nil {
		return err
	}

	c.log.Error("checkout event dead-lettered",
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
		zap.Error(cause))
	return nil
}

// Handle applies one raw event. Events of other types are ignored.
func (c *CheckoutConsumer) Handle(ctx context.Context, value []byte) error {
	var ev CheckoutEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type != EventCheckoutCompleted {
		c.log.Debug("ignoring event", zap.String("type", ev.Type))
		return nil
	}
	if ev.UserID == "" {
		return fmt.Errorf("%w: missing user_id", ErrMalformedEvent)
	}

	owner := model.OwnerKey{TenantID: ev.TenantID, UserID: ev.UserID}
	var err error
	for attempt := 1; attempt <= clearAttempts; attempt++ {
		if err = c.carts.ClearCart(ctx, owner); err == nil {
			c.log.Info("cart cleared after checkout",
				zap.String("user_id", ev.UserID),
				zap.String("tenant_id", ev.TenantID))
			return nil
		}
		c.log.Warn("clear cart failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == clearAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("clear cart for %s: %w", ev.UserID, err)
}
