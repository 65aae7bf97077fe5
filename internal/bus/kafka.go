package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"meshbridge/internal/config"
	"meshbridge/internal/constants"
	"meshbridge/internal/logger"
	"meshbridge/pkg/metrics"
	"meshbridge/pkg/retry"
)

// Command is an operator instruction consumed from the commands topic.
// Target is a link name, "all", or empty for all links.
type Command struct {
	Target  string `json:"target,omitempty"`
	Text    string `json:"text"`
	Channel int    `json:"channel"`
}

// Sender is the outbound side the command consumer drives. The router
// satisfies it.
type Sender interface {
	Send(ctx context.Context, target, text string, channel int) error
}

// Bus connects the bridge to Kafka: routing outcomes and periodic
// statistics go out, operator commands come in.
type Bus struct {
	messagesWriter *kafka.Writer
	statsWriter    *kafka.Writer
	commandsReader *kafka.Reader

	messagesTopic string
	statsTopic    string
	commandsTopic string

	policy retry.Policy
	sender Sender
	logger logger.Logger
}

func New(cfg config.BusConfig, sender Sender, log logger.Logger) *Bus {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: constants.KafkaBatchTimeout,
			WriteTimeout: constants.KafkaWriteTimeout,
		}
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		GroupID:  cfg.Kafka.GroupID,
		Topic:    cfg.Kafka.CommandsTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})

	policy := retry.Policy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		Multiplier:      cfg.Retry.Multiplier,
		MaxElapsedTime:  cfg.Retry.MaxElapsedTime,
	}
	if policy.MaxAttempts <= 0 {
		policy = retry.DefaultPolicy()
	}

	return &Bus{
		messagesWriter: newWriter(cfg.Kafka.MessagesTopic),
		statsWriter:    newWriter(cfg.Kafka.StatsTopic),
		commandsReader: reader,
		messagesTopic:  cfg.Kafka.MessagesTopic,
		statsTopic:     cfg.Kafka.StatsTopic,
		commandsTopic:  cfg.Kafka.CommandsTopic,
		policy:         policy,
		sender:         sender,
		logger:         log,
	}
}

// Publish writes one JSON record keyed by key to the messages topic,
// retrying with backoff on transient failures.
func (b *Bus) Publish(ctx context.Context, key string, payload interface{}) error {
	return b.publish(ctx, b.messagesWriter, b.messagesTopic, key, payload)
}

// PublishStats writes one statistics report to the stats topic.
func (b *Bus) PublishStats(ctx context.Context, payload interface{}) error {
	return b.publish(ctx, b.statsWriter, b.statsTopic, "", payload)
}

func (b *Bus) publish(ctx context.Context, w *kafka.Writer, topic, key string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal record for topic %s: %w", topic, err)
	}

	msg := kafka.Message{Value: value}
	if key != "" {
		msg.Key = []byte(key)
	}

	err = retry.Do(ctx, b.policy, func() error {
		return w.WriteMessages(ctx, msg)
	})
	if err != nil {
		metrics.BusPublishErrorsTotal.WithLabelValues(topic).Inc()
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}

	metrics.BusMessagesPublishedTotal.WithLabelValues(topic).Inc()
	return nil
}

// ConsumeCommands reads operator commands until ctx is done. A command
// that fails to parse or send is logged and committed anyway; commands
// are not replayed.
func (b *Bus) ConsumeCommands(ctx context.Context) error {
	b.logger.Infow("Consuming operator commands", "topic", b.commandsTopic)

	for {
		m, err := b.commandsReader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to fetch command: %w", err)
		}

		metrics.BusMessagesConsumedTotal.WithLabelValues(b.commandsTopic).Inc()
		b.handleCommand(ctx, m.Value)

		if err := b.commandsReader.CommitMessages(ctx, m); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			b.logger.Errorw("Failed to commit command offset", "error", err)
		}
	}
}

func (b *Bus) handleCommand(ctx context.Context, value []byte) {
	var cmd Command
	if err := json.Unmarshal(value, &cmd); err != nil {
		b.logger.Warnw("Discarding unparseable command", "error", err)
		return
	}
	if cmd.Text == "" {
		b.logger.Warnw("Discarding command with empty text")
		return
	}

	if err := b.sender.Send(ctx, cmd.Target, cmd.Text, cmd.Channel); err != nil {
		b.logger.Errorw("Failed to execute send command",
			"target", cmd.Target,
			"error", err,
		)
		return
	}

	b.logger.Infow("Executed send command",
		"target", cmd.Target,
		"channel", cmd.Channel,
	)
}

func (b *Bus) Close() error {
	var errs []error
	if err := b.messagesWriter.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.statsWriter.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.commandsReader.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close bus: %v", errs)
	}
	return nil
}
