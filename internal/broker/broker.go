// Package broker wraps Kafka behind the two delivery primitives the router
// needs: keyed publishes to durable per-user topics and commit-after-handle
// consumption of service topics.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smangukia/CommuneDrop-sub001/internal/observability"
)

// UserTopicPrefix prefixes every per-user durable topic.
const UserTopicPrefix = "user-updates-"

// UserTopic returns the durable topic name for a user.
func UserTopic(userID string) string { return UserTopicPrefix + userID }

// Config carries the connection and topic-admin tunables.
type Config struct {
	Brokers            []string
	ConnectBaseDelay   time.Duration
	ConnectMaxDelay    time.Duration
	ConnectMaxAttempts int
	ReconnectCooldown  time.Duration
	TopicPartitions    int
	TopicRetention     time.Duration
}

// Broker maintains producer and consumer connections to Kafka. Reconnection
// runs detached from event processing so a stalled attempt never blocks
// newly arriving events.
type Broker struct {
	cfg       Config
	log       *slog.Logger
	client    *kafka.Client
	writer    *kafka.Writer
	connected atomic.Bool
}

func New(cfg Config, log *slog.Logger) *Broker {
	if cfg.ConnectBaseDelay <= 0 {
		cfg.ConnectBaseDelay = 300 * time.Millisecond
	}
	if cfg.ConnectMaxDelay <= 0 {
		cfg.ConnectMaxDelay = 30 * time.Second
	}
	if cfg.ConnectMaxAttempts <= 0 {
		cfg.ConnectMaxAttempts = 8
	}
	if cfg.ReconnectCooldown <= 0 {
		cfg.ReconnectCooldown = 45 * time.Second
	}
	if cfg.TopicPartitions <= 0 {
		cfg.TopicPartitions = 2
	}
	if cfg.TopicRetention <= 0 {
		cfg.TopicRetention = 24 * time.Hour
	}
	return &Broker{
		cfg:    cfg,
		log:    log,
		client: &kafka.Client{Addr: kafka.TCP(cfg.Brokers...), Timeout: 10 * time.Second},
		writer: &kafka.Writer{
			Addr: kafka.TCP(cfg.Brokers...),
			// Hash balancer keeps all messages for one key on one
			// partition, which is what gives per-order ordering.
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 10 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Connected reports whether the last connection probe succeeded. It feeds the
// health endpoint and the serverConfig event sent to live sessions.
func (b *Broker) Connected() bool { return b.connected.Load() }

// Start runs the connect/monitor loop until ctx is cancelled.
func (b *Broker) Start(ctx context.Context) {
	go b.run(ctx)
}

func (b *Broker) run(ctx context.Context) {
	for {
		if err := b.connectWithBackoff(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Error("broker connect attempts exhausted, cooling down",
				"error", err, "cooldown", b.cfg.ReconnectCooldown)
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.cfg.ReconnectCooldown):
				continue
			}
		}
		b.setConnected(true)
		b.log.Info("broker connected", "brokers", b.cfg.Brokers)
		if topics, err := b.TopicsMatching(ctx, UserTopicPrefix); err == nil {
			b.log.Info("existing user topics", "count", len(topics))
		}

		// Probe periodically; fall back into the connect loop on failure.
		ticker := time.NewTicker(30 * time.Second)
	monitor:
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				if err := b.probe(ctx); err != nil {
					b.log.Warn("broker probe failed, reconnecting", "error", err)
					b.setConnected(false)
					ticker.Stop()
					break monitor
				}
			}
		}
	}
}

func (b *Broker) connectWithBackoff(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < b.cfg.ConnectMaxAttempts; attempt++ {
		if err := b.probe(ctx); err != nil {
			lastErr = err
			delay := nextDelay(attempt, b.cfg.ConnectBaseDelay, b.cfg.ConnectMaxDelay)
			b.log.Warn("broker connect failed",
				"attempt", attempt+1, "retry_in", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		return nil
	}
	return lastErr
}

// nextDelay implements the exponential backoff schedule: base * 1.5^attempt,
// capped at max.
func nextDelay(attempt int, base, max time.Duration) time.Duration {
	d := float64(base)
	for i := 0; i < attempt; i++ {
		d *= 1.5
		if d >= float64(max) {
			return max
		}
	}
	if d > float64(max) {
		return max
	}
	return time.Duration(d)
}

func (b *Broker) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := b.client.Metadata(ctx, &kafka.MetadataRequest{})
	return err
}

func (b *Broker) setConnected(up bool) {
	b.connected.Store(up)
	if up {
		observability.BrokerConnected.Set(1)
	} else {
		observability.BrokerConnected.Set(0)
	}
}

// EnsureTopic creates a topic if it does not exist. Duplicate-create races
// are tolerated: an already-exists error from a concurrent creator counts as
// success.
func (b *Broker) EnsureTopic(ctx context.Context, name string) error {
	resp, err := b.client.CreateTopics(ctx, &kafka.CreateTopicsRequest{
		Topics: []kafka.TopicConfig{{
			Topic:             name,
			NumPartitions:     b.cfg.TopicPartitions,
			ReplicationFactor: 1,
			ConfigEntries: []kafka.ConfigEntry{{
				ConfigName:  "retention.ms",
				ConfigValue: strconv.FormatInt(b.cfg.TopicRetention.Milliseconds(), 10),
			}},
		}},
	})
	if err != nil {
		return err
	}
	if terr := resp.Errors[name]; terr != nil && !errors.Is(terr, kafka.TopicAlreadyExists) {
		return terr
	}
	return nil
}

// EnsureUserTopic guarantees the per-user topic exists before any publish
// targets it, and returns its name.
func (b *Broker) EnsureUserTopic(ctx context.Context, userID string) (string, error) {
	name := UserTopic(userID)
	if err := b.EnsureTopic(ctx, name); err != nil {
		return "", err
	}
	return name, nil
}

// Publish sends one keyed JSON message. It reports success or failure and
// never panics: a broker outage degrades to live-session-only delivery and
// is retried only by the connect loop, never per message.
func (b *Broker) Publish(ctx context.Context, topic, key string, payload any) bool {
	if !b.connected.Load() {
		observability.BrokerPublishes.WithLabelValues("skipped").Inc()
		b.log.Warn("publish skipped, broker disconnected", "topic", topic, "key", key)
		return false
	}
	value, err := json.Marshal(payload)
	if err != nil {
		observability.BrokerPublishes.WithLabelValues("failure").Inc()
		b.log.Error("publish marshal failed", "topic", topic, "error", err)
		return false
	}
	err = b.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		observability.BrokerPublishes.WithLabelValues("failure").Inc()
		b.log.Error("publish failed", "topic", topic, "key", key, "error", err)
		return false
	}
	observability.BrokerPublishes.WithLabelValues("success").Inc()
	return true
}

// Handler processes one consumed message. A non-nil error keeps the consumer
// on the same message, retrying with backoff until it is accepted, so handlers
// treat unrecoverable payloads as handled rather than erroring forever.
type Handler func(ctx context.Context, msg kafka.Message) error

// messageSource is the part of kafka.Reader the consume loop needs.
type messageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consume reads the given topics with at-least-once semantics: the offset is
// committed only after the handler returns nil, and the loop never fetches
// past an unhandled message. Runs until ctx is cancelled.
func (b *Broker) Consume(ctx context.Context, topics []string, groupID string, handler Handler) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.cfg.Brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()
	b.consumeLoop(ctx, reader, handler, time.Second)
}

func (b *Broker) consumeLoop(ctx context.Context, src messageSource, handler Handler, baseBackoff time.Duration) {
	maxBackoff := 30 * baseBackoff
	backoff := baseBackoff

	for {
		msg, err := src.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Warn("kafka fetch error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = baseBackoff

		// Stay on this message until the handler accepts it. Fetching the
		// next one first would advance the read cursor, and a later commit
		// would mark this offset consumed without it ever being handled.
		retry := baseBackoff
		for {
			herr := handler(ctx, msg)
			if herr == nil {
				break
			}
			b.log.Error("handler failed, retrying same message",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
				"retry_in", retry, "error", herr)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry):
			}
			retry *= 2
			if retry > maxBackoff {
				retry = maxBackoff
			}
		}
		if err := src.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Error("offset commit failed", "topic", msg.Topic, "error", err)
		}
	}
}

// TopicsMatching lists topics whose name starts with prefix. It expands the
// per-user topic pattern for consumers that follow the full set.
func (b *Broker) TopicsMatching(ctx context.Context, prefix string) ([]string, error) {
	resp, err := b.client.Metadata(ctx, &kafka.MetadataRequest{})
	if err != nil {
		return nil, err
	}
	var out []string
	for _, t := range resp.Topics {
		if strings.HasPrefix(t.Name, prefix) {
			out = append(out, t.Name)
		}
	}
	return out, nil
}

// Close flushes and closes the producer side.
func (b *Broker) Close() error {
	if b.writer == nil {
		return nil
	}
	return b.writer.Close()
}
