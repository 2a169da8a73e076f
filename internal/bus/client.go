// Package bus implements the Bus Client (spec.md §3-§5): a Kafka pub/sub
// wrapper over topic_commands/topic_responses, with topic provisioning and
// a reconnect supervisor, following the teacher's franz-go client pattern
// (telemetry/flow-ingest/internal/kafka.Client, telemetry/gnmi-writer's
// functional-options consumer).
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/helmcam/coordinator/internal/protocol"
)

// Config bundles the transport parameters recognized under spec.md §6
// ("broker_host, broker_port, keepalive, qos, topic_commands,
// topic_responses").
type Config struct {
	ClientID       string
	Brokers        []string
	TopicCommands  string
	TopicResponses string
	QoS            int
	Keepalive      time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c Config) acks() kgo.Acks {
	switch c.QoS {
	case 0:
		return kgo.NoAck()
	case 1:
		return kgo.LeaderAck()
	default:
		return kgo.AllISRAcks()
	}
}

// Client wraps a franz-go client for the two coordinator topics. It
// implements internal/issuer.Publisher and internal/heartbeat.ConnectionChecker.
type Client struct {
	cfg       Config
	client    *kgo.Client
	log       *slog.Logger
	connected atomic.Bool
}

// New dials the broker set and subscribes to consumeTopic (topic_responses
// on the master, topic_commands on a capture node). It does not block for
// the first successful connection; Connected() reports live status once Run
// has observed one.
func New(cfg Config, consumeTopic string, log *slog.Logger) (*Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("bus: at least one broker is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RequiredAcks(cfg.acks()),
		kgo.ConsumeTopics(consumeTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	}
	if cfg.Keepalive > 0 {
		opts = append(opts, kgo.ConnIdleTimeout(cfg.Keepalive))
	}

	kc, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: create client: %w", err)
	}

	c := &Client{cfg: cfg, client: kc, log: log}
	return c, nil
}

// Close releases the underlying client.
func (c *Client) Close() {
	c.client.Close()
}

// Connected reports whether the most recent publish or health check
// succeeded (spec.md §4.6 "when the Bus is connected").
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// EnsureTopics creates topic_commands and topic_responses if they do not
// already exist, per spec.md §6 transport configuration.
func (c *Client) EnsureTopics(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(c.client)
	for _, topic := range []string{c.cfg.TopicCommands, c.cfg.TopicResponses} {
		if _, err := adm.CreateTopic(ctx, partitions, replication, nil, topic); err != nil {
			if strings.Contains(err.Error(), "TOPIC_ALREADY_EXISTS") {
				continue
			}
			return fmt.Errorf("bus: create topic %s: %w", topic, err)
		}
	}
	return nil
}

// PublishCommand publishes a Command envelope to topic_commands. It
// implements internal/issuer.Publisher.
func (c *Client) PublishCommand(ctx context.Context, cmd protocol.Command) error {
	return c.publish(ctx, c.cfg.TopicCommands, cmd)
}

// PublishResponse publishes a Response envelope to topic_responses, used by
// the peer-side Peer Handler.
func (c *Client) PublishResponse(ctx context.Context, resp protocol.Response) error {
	return c.publish(ctx, c.cfg.TopicResponses, resp)
}

func (c *Client) publish(ctx context.Context, topic string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: marshal: %w", err)
	}

	result := c.client.ProduceSync(ctx, &kgo.Record{Topic: topic, Value: b})
	if err := result.FirstErr(); err != nil {
		c.connected.Store(false)
		return fmt.Errorf("bus: produce to %s: %w", topic, err)
	}
	c.connected.Store(true)
	return nil
}

// Frames polls the subscribed topic and forwards each record's raw bytes
// until ctx is cancelled, then closes the returned channel.
func (c *Client) Frames(ctx context.Context) <-chan []byte {
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for {
			fetches := c.client.PollFetches(ctx)
			if fetches.IsClientClosed() {
				return
			}
			if err := ctx.Err(); err != nil {
				return
			}

			fetches.EachError(func(topic string, partition int32, err error) {
				c.connected.Store(false)
				c.log.Warn("bus fetch error", slog.String("topic", topic), slog.Int("partition", int(partition)), slog.String("error", err.Error()))
			})

			fetches.EachRecord(func(rec *kgo.Record) {
				c.connected.Store(true)
				select {
				case out <- rec.Value:
				case <-ctx.Done():
				}
			})
		}
	}()
	return out
}

// Run supervises connectivity with an exponential backoff health check
// (spec.md §5 "Bus Client's reconnect loop"), following the teacher's
// gnmitunnel reconnect pattern. It blocks until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	if c.cfg.InitialBackoff > 0 {
		bo.InitialInterval = c.cfg.InitialBackoff
	}
	if c.cfg.MaxBackoff > 0 {
		bo.MaxInterval = c.cfg.MaxBackoff
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.client.Ping(ctx); err != nil {
			c.connected.Store(false)
			wait := bo.NextBackOff()
			c.log.Warn("bus ping failed, backing off", slog.String("error", err.Error()), slog.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		c.connected.Store(true)
		bo.Reset()

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}
