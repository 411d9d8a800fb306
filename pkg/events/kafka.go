// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"

	"github.com/voxgate/dirauth/pkg/logger"
	"github.com/voxgate/dirauth/pkg/utils"
)

// KafkaConfig configures the Kafka audit stream.
//
// Example TOML:
//
//	[events]
//	enabled = true
//	brokers = ["localhost:9092"]
//	topic = "auth-events"
//	required_acks = 1
//	compression = "snappy"
//	sasl_enabled = true
//	sasl_mechanism = "SCRAM-SHA-256"
//	sasl_username = "dirauth"
//	sasl_password = "secret"
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`

	// Topic is the Kafka topic for auth events (default: "auth-events").
	Topic string `mapstructure:"topic"`

	// RequiredAcks: 0=none, 1=leader, -1=all.
	RequiredAcks int `mapstructure:"required_acks"`

	// Compression: "none", "gzip", "snappy", "lz4", "zstd" (default: "snappy").
	Compression string `mapstructure:"compression"`

	// QueueSize bounds the in-process delivery queue (default: 1024).
	QueueSize int `mapstructure:"queue_size"`

	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	TLS           bool `mapstructure:"tls"`
	TLSSkipVerify bool `mapstructure:"tls_skip_verify"`

	SASLEnabled   bool   `mapstructure:"sasl_enabled"`
	SASLMechanism string `mapstructure:"sasl_mechanism"`
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`
}

// KafkaEmitter delivers auth events to Kafka through a bounded in-process
// queue. Emit never blocks: when the queue is full the event is dropped and
// counted.
type KafkaEmitter struct {
	producer sarama.SyncProducer
	topic    string

	queue chan Event
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// NewKafkaEmitter connects to the brokers and starts the delivery worker.
func NewKafkaEmitter(cfg KafkaConfig) (*KafkaEmitter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}

	config, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	brokers := make([]string, len(cfg.Brokers))
	for i, b := range cfg.Brokers {
		brokers[i] = utils.HostWithDefaultPort(b, "9092")
	}

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka producer creation failed: %w", err)
	}

	logger.Info().
		Strs("brokers", brokers).
		Str("topic", topicOrDefault(cfg.Topic)).
		Str("compression", cfg.Compression).
		Int("required_acks", cfg.RequiredAcks).
		Msg("kafka auth event stream connected")

	return newKafkaEmitter(producer, cfg), nil
}

// NewKafkaEmitterWithProducer wraps an existing producer, for tests.
func NewKafkaEmitterWithProducer(producer sarama.SyncProducer, cfg KafkaConfig) *KafkaEmitter {
	return newKafkaEmitter(producer, cfg)
}

func newKafkaEmitter(producer sarama.SyncProducer, cfg KafkaConfig) *KafkaEmitter {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}

	e := &KafkaEmitter{
		producer: producer,
		topic:    topicOrDefault(cfg.Topic),
		queue:    make(chan Event, queueSize),
	}
	e.wg.Add(1)
	go e.deliver()
	return e
}

func topicOrDefault(topic string) string {
	if topic == "" {
		return "auth-events"
	}
	return topic
}

// Emit queues ev for delivery and returns immediately.
func (e *KafkaEmitter) Emit(_ context.Context, ev Event) {
	select {
	case e.queue <- Fill(ev):
		eventsQueueDepth.Set(float64(len(e.queue)))
	default:
		eventsDroppedTotal.Inc()
		logger.Warn().
			Str("event_type", string(ev.Type)).
			Str("localpart", ev.LocalPart).
			Msg("auth event queue full, event dropped")
	}
}

func (e *KafkaEmitter) deliver() {
	defer e.wg.Done()

	for ev := range e.queue {
		eventsQueueDepth.Set(float64(len(e.queue)))

		data, err := json.Marshal(ev)
		if err != nil {
			eventsErrorsTotal.WithLabelValues("marshal").Inc()
			logger.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("auth event marshal failed")
			continue
		}

		start := time.Now()
		msg := &sarama.ProducerMessage{
			Topic: e.topic,
			// Partition by local part so one identity's events stay ordered.
			Key:   sarama.StringEncoder(ev.LocalPart),
			Value: sarama.ByteEncoder(data),
		}

		partition, offset, err := e.producer.SendMessage(msg)
		if err != nil {
			eventsErrorsTotal.WithLabelValues("publish").Inc()
			logger.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("auth event publish failed")
			continue
		}
		eventsDeliveryDuration.Observe(time.Since(start).Seconds())
		eventsEmittedTotal.WithLabelValues(string(ev.Type)).Inc()

		logger.Debug().
			Str("topic", e.topic).
			Str("event_type", string(ev.Type)).
			Int32("partition", partition).
			Int64("offset", offset).
			Msg("published auth event")
	}
}

// Close drains the queue, then shuts the producer down.
func (e *KafkaEmitter) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.queue)
		e.wg.Wait()
		err = e.producer.Close()
	})
	return err
}

var _ Emitter = (*KafkaEmitter)(nil)

// buildSaramaConfig maps KafkaConfig onto sarama's knobs.
func buildSaramaConfig(cfg KafkaConfig) (*sarama.Config, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	switch cfg.RequiredAcks {
	case 0:
		config.Producer.RequiredAcks = sarama.NoResponse
	case 1:
		config.Producer.RequiredAcks = sarama.WaitForLocal
	case -1:
		config.Producer.RequiredAcks = sarama.WaitForAll
	default:
		config.Producer.RequiredAcks = sarama.WaitForLocal
	}

	switch cfg.Compression {
	case "gzip":
		config.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		config.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		config.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		config.Producer.Compression = sarama.CompressionZSTD
	case "none", "":
		config.Producer.Compression = sarama.CompressionNone
	default:
		config.Producer.Compression = sarama.CompressionSnappy
	}

	if cfg.WriteTimeout > 0 {
		config.Producer.Timeout = cfg.WriteTimeout
		config.Net.WriteTimeout = cfg.WriteTimeout
		config.Net.ReadTimeout = cfg.WriteTimeout
	}

	if cfg.TLS {
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		}
	}

	if cfg.SASLEnabled {
		config.Net.SASL.Enable = true
		config.Net.SASL.User = cfg.SASLUsername
		config.Net.SASL.Password = cfg.SASLPassword

		switch cfg.SASLMechanism {
		case "SCRAM-SHA-256":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{mechanism: scram.SHA256}
			}
		case "SCRAM-SHA-512":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{mechanism: scram.SHA512}
			}
		default:
			config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	// Hash partitioner keeps per-identity ordering stable.
	config.Producer.Partitioner = sarama.NewHashPartitioner

	return config, nil
}

// scramClient implements the sarama.SCRAMClient interface for SCRAM authentication.
type scramClient struct {
	mechanism    scram.HashGeneratorFcn
	conversation *scram.ClientConversation
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.mechanism.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.conversation = client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.conversation.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.conversation.Done()
}
