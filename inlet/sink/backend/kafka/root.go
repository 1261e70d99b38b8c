// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package kafka is a sink backend publishing flows to Kafka, one
// JSON-encoded message per flow record.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	gometrics "github.com/rcrowley/go-metrics"
	"gopkg.in/tomb.v2"

	"cnetflow/common/kafka"
	"cnetflow/common/reporter"
	"cnetflow/inlet/flow/decoder"
	"cnetflow/inlet/sink/backend"
)

// Backend represents the Kafka backend.
type Backend struct {
	r      *reporter.Reporter
	d      backend.Dependencies
	t      tomb.Tomb
	config *Configuration

	kafkaTopic           string
	kafkaConfig          *sarama.Config
	kafkaProducer        sarama.AsyncProducer
	kafkaMetrics         kafka.Metrics
	kafkaMetricsRegistry gometrics.Registry
	createProducer       func() (sarama.AsyncProducer, error)
	errLogger            reporter.Logger
	metrics              metrics
}

var errStopped = errors.New("Kafka backend stopped")

type metrics struct {
	bytesSent    *reporter.CounterVec
	messagesSent *reporter.CounterVec
	errors       *reporter.CounterVec
}

// message is the JSON payload of a flow sent to Kafka.
type message struct {
	Exporter         string    `json:"exporter"`
	Version          uint16    `json:"version"`
	TimeReceived     time.Time `json:"time_received"`
	SamplingInterval uint16    `json:"sampling_interval,omitempty"`
	decoder.FlowRecord
}

// New creates a new Kafka backend.
func (configuration *Configuration) New(r *reporter.Reporter, dependencies backend.Dependencies) (backend.Backend, error) {
	kafkaConfig, err := kafka.NewConfig(configuration.Configuration)
	if err != nil {
		return nil, err
	}
	kafkaConfig.Metadata.AllowAutoTopicCreation = true
	kafkaConfig.Producer.MaxMessageBytes = configuration.MaxMessageBytes
	kafkaConfig.Producer.Compression = sarama.CompressionCodec(configuration.CompressionCodec)
	kafkaConfig.Producer.Return.Successes = false
	kafkaConfig.Producer.Return.Errors = true
	kafkaConfig.Producer.Flush.Bytes = configuration.FlushBytes
	kafkaConfig.Producer.Flush.Frequency = configuration.FlushInterval
	kafkaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	kafkaConfig.ChannelBufferSize = configuration.QueueSize
	kafkaConfig.MetricRegistry = gometrics.NewRegistry()
	if err := kafkaConfig.Validate(); err != nil {
		return nil, fmt.Errorf("cannot validate Kafka configuration: %w", err)
	}

	b := Backend{
		r:                    r,
		d:                    dependencies,
		config:               configuration,
		kafkaTopic:           configuration.Topic,
		kafkaConfig:          kafkaConfig,
		kafkaMetricsRegistry: kafkaConfig.MetricRegistry,
		errLogger:            r.Sample(reporter.BurstSampler(10*time.Second, 3)),
	}
	b.createProducer = func() (sarama.AsyncProducer, error) {
		return sarama.NewAsyncProducer(configuration.Brokers, kafkaConfig)
	}
	b.metrics.bytesSent = r.CounterVec(
		reporter.CounterOpts{
			Name: "sent_bytes_total",
			Help: "Bytes sent to Kafka.",
		},
		[]string{"exporter"})
	b.metrics.messagesSent = r.CounterVec(
		reporter.CounterOpts{
			Name: "sent_messages_total",
			Help: "Messages sent to Kafka.",
		},
		[]string{"exporter"})
	b.metrics.errors = r.CounterVec(
		reporter.CounterOpts{
			Name: "errors_total",
			Help: "Errors from the Kafka producer.",
		},
		[]string{"error"})
	b.kafkaMetrics.Init(r, b.kafkaMetricsRegistry)
	sarama.Logger = kafka.NewLogger(r)
	if dependencies.Daemon != nil {
		dependencies.Daemon.Track(&b.t, "inlet/sink/kafka")
	}
	return &b, nil
}

// Start starts the Kafka producer.
func (b *Backend) Start() error {
	b.r.Info().Msg("starting Kafka backend")
	kafkaProducer, err := b.createProducer()
	if err != nil {
		b.r.Err(err).
			Str("brokers", strings.Join(b.config.Brokers, ",")).
			Msg("unable to create async producer")
		return fmt.Errorf("unable to create Kafka async producer: %w", err)
	}
	b.kafkaProducer = kafkaProducer

	// Main loop
	b.t.Go(func() error {
		defer kafkaProducer.Close()
		errLogger := b.errLogger
		for {
			select {
			case <-b.t.Dying():
				b.r.Debug().Msg("stop error logger")
				return nil
			case msg := <-kafkaProducer.Errors():
				if msg != nil {
					if ke, ok := msg.Err.(sarama.KError); ok {
						b.metrics.errors.WithLabelValues(ke.Error()).Inc()
					} else {
						b.metrics.errors.WithLabelValues("unknown").Inc()
					}
					errLogger.Err(msg.Err).
						Str("topic", msg.Msg.Topic).
						Int64("offset", msg.Msg.Offset).
						Int32("partition", msg.Msg.Partition).
						Msg("Kafka producer error")
				}
			}
		}
	})
	return nil
}

// Stop stops the Kafka producer.
func (b *Backend) Stop() error {
	defer b.r.Info().Msg("Kafka backend stopped")
	b.r.Info().Msg("stopping Kafka backend")
	b.t.Kill(nil)
	return b.t.Wait()
}

// InsertFlows queues one message per record to the producer. It only
// fails when the producer input queue cannot accept the messages
// before the context expires.
func (b *Backend) InsertFlows(ctx context.Context, batch *decoder.FlowBatch) error {
	exporter := batch.Exporter.String()
	key := sarama.StringEncoder(exporter)
	for _, record := range batch.Records {
		payload, err := json.Marshal(message{
			Exporter:         exporter,
			Version:          uint16(batch.Version),
			TimeReceived:     batch.TimeReceived,
			SamplingInterval: batch.SamplingInterval,
			FlowRecord:       record,
		})
		if err != nil {
			return fmt.Errorf("cannot encode flow: %w", err)
		}
		select {
		case b.kafkaProducer.Input() <- &sarama.ProducerMessage{
			Topic: b.kafkaTopic,
			Key:   key,
			Value: sarama.ByteEncoder(payload),
		}:
			b.metrics.bytesSent.WithLabelValues(exporter).Add(float64(len(payload)))
			b.metrics.messagesSent.WithLabelValues(exporter).Inc()
		case <-ctx.Done():
			return ctx.Err()
		case <-b.t.Dying():
			return errStopped
		}
	}
	return nil
}
