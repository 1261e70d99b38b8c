// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package kafka contains the configuration shared by Kafka clients and
// helpers to build a Sarama configuration from it.
package kafka

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"

	"cnetflow/common/helpers"
)

// Configuration defines how we connect to a Kafka cluster.
type Configuration struct {
	// Topic defines the topic to write flows to.
	Topic string `validate:"required"`
	// Brokers is the list of brokers to connect to.
	Brokers []string `validate:"min=1,dive,listen"`
	// Version is the version of Kafka we assume to work
	Version Version
	// TLS defines TLS configuration
	TLS helpers.TLSConfiguration
	// SASL defines SASL configuration
	SASL SASLConfiguration
}

// SASLConfiguration defines SASL configuration.
type SASLConfiguration struct {
	// Username tells the SASL username
	Username string `validate:"required_with=Mechanism"`
	// Password tells the SASL password
	Password string `validate:"required_with=Mechanism"`
	// Mechanism tells the SASL algorithm
	Mechanism SASLMechanism `validate:"required_with=Username"`
	// OAuthTokenURL tells which URL to use to get an OAuthToken
	OAuthTokenURL string `validate:"required_if=Mechanism 4,excluded_unless=Mechanism 4,omitempty,url"`
}

// DefaultConfiguration represents the default configuration for connecting to Kafka.
func DefaultConfiguration() Configuration {
	return Configuration{
		Topic:   "flows",
		Brokers: []string{"127.0.0.1:9092"},
		Version: Version(sarama.V2_8_1_0),
	}
}

// Version represents a supported version of Kafka
type Version sarama.KafkaVersion

// UnmarshalText parses a version of Kafka
func (v *Version) UnmarshalText(text []byte) error {
	version, err := sarama.ParseKafkaVersion(string(text))
	if err != nil {
		return err
	}
	*v = Version(version)
	return nil
}

// String turns a Kafka version into a string
func (v Version) String() string {
	return sarama.KafkaVersion(v).String()
}

// MarshalText turns a Kafka version into a string
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// SASLMechanism defines an SASL algorithm
type SASLMechanism int

const (
	// SASLNone means no user authentication
	SASLNone SASLMechanism = iota
	// SASLPlain means user/password in plain text
	SASLPlain
	// SASLScramSHA256 enables SCRAM challenge with SHA256
	SASLScramSHA256
	// SASLScramSHA512 enables SCRAM challenge with SHA512
	SASLScramSHA512
	// SASLOauth enables OAuth authentication
	SASLOauth
)

var saslMechanisms = []string{"none", "plain", "scram-sha256", "scram-sha512", "oauth"}

// String turns a SASL mechanism into a string.
func (m SASLMechanism) String() string {
	if m >= 0 && int(m) < len(saslMechanisms) {
		return saslMechanisms[m]
	}
	return fmt.Sprintf("SASLMechanism(%d)", int(m))
}

// MarshalText turns a SASL mechanism into a string.
func (m SASLMechanism) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a SASL mechanism. Case is ignored and
// underscores are accepted in place of dashes.
func (m *SASLMechanism) UnmarshalText(text []byte) error {
	name := strings.ReplaceAll(strings.ToLower(string(text)), "_", "-")
	idx := slices.Index(saslMechanisms, name)
	if idx < 0 {
		return fmt.Errorf("unknown SASL mechanism %q", string(text))
	}
	*m = SASLMechanism(idx)
	return nil
}

func scramClientGenerator(hash scram.HashGeneratorFcn) func() sarama.SCRAMClient {
	return func() sarama.SCRAMClient {
		return &xdgSCRAMClient{HashGeneratorFcn: hash}
	}
}

// NewConfig returns a Sarama Kafka configuration ready to use.
func NewConfig(config Configuration) (*sarama.Config, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Version = sarama.KafkaVersion(config.Version)
	kafkaConfig.ClientID = fmt.Sprintf("cnetflow-%s", helpers.CnetflowVersion)
	tlsConfig, err := config.TLS.MakeTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("cannot setup TLS for Kafka: %w", err)
	}
	if tlsConfig != nil {
		kafkaConfig.Net.TLS.Enable = true
		kafkaConfig.Net.TLS.Config = tlsConfig
	}
	if config.SASL.Mechanism == SASLNone {
		return kafkaConfig, nil
	}
	sasl := &kafkaConfig.Net.SASL
	sasl.Enable = true
	sasl.User = config.SASL.Username
	sasl.Password = config.SASL.Password
	switch config.SASL.Mechanism {
	case SASLPlain:
		sasl.Mechanism = sarama.SASLTypePlaintext
	case SASLScramSHA256:
		sasl.Handshake = true
		sasl.Mechanism = sarama.SASLTypeSCRAMSHA256
		sasl.SCRAMClientGeneratorFunc = scramClientGenerator(scram.SHA256)
	case SASLScramSHA512:
		sasl.Handshake = true
		sasl.Mechanism = sarama.SASLTypeSCRAMSHA512
		sasl.SCRAMClientGeneratorFunc = scramClientGenerator(scram.SHA512)
	case SASLOauth:
		sasl.Mechanism = sarama.SASLTypeOAuth
		sasl.TokenProvider = newOAuthTokenProvider(context.Background(), tlsConfig,
			config.SASL.Username, config.SASL.Password, config.SASL.OAuthTokenURL)
	default:
		return nil, fmt.Errorf("unknown SASL mechanism: %s", config.SASL.Mechanism)
	}
	return kafkaConfig, nil
}
