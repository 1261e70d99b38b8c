// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package sink

import (
	"time"

	"cnetflow/common/helpers"
	"cnetflow/inlet/sink/backend"
	"cnetflow/inlet/sink/backend/clickhouse"
	"cnetflow/inlet/sink/backend/kafka"
	"cnetflow/inlet/sink/backend/log"
	"cnetflow/inlet/sink/backend/nats"
	"cnetflow/inlet/sink/backend/sql"
)

// Configuration describes the configuration for the sink component.
type Configuration struct {
	// Backend is the persistence backend.
	Backend BackendConfiguration
	// Timeout is the maximum time for persisting one batch.
	Timeout time.Duration `validate:"min=10ms"`
	// Breaker configures the circuit breaker protecting the backend.
	Breaker BreakerConfiguration
}

// BreakerConfiguration configures the circuit breaker.
type BreakerConfiguration struct {
	// ErrorThreshold is the number of consecutive errors opening the
	// breaker.
	ErrorThreshold int `validate:"min=1"`
	// SuccessThreshold is the number of consecutive successes closing
	// an half-open breaker.
	SuccessThreshold int `validate:"min=1"`
	// Timeout is the time to wait before trying again once open.
	Timeout time.Duration `validate:"min=100ms"`
}

// DefaultConfiguration represents the default configuration for the sink component.
func DefaultConfiguration() Configuration {
	return Configuration{
		Backend: BackendConfiguration{
			Config: clickhouse.DefaultConfiguration(),
		},
		Timeout: 5 * time.Second,
		Breaker: BreakerConfiguration{
			ErrorThreshold:   10,
			SuccessThreshold: 1,
			Timeout:          10 * time.Second,
		},
	}
}

// BackendConfiguration represents the configuration for a backend.
type BackendConfiguration struct {
	// Config is the actual configuration of the backend.
	Config backend.Configuration
}

// MarshalYAML undoes ConfigurationUnmarshallerHook().
func (bc BackendConfiguration) MarshalYAML() (interface{}, error) {
	return helpers.ParametrizedConfigurationMarshalYAML(bc, backends)
}

var backends = map[string](func() backend.Configuration){
	"clickhouse": clickhouse.DefaultConfiguration,
	"sql":        sql.DefaultConfiguration,
	"kafka":      kafka.DefaultConfiguration,
	"nats":       nats.DefaultConfiguration,
	"log":        log.DefaultConfiguration,
}

func init() {
	helpers.RegisterMapstructureUnmarshallerHook(
		helpers.ParametrizedConfigurationUnmarshallerHook(BackendConfiguration{}, backends))
}
