/*
 * Copyright (c) 2024, Breakwater Networks Inc.
 * All rights reserved.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package server

import (
	"encoding/json"

	"github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common/errors"
)

const (
	SERVER_CONFIG_FILENAME           = "breakwaterd.config"
	HEARTBEAT_SWEEP_INTERVAL_SECONDS = 10
	MIN_SEND_CONTEXTS                = 10000
	LISTEN_BACKLOG                   = 10000
	EVENT_QUEUE_CAPACITY             = 256
	DEFAULT_LISTEN_PORT              = 7300
	DEFAULT_MAX_CONNECTIONS          = 10000
	DEFAULT_RECEIVE_BUFFER_SIZE      = 4096
	DEFAULT_IDLE_TIMEOUT_SECONDS     = 300
)

// Config specifies the configuration and behavior of a breakwater server.
type Config struct {

	// LogLevel specifies the log level. Valid values are:
	// panic, fatal, error, warn, info, debug
	LogLevel string

	// LogFilename specifies the path of the file to log
	// to. When blank, logs are written to stderr.
	LogFilename string

	// MaxConnections is the maximum number of concurrently
	// accepted connections. It sets the admission semaphore
	// capacity and the receive context pool size, and with
	// ReceiveBufferSize determines the receive slab size.
	// MaxConnections is required and must be greater than 0.
	MaxConnections int

	// ReceiveBufferSize is the size in bytes of each receive
	// buffer window. Inbound data arrives in chunks of at most
	// this size. ReceiveBufferSize is required and must be
	// greater than 0.
	ReceiveBufferSize int

	// IdleTimeoutSeconds is the idle duration after which a
	// connection with no received traffic is torn down by the
	// heartbeat reaper. When 0, the reaper is disabled and idle
	// connections persist indefinitely. When set, the value must
	// be at least the sweep interval, 10 seconds.
	IdleTimeoutSeconds int

	// ListenPort is the TCP port the server listens on. The
	// value is passed to Server.Start by the host program;
	// the engine itself binds whatever port Start receives.
	ListenPort int

	// AcceptRateLimitQuantity specifies the maximum number of
	// accepts permitted from each source IP address within
	// AcceptRateLimitIntervalMilliseconds. Both values must be
	// set to enable rate limiting; 0 disables it.
	AcceptRateLimitQuantity int

	// AcceptRateLimitIntervalMilliseconds is the time window for
	// AcceptRateLimitQuantity.
	AcceptRateLimitIntervalMilliseconds int

	// LoadLogPeriodSeconds specifies how frequently to log a
	// server_load metric summarizing connection and pool state.
	// When 0, load logging is disabled.
	LoadLogPeriodSeconds int
}

// sendPoolSize returns the number of send contexts to pre-allocate. Sends
// are bursty and not 1:1 with connections, so the send pool is sized
// independently of the receive pool, with a generous floor.
func (config *Config) sendPoolSize() int {
	size := config.MaxConnections * 3 / 2
	if size < MIN_SEND_CONTEXTS {
		size = MIN_SEND_CONTEXTS
	}
	return size
}

// idleEvictionThreshold returns the number of heartbeat sweeps a connection
// may remain idle before eviction, or 0 when the reaper is disabled.
func (config *Config) idleEvictionThreshold() int64 {
	return int64(config.IdleTimeoutSeconds / HEARTBEAT_SWEEP_INTERVAL_SECONDS)
}

// LoadConfig loads and validates a JSON encoded server config.
func LoadConfig(configJSON []byte) (*Config, error) {

	var config Config
	err := json.Unmarshal(configJSON, &config)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	if config.MaxConnections <= 0 {
		return nil, errors.TraceNew("MaxConnections is required and must be greater than 0")
	}

	if config.ReceiveBufferSize <= 0 {
		return nil, errors.TraceNew("ReceiveBufferSize is required and must be greater than 0")
	}

	if config.IdleTimeoutSeconds < 0 {
		return nil, errors.TraceNew("IdleTimeoutSeconds must not be negative")
	}

	if config.IdleTimeoutSeconds > 0 &&
		config.IdleTimeoutSeconds < HEARTBEAT_SWEEP_INTERVAL_SECONDS {
		return nil, errors.Tracef(
			"IdleTimeoutSeconds must be 0 or at least %d",
			HEARTBEAT_SWEEP_INTERVAL_SECONDS)
	}

	if config.ListenPort < 0 || config.ListenPort > 65535 {
		return nil, errors.TraceNew("ListenPort is invalid")
	}

	if config.AcceptRateLimitQuantity < 0 ||
		config.AcceptRateLimitIntervalMilliseconds < 0 {
		return nil, errors.TraceNew("accept rate limit values must not be negative")
	}

	if (config.AcceptRateLimitQuantity > 0) !=
		(config.AcceptRateLimitIntervalMilliseconds > 0) {
		return nil, errors.TraceNew(
			"AcceptRateLimitQuantity and AcceptRateLimitIntervalMilliseconds must be set together")
	}

	if config.LoadLogPeriodSeconds < 0 {
		return nil, errors.TraceNew("LoadLogPeriodSeconds must not be negative")
	}

	return &config, nil
}

// GenerateConfigParams specifies customizations to be applied to a generated
// server config.
type GenerateConfigParams struct {
	ListenPort         int
	MaxConnections     int
	ReceiveBufferSize  int
	IdleTimeoutSeconds int
}

// GenerateConfig creates a new JSON encoded server config with the given
// parameters, applying defaults for unset values.
func GenerateConfig(params *GenerateConfigParams) ([]byte, error) {

	listenPort := params.ListenPort
	if listenPort == 0 {
		listenPort = DEFAULT_LISTEN_PORT
	}
	if listenPort < 0 || listenPort > 65535 {
		return nil, errors.TraceNew("invalid listen port")
	}

	maxConnections := params.MaxConnections
	if maxConnections == 0 {
		maxConnections = DEFAULT_MAX_CONNECTIONS
	}
	if maxConnections < 0 {
		return nil, errors.TraceNew("invalid max connections")
	}

	receiveBufferSize := params.ReceiveBufferSize
	if receiveBufferSize == 0 {
		receiveBufferSize = DEFAULT_RECEIVE_BUFFER_SIZE
	}
	if receiveBufferSize < 0 {
		return nil, errors.TraceNew("invalid receive buffer size")
	}

	idleTimeoutSeconds := params.IdleTimeoutSeconds
	if idleTimeoutSeconds == 0 {
		idleTimeoutSeconds = DEFAULT_IDLE_TIMEOUT_SECONDS
	}
	if idleTimeoutSeconds < 0 {
		idleTimeoutSeconds = 0
	}

	config := &Config{
		LogLevel:           "info",
		MaxConnections:     maxConnections,
		ReceiveBufferSize:  receiveBufferSize,
		IdleTimeoutSeconds: idleTimeoutSeconds,
		ListenPort:         listenPort,
	}

	encodedConfig, err := json.MarshalIndent(config, "\n", "    ")
	if err != nil {
		return nil, errors.Trace(err)
	}

	return encodedConfig, nil
}
