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
	"fmt"
	"io"
	go_log "log"
	"os"
	"time"

	"github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common"
	"github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common/errors"
	"github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common/stacktrace"
	"github.com/sirupsen/logrus"
)

// ContextLogger adds context logging functionality to the underlying
// logging package.
type ContextLogger struct {
	*logrus.Logger
}

// LogFields is an alias for the field collection type in the underlying
// logging package.
type LogFields logrus.Fields

// WithTrace adds a "trace" field containing the caller's function name and
// source file line number. Use this function when the log has no fields.
func (logger *ContextLogger) WithTrace() *logrus.Entry {
	return logger.WithFields(
		logrus.Fields{
			"trace": stacktrace.GetParentFunctionName(),
		})
}

// WithTraceFields adds a "trace" field containing the caller's function
// name and source file line number. Use this function when the log has
// fields. Note that any existing "trace" field will be renamed to
// "fields.trace".
func (logger *ContextLogger) WithTraceFields(fields LogFields) *logrus.Entry {
	_, ok := fields["trace"]
	if ok {
		fields["fields.trace"] = fields["trace"]
	}
	fields["trace"] = stacktrace.GetParentFunctionName()
	return logger.WithFields(logrus.Fields(fields))
}

// LogMetric emits a metric record with the given event name and fields.
// Metric records omit the stock "msg" and "level" fields.
func (logger *ContextLogger) LogMetric(metric string, fields LogFields) {
	_, ok := fields["event_name"]
	if ok {
		fields["fields.event_name"] = fields["event_name"]
	}
	fields["event_name"] = metric
	logger.LogRawFieldsWithTimestamp(fields)
}

// LogRawFieldsWithTimestamp directly logs the supplied fields adding only
// an additional "timestamp" field. The stock "msg" and "level" fields are
// omitted, so metric records are never filtered by the configured log
// level.
func (logger *ContextLogger) LogRawFieldsWithTimestamp(fields LogFields) {
	logger.WithFields(logrus.Fields(fields)).Error(
		customJSONFormatterLogRawFieldsWithTimestamp)
}

// CommonLogger wraps a ContextLogger with an interface that conforms to
// common.Logger, allowing the wrapped logger to be passed to packages
// that do not import this one.
func CommonLogger(contextLogger *ContextLogger) common.Logger {
	return &commonLogger{contextLogger}
}

type commonLogger struct {
	contextLogger *ContextLogger
}

func (logger *commonLogger) WithTrace() common.LogTrace {
	return logger.contextLogger.WithTrace()
}

func (logger *commonLogger) WithTraceFields(fields common.LogFields) common.LogTrace {
	return logger.contextLogger.WithTraceFields(LogFields(fields))
}

func (logger *commonLogger) LogMetric(metric string, fields common.LogFields) {
	logger.contextLogger.LogMetric(metric, LogFields(fields))
}

// CustomJSONFormatter is a customized version of logrus.JSONFormatter.
type CustomJSONFormatter struct {
}

const customJSONFormatterLogRawFieldsWithTimestamp = "CustomJSONFormatter.LogRawFieldsWithTimestamp"

// Format implements logrus.Formatter. This is a customized version of the
// standard logrus.JSONFormatter.
//
// The changes are:
// - "time" is renamed to "timestamp"
// - there's an option to omit the standard "msg" and "level" fields
//
func (f *CustomJSONFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	data := make(logrus.Fields, len(entry.Data)+3)
	for k, v := range entry.Data {
		switch v := v.(type) {
		case error:
			// Otherwise errors are ignored by `encoding/json`
			data[k] = v.Error()
		default:
			data[k] = v
		}
	}

	if t, ok := data["timestamp"]; ok {
		data["fields.timestamp"] = t
	}

	data["timestamp"] = entry.Time.Format(time.RFC3339)

	if entry.Message != customJSONFormatterLogRawFieldsWithTimestamp {

		if m, ok := data["msg"]; ok {
			data["fields.msg"] = m
		}

		if l, ok := data["level"]; ok {
			data["fields.level"] = l
		}

		data["msg"] = entry.Message
		data["level"] = entry.Level.String()
	}

	serialized, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields to JSON, %v", err)
	}

	return append(serialized, '\n'), nil
}

var log *ContextLogger

// InitLogging configures a logger according to the specified config params.
// If not called, the default logger set by the package init() is used.
// Concurrency note: should only be called from the main goroutine.
func InitLogging(config *Config) error {

	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		return errors.Trace(err)
	}

	logWriter := os.Stderr

	if config.LogFilename != "" {
		logWriter, err = os.OpenFile(
			config.LogFilename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
		if err != nil {
			return errors.Trace(err)
		}
	}

	log = &ContextLogger{
		&logrus.Logger{
			Out:       logWriter,
			Formatter: &CustomJSONFormatter{},
			Hooks:     make(logrus.LevelHooks),
			Level:     level,
		},
	}

	return nil
}

func init() {

	// Suppress standard "log" package logging performed by other packages.
	// For example, "net" logs messages that would otherwise bypass the
	// configured JSON log stream.
	go_log.SetOutput(io.Discard)

	log = &ContextLogger{
		&logrus.Logger{
			Out:       os.Stderr,
			Formatter: &CustomJSONFormatter{},
			Hooks:     make(logrus.LevelHooks),
			Level:     logrus.DebugLevel,
		},
	}
}
