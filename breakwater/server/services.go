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
	"os"
	"os/signal"
	"syscall"

	"github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common"
	"github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common/errors"
)

// NewHandlerFunc constructs the application's event handler for a server.
// The server is fully constructed but not yet started when the function is
// called, so the handler may retain the server for Send, CloseConn, and
// attached data calls.
type NewHandlerFunc func(server *Server) Handler

// handlerProxy resolves the construction cycle between a Server, which
// requires its Handler up front, and handlers that require the Server. The
// proxy's target is set before Start, which precedes all event dispatch.
type handlerProxy struct {
	handler Handler
}

func (proxy *handlerProxy) OnAccept(id ConnID) {
	proxy.handler.OnAccept(id)
}

func (proxy *handlerProxy) OnReceive(id ConnID, data []byte) {
	proxy.handler.OnReceive(id, data)
}

func (proxy *handlerProxy) OnClose(id ConnID) {
	proxy.handler.OnClose(id)
}

// RunServices initializes logging, starts a server with the given
// configuration and handler, and runs it until an os.Interrupt or SIGTERM
// signal is received, then performs an orderly shutdown.
func RunServices(configJSON []byte, newHandler NewHandlerFunc) error {

	config, err := LoadConfig(configJSON)
	if err != nil {
		log.WithTraceFields(LogFields{"error": err}).Error("load config failed")
		return errors.Trace(err)
	}

	err = InitLogging(config)
	if err != nil {
		log.WithTraceFields(LogFields{"error": err}).Error("init logging failed")
		return errors.Trace(err)
	}

	proxy := &handlerProxy{}

	server, err := NewServer(config, proxy)
	if err != nil {
		log.WithTraceFields(LogFields{"error": err}).Error("init server failed")
		return errors.Trace(err)
	}

	proxy.handler = newHandler(server)
	if proxy.handler == nil {
		return errors.TraceNew("missing handler")
	}

	log.WithTraceFields(LogFields(common.GetBuildInfo().ToMap())).Info("startup")

	err = server.Start(config.ListenPort)
	if err != nil {
		log.WithTraceFields(LogFields{"error": err}).Error("start server failed")
		return errors.Trace(err)
	}

	// An OS signal triggers an orderly shutdown
	systemStopSignal := make(chan os.Signal, 1)
	signal.Notify(systemStopSignal, os.Interrupt, os.Kill, syscall.SIGTERM)

	// On platforms with user signals, SIGUSR2 triggers an immediate load log
	logServerLoadSignal := make(chan os.Signal, 1)
	notifyLoadLogSignal(logServerLoadSignal)

loop:
	for {
		select {
		case <-logServerLoadSignal:
			log.LogMetric("server_load", LogFields(server.GetMetrics()))

		case <-systemStopSignal:
			log.WithTrace().Info("shutdown by system")
			break loop
		}
	}

	server.Stop()

	return nil
}
