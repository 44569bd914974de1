/*
 * Copyright (c) 2025, Breakwater Networks Inc.
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

/*

Package server implements a reusable asynchronous TCP server engine. The
engine accepts up to a configured maximum of concurrent client connections,
delivers received bytes to application callbacks without per-operation
buffer allocation, and reclaims idle connections with a periodic heartbeat
sweep.

The engine owns socket lifecycle, buffering, and backpressure; the
application supplies a Handler for accept, receive, and close events, and
pushes outbound bytes through Send. No framing, message boundary protocol,
or TLS is provided: the engine delivers raw byte chunks as they arrive off
each socket.

All receive buffering is backed by a single slab allocated at startup and
statically partitioned into per-connection windows, and all operation state
is held in fixed pools of reusable I/O contexts, so a running engine's
memory use is bounded by configuration, not load.

*/
package server

import (
	"context"
	std_errors "errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common"
	"github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common/errors"
	"github.com/marusama/semaphore"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sync/syncmap"
)

// ConnID uniquely identifies one accepted connection for its lifetime.
// Identifiers are assigned at accept time and never reused.
type ConnID uint64

// Handler receives the engine's connection events. Events for one
// connection are delivered in order by a single goroutine: OnAccept first,
// each OnReceive in socket read order, and finally exactly one OnClose,
// whatever triggered the teardown. Handlers for different connections run
// concurrently. A handler that blocks delays only its own connection's
// subsequent events.
type Handler interface {

	// OnAccept is called once when a connection is accepted and
	// registered.
	OnAccept(id ConnID)

	// OnReceive is called with each chunk of received bytes. The chunk is
	// an owned copy sized to the transfer length; the handler may retain
	// it.
	OnReceive(id ConnID, data []byte)

	// OnClose is called once when the connection has been torn down and
	// its resources released.
	OnClose(id ConnID)
}

// ErrSendBusy is returned by Send when the send context pool is
// momentarily exhausted. The condition is transient backpressure, not a
// connection failure; callers may retry.
var ErrSendBusy = std_errors.New("send context pool exhausted")

// Server is an asynchronous TCP server engine instance.
type Server struct {
	// Note: 64-bit ints used with atomic operations are placed
	// at the start of struct to ensure 64-bit alignment.
	// (https://golang.org/pkg/sync/atomic/#pkg-note-BUG)
	acceptedCount int64
	lastConnID    uint64

	config        *Config
	handler       Handler
	receivePool   *contextPool
	sendPool      *contextPool
	admissionGate semaphore.Semaphore
	rateLimiter   *acceptRateLimiter
	connections   syncmap.Map
	listener      net.Listener

	runContext   context.Context
	stopRunning  context.CancelFunc
	acceptWorker *sync.WaitGroup
	workers      *sync.WaitGroup
	stopOnce     sync.Once
}

// NewServer initializes a server with the given configuration and event
// handler. The receive slab and both context pools are fully allocated
// here; a running server performs no further buffer or context
// allocation for connection admission.
func NewServer(config *Config, handler Handler) (*Server, error) {

	if config == nil {
		return nil, errors.TraceNew("missing config")
	}
	if handler == nil {
		return nil, errors.TraceNew("missing handler")
	}
	if config.MaxConnections <= 0 || config.ReceiveBufferSize <= 0 {
		return nil, errors.TraceNew("invalid config")
	}

	slab := newReceiveSlab(config.ReceiveBufferSize, config.MaxConnections)

	runContext, stopRunning := context.WithCancel(context.Background())

	return &Server{
		config:        config,
		handler:       handler,
		receivePool:   newReceiveContextPool(slab, config.MaxConnections),
		sendPool:      newSendContextPool(config.sendPoolSize()),
		admissionGate: semaphore.New(config.MaxConnections),
		rateLimiter:   newAcceptRateLimiter(config),
		runContext:    runContext,
		stopRunning:   stopRunning,
		acceptWorker:  new(sync.WaitGroup),
		workers:       new(sync.WaitGroup),
	}, nil
}

// Start binds the listen socket on the given TCP port and launches the
// accept loop, the heartbeat reaper, and the load metrics logger. Start
// returns with the engine running. A server is started at most once and
// may not be restarted after Stop.
func (server *Server) Start(port int) error {

	listener, err := listenTCP(port)
	if err != nil {
		return errors.Trace(err)
	}
	server.listener = listener

	log.WithTraceFields(
		LogFields{
			"localAddr":      listener.Addr().String(),
			"maxConnections": server.config.MaxConnections,
		}).Info("starting")

	server.acceptWorker.Add(1)
	go server.runAcceptLoop()

	if server.config.IdleTimeoutSeconds > 0 {
		server.workers.Add(1)
		go server.runHeartbeatReaper()
	}

	if server.config.LoadLogPeriodSeconds > 0 {
		server.workers.Add(1)
		go server.runLoadLogger()
	}

	return nil
}

// Stop halts a running server: the listener closes, every registered
// connection is torn down with its close notification dispatched, and all
// workers are joined before Stop returns. Stop is idempotent.
func (server *Server) Stop() {

	server.stopOnce.Do(func() {

		log.WithTrace().Info("stopping")

		server.stopRunning()

		if server.listener != nil {
			server.listener.Close()
		}

		// Join the accept loop first: after this point no further
		// connections are registered, so the following sweep is complete.
		server.acceptWorker.Wait()

		server.connections.Range(func(_, value interface{}) bool {
			value.(*serverConn).interrupt()
			return true
		})

		server.workers.Wait()

		log.WithTrace().Info("stopped")
	})
}

// Addr returns the listener's network address, or nil before Start. When
// Start is given port 0, Addr reports the assigned ephemeral port.
func (server *Server) Addr() net.Addr {
	if server.listener == nil {
		return nil
	}
	return server.listener.Addr()
}

// runAcceptLoop acquires an admission permit, accepts one connection,
// registers it, and repeats until shutdown. Acquiring before accepting is
// the engine's backpressure mechanism: at capacity no accept is posted,
// so excess connection attempts queue at the OS listen backlog and are
// refused beyond it.
func (server *Server) runAcceptLoop() {
	defer server.acceptWorker.Done()

	for {
		err := server.admissionGate.Acquire(server.runContext, 1)
		if err != nil {
			// Shutdown signaled while waiting for a permit.
			return
		}

		socket, err := server.listener.Accept()

		select {
		case <-server.runContext.Done():
			if err == nil {
				socket.Close()
			}
			server.admissionGate.Release(1)
			return
		default:
		}

		if err != nil {
			server.admissionGate.Release(1)
			if e, ok := err.(net.Error); ok && e.Temporary() {
				log.WithTraceFields(LogFields{"error": err}).Error("accept failed")
				// Temporary error, keep running
				continue
			}
			log.WithTraceFields(LogFields{"error": err}).Error("listener failed")
			return
		}

		peerIP := common.IPAddressFromAddr(socket.RemoteAddr())

		if !server.rateLimiter.allow(peerIP) {
			log.WithTraceFields(
				LogFields{
					"peerIP":   peerIP,
					"peerPort": common.PortFromAddr(socket.RemoteAddr()),
				}).Debug("accept rate exceeded")
			socket.Close()
			server.admissionGate.Release(1)
			continue
		}

		server.registerConn(socket)
	}
}

// registerConn creates and registers connection state for a newly
// accepted socket, binds a pooled receive context, and launches the
// connection's dispatcher and receive pipeline. The caller holds the
// connection's admission permit; ownership passes to the receive
// pipeline, which releases it at teardown.
func (server *Server) registerConn(socket net.Conn) {

	receiveContext := server.receivePool.checkout()
	if receiveContext == nil {
		// The pool holds one receive context per admission permit, so a
		// nil checkout while holding a permit is an accounting violation.
		panic("server: no receive context for admitted connection")
	}
	receiveContext.boundSocket = socket

	conn := &serverConn{
		id:             ConnID(atomic.AddUint64(&server.lastConnID, 1)),
		socket:         socket,
		receiveContext: receiveContext,
		events:         make(chan []byte, EVENT_QUEUE_CAPACITY),
		closeBroadcast: make(chan struct{}),
	}

	server.connections.Store(conn.id, conn)
	atomic.AddInt64(&server.acceptedCount, 1)

	server.workers.Add(1)
	go server.runConnDispatcher(conn)

	server.workers.Add(1)
	go server.runConnReceiver(conn)
}

// Send writes data to the identified connection. A byte range within a
// larger buffer is expressed by slicing data; the payload is copied
// before Send returns, so the caller may immediately reuse its buffer.
// Sends to an unknown or already closed connection are silently dropped,
// returning nil, since teardown may race the send request. Send returns
// ErrSendBusy when the send context pool is momentarily exhausted.
//
// Concurrent sends to one connection take independent contexts and may
// interleave on the wire; callers requiring strict ordering must
// serialize their own sends.
func (server *Server) Send(id ConnID, data []byte) error {

	value, ok := server.connections.Load(id)
	if !ok {
		return nil
	}
	conn := value.(*serverConn)

	sendContext := server.sendPool.checkout()
	if sendContext == nil {
		return ErrSendBusy
	}

	sendContext.boundSocket = conn.socket
	sendContext.payload = bytebufferpool.Get()
	sendContext.payload.Write(data)

	go server.completeSend(conn, sendContext)

	return nil
}

// completeSend performs the blocking write for one send operation and
// returns the context and its payload buffer to their pools. A write
// error tears down the connection.
//
// Send completions are not tracked by the worker group: a completion in
// flight at Stop is unblocked by the connection teardown's socket close
// and terminates on its own, touching only the pools.
func (server *Server) completeSend(conn *serverConn, sendContext *ioContext) {

	_, err := sendContext.boundSocket.Write(sendContext.payload.B)

	bytebufferpool.Put(sendContext.payload)
	sendContext.payload = nil
	server.sendPool.release(sendContext)

	if err != nil {
		conn.interrupt()
	}
}

// CloseConn initiates teardown of the identified connection. Unknown
// identifiers are ignored. Teardown completes asynchronously; the close
// notification is dispatched when it does.
func (server *Server) CloseConn(id ConnID) {

	value, ok := server.connections.Load(id)
	if !ok {
		return
	}
	value.(*serverConn).interrupt()
}

// SetAttached associates an opaque application value with the identified
// connection, replacing any previous value. SetAttached returns false
// when the identifier is unknown or already closed.
func (server *Server) SetAttached(id ConnID, value interface{}) bool {

	mapValue, ok := server.connections.Load(id)
	if !ok {
		return false
	}
	conn := mapValue.(*serverConn)

	conn.attachedMutex.Lock()
	defer conn.attachedMutex.Unlock()
	conn.attachedSet = true
	conn.attached = value

	return true
}

// GetAttached returns the opaque application value associated with the
// identified connection. The second return value is false when no value
// has been set or the identifier is unknown.
func (server *Server) GetAttached(id ConnID) (interface{}, bool) {

	mapValue, ok := server.connections.Load(id)
	if !ok {
		return nil, false
	}
	conn := mapValue.(*serverConn)

	conn.attachedMutex.Lock()
	defer conn.attachedMutex.Unlock()
	if !conn.attachedSet {
		return nil, false
	}

	return conn.attached, true
}

// runHeartbeatReaper periodically sweeps the connection registry. Each
// sweep evicts every connection whose idle tick count has reached the
// eviction threshold and ages the rest by one tick. The sweep holds no
// lock across the ticker wait.
func (server *Server) runHeartbeatReaper() {
	defer server.workers.Done()

	threshold := server.config.idleEvictionThreshold()

	ticker := time.NewTicker(HEARTBEAT_SWEEP_INTERVAL_SECONDS * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:

			evicted := 0
			server.connections.Range(func(_, value interface{}) bool {
				conn := value.(*serverConn)
				if conn.expired(threshold) {
					conn.interrupt()
					evicted++
				} else {
					conn.age()
				}
				return true
			})

			if evicted > 0 {
				log.WithTraceFields(
					LogFields{"evicted": evicted}).Info("idle connections evicted")
			}

		case <-server.runContext.Done():
			return
		}
	}
}

// runLoadLogger periodically emits a server_load metric.
func (server *Server) runLoadLogger() {
	defer server.workers.Done()

	period := time.Duration(server.config.LoadLogPeriodSeconds) * time.Second

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.LogMetric("server_load", LogFields(server.GetMetrics()))
		case <-server.runContext.Done():
			return
		}
	}
}

// GetMetrics implements common.MetricsSource, reporting connection and
// pool occupancy.
func (server *Server) GetMetrics() common.LogFields {

	connectedCount := 0
	server.connections.Range(func(_, _ interface{}) bool {
		connectedCount++
		return true
	})

	return common.LogFields{
		"accepted_total":        atomic.LoadInt64(&server.acceptedCount),
		"connected_count":       connectedCount,
		"available_permits":     server.admissionGate.GetLimit() - server.admissionGate.GetCount(),
		"free_receive_contexts": server.receivePool.available(),
		"free_send_contexts":    server.sendPool.available(),
	}
}
