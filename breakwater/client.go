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

/*

Package breakwater implements the client-side peer of the breakwater
server engine: a single TCP connection with a connect/send/receive/close
lifecycle and no pooling. The wire contract is a raw byte stream with no
framing and no handshake beyond TCP connect; received bytes are delivered
to the application's Events callbacks as they arrive.

*/
package breakwater

import (
	std_errors "errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common"
)

// DEFAULT_RECEIVE_BUFFER_SIZE is the read chunk size used when DialConfig
// does not specify one.
const DEFAULT_RECEIVE_BUFFER_SIZE = 4096

// ErrNotConnected is returned by Send before a connection attempt has
// succeeded.
var ErrNotConnected = std_errors.New("not connected")

// ErrClosed is returned by Send after the connection has closed.
var ErrClosed = std_errors.New("connection closed")

// Events receives the connection's lifecycle and data events. All events
// are delivered from a single goroutine: OnAccept first, then each
// OnReceive in arrival order, then, for a successful connection, exactly
// one OnClose.
type Events interface {

	// OnAccept reports the outcome of the connection attempt. When
	// success is false no further events are delivered.
	OnAccept(success bool)

	// OnReceive is called with each chunk of received bytes. The chunk
	// is an owned copy; the handler may retain it.
	OnReceive(data []byte)

	// OnClose is called once when the connection has closed, whether by
	// the remote peer, a send or receive failure, or Close.
	OnClose()
}

// DialConfig customizes a Connect.
type DialConfig struct {

	// ConnectTimeout limits the duration of the connection attempt.
	// When 0, the attempt is not limited.
	ConnectTimeout time.Duration

	// ReceiveBufferSize is the size in bytes of the read buffer. When 0,
	// DEFAULT_RECEIVE_BUFFER_SIZE is used.
	ReceiveBufferSize int

	// Logger is an optional logger for connection lifecycle diagnostics.
	Logger common.Logger
}

// Conn is one client connection to a breakwater server.
type Conn struct {
	config *DialConfig
	events Events

	mutex    sync.Mutex
	isClosed bool
	socket   net.Conn
}

// Connect begins a connection attempt to the given host and TCP port and
// returns immediately. The attempt runs on its own goroutine and reports
// its outcome via events.OnAccept; on success, a receive loop follows
// delivering events.OnReceive and, eventually, one events.OnClose.
func Connect(host string, port int, config *DialConfig, events Events) *Conn {

	if config == nil {
		config = &DialConfig{}
	}

	conn := &Conn{
		config: config,
		events: events,
	}

	go conn.run(net.JoinHostPort(host, strconv.Itoa(port)))

	return conn
}

// run performs the connection attempt and, on success, the receive loop.
// It is the sole event delivery goroutine for the connection.
func (conn *Conn) run(addr string) {

	var socket net.Conn
	var err error

	if conn.config.ConnectTimeout > 0 {
		socket, err = net.DialTimeout("tcp", addr, conn.config.ConnectTimeout)
	} else {
		socket, err = net.Dial("tcp", addr)
	}

	if err != nil {
		if conn.config.Logger != nil {
			conn.config.Logger.WithTraceFields(
				common.LogFields{"error": err}).Warning("connect failed")
		}
		conn.Close()
		conn.events.OnAccept(false)
		return
	}

	conn.mutex.Lock()
	if conn.isClosed {
		// Close raced the connection attempt; treat as a failed connect.
		conn.mutex.Unlock()
		socket.Close()
		conn.events.OnAccept(false)
		return
	}
	conn.socket = socket
	conn.mutex.Unlock()

	conn.events.OnAccept(true)

	bufferSize := conn.config.ReceiveBufferSize
	if bufferSize <= 0 {
		bufferSize = DEFAULT_RECEIVE_BUFFER_SIZE
	}
	buffer := make([]byte, bufferSize)

	for {
		n, err := socket.Read(buffer)

		if n > 0 {
			data := make([]byte, n)
			copy(data, buffer[:n])
			conn.events.OnReceive(data)
		}

		if err != nil {
			break
		}
	}

	conn.Close()
	conn.events.OnClose()
}

// Send writes data to the connection, blocking until the write completes.
// A write failure closes the connection; the application observes it via
// OnClose.
func (conn *Conn) Send(data []byte) error {

	conn.mutex.Lock()
	socket := conn.socket
	isClosed := conn.isClosed
	conn.mutex.Unlock()

	if isClosed {
		return ErrClosed
	}
	if socket == nil {
		return ErrNotConnected
	}

	_, err := socket.Write(data)
	if err != nil {
		conn.Close()
		return ErrClosed
	}

	return nil
}

// Close closes the connection. Close is idempotent and safe to call at
// any point, including while a connection attempt is in progress. For a
// successfully connected Conn, OnClose is delivered after the receive
// loop observes the close.
func (conn *Conn) Close() {

	conn.mutex.Lock()
	defer conn.mutex.Unlock()

	if conn.isClosed {
		return
	}
	conn.isClosed = true

	if conn.socket != nil {
		conn.socket.Close()
	}
}

// IsClosed implements common.Closer.
func (conn *Conn) IsClosed() bool {

	conn.mutex.Lock()
	defer conn.mutex.Unlock()

	return conn.isClosed
}
