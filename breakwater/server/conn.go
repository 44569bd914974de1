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

package server

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common"
)

// serverConn is the live state of one accepted connection. The socket is
// exclusively owned and closed exactly once, at teardown. The receive
// context is bound for the connection's lifetime and returned to its pool
// at teardown.
type serverConn struct {
	// Note: 64-bit ints used with atomic operations are placed
	// at the start of struct to ensure 64-bit alignment.
	// (https://golang.org/pkg/sync/atomic/#pkg-note-BUG)
	idleTicks int64

	id             ConnID
	socket         net.Conn
	receiveContext *ioContext

	// events carries owned receive payloads to the connection's
	// dispatcher. The receive pipeline is the only sender and closes the
	// channel at teardown.
	events chan []byte

	// interrupted latches the teardown trigger; closeBroadcast is closed
	// once, within the latch, to unblock an enqueue in progress.
	interrupted    int32
	closeBroadcast chan struct{}

	attachedMutex sync.Mutex
	attachedSet   bool
	attached      interface{}
}

// touch resets the connection's idle tick count. Called whenever bytes
// are received.
func (conn *serverConn) touch() {
	atomic.StoreInt64(&conn.idleTicks, 0)
}

// expired indicates whether the connection's idle tick count has reached
// the eviction threshold.
func (conn *serverConn) expired(threshold int64) bool {
	return atomic.LoadInt64(&conn.idleTicks) >= threshold
}

// age advances the connection's idle tick count by one heartbeat sweep.
func (conn *serverConn) age() {
	atomic.AddInt64(&conn.idleTicks, 1)
}

// interrupt initiates teardown. It is idempotent and safe to call
// concurrently: remote EOF, a receive or send error, the heartbeat
// reaper, an explicit CloseConn, and server shutdown may all race to
// trigger it. The first call shuts down both socket directions and closes
// the socket, swallowing errors since the peer may already have
// terminated; the closed socket unblocks the receive pipeline, which
// completes the teardown exactly once.
func (conn *serverConn) interrupt() {

	if !atomic.CompareAndSwapInt32(&conn.interrupted, 0, 1) {
		return
	}

	if closeReader, ok := conn.socket.(common.CloseReader); ok {
		closeReader.CloseRead()
	}
	if closeWriter, ok := conn.socket.(common.CloseWriter); ok {
		closeWriter.CloseWrite()
	}
	conn.socket.Close()

	close(conn.closeBroadcast)
}

// runConnReceiver is the connection's receive pipeline. It loops reading
// into the connection's slab window, copies each chunk into an owned
// buffer sized to the transfer length, enqueues it for dispatch, and
// re-arms the next read immediately; the pipeline never waits on the
// application handler. A zero length read or read error is the normal
// remote close path and initiates teardown.
//
// runConnReceiver owns the teardown epilogue. Every teardown trigger
// closes the socket via interrupt, which unblocks the read here, so the
// epilogue runs exactly once per connection no matter which trigger, or
// how many, fired.
func (server *Server) runConnReceiver(conn *serverConn) {
	defer server.workers.Done()

	for {
		n, err := conn.socket.Read(conn.receiveContext.buffer)

		if n > 0 {

			// The slab window is reused by the next read, so dispatch
			// gets an owned copy.
			data := make([]byte, n)
			copy(data, conn.receiveContext.buffer[:n])

			conn.touch()

			select {
			case conn.events <- data:
			case <-conn.closeBroadcast:
				// Teardown raced a full event queue; the connection is
				// closing and this chunk is discarded.
			}
		}

		if err != nil {
			break
		}
	}

	conn.interrupt()

	// Teardown epilogue. The receive context is returned before the
	// admission permit so a subsequent accept always finds a pooled
	// context, and the registry entry is removed before the permit so
	// the registered count never exceeds the admission ceiling.
	server.receivePool.release(conn.receiveContext)
	server.connections.Delete(conn.id)
	server.admissionGate.Release(1)
	close(conn.events)
}

// runConnDispatcher delivers the connection's notifications in order:
// the accept notification, then each received chunk in socket read order,
// then, after the receive pipeline has torn down and drained, exactly one
// close notification. Handler latency never blocks the engine; a slow
// handler backpressures only this connection's event queue.
func (server *Server) runConnDispatcher(conn *serverConn) {
	defer server.workers.Done()

	server.handler.OnAccept(conn.id)

	for data := range conn.events {
		server.handler.OnReceive(conn.id, data)
	}

	server.handler.OnClose(conn.id)
}
