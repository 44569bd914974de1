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
	"fmt"
	"net"

	"github.com/valyala/bytebufferpool"
)

// ioContextKind distinguishes the pooled operation slot types.
type ioContextKind int

const (
	receiveContext ioContextKind = iota
	sendContext
)

func (kind ioContextKind) String() string {
	switch kind {
	case receiveContext:
		return "receive"
	case sendContext:
		return "send"
	}
	return fmt.Sprintf("unknown(%d)", int(kind))
}

// ioContext is a reusable operation slot. A context is either checked out,
// owned by exactly one in-flight operation, or in its pool; the pool is the
// sole arbiter of that transition. Receive contexts carry a window of the
// receive slab, assigned at creation and never reassigned; only the bound
// socket changes between uses. Send contexts carry a pooled payload buffer
// only while a send is in flight.
type ioContext struct {
	kind        ioContextKind
	boundSocket net.Conn
	buffer      []byte
	payload     *bytebufferpool.ByteBuffer
}

// contextPool is a fixed-size pool of reusable I/O contexts of a single
// kind. checkout and release may be called concurrently from any number of
// goroutines; the same context is never issued twice.
type contextPool struct {
	kind     ioContextKind
	contexts chan *ioContext
}

// newReceiveContextPool creates a pool of count receive contexts, each
// permanently bound to its own window of the given slab. The slab must
// have at least count unallocated windows.
func newReceiveContextPool(slab *receiveSlab, count int) *contextPool {

	pool := &contextPool{
		kind:     receiveContext,
		contexts: make(chan *ioContext, count),
	}

	for i := 0; i < count; i++ {
		pool.contexts <- &ioContext{
			kind:   receiveContext,
			buffer: slab.allocateWindow(),
		}
	}

	return pool
}

// newSendContextPool creates a pool of count send contexts. Send contexts
// carry no receive window; payload buffers are attached per send.
func newSendContextPool(count int) *contextPool {

	pool := &contextPool{
		kind:     sendContext,
		contexts: make(chan *ioContext, count),
	}

	for i := 0; i < count; i++ {
		pool.contexts <- &ioContext{
			kind: sendContext,
		}
	}

	return pool
}

// checkout removes and returns a context, or returns nil when the pool is
// exhausted. checkout does not block. An exhausted send pool is transient
// backpressure, not a failure; callers retry. Call release to return the
// context to the pool.
func (pool *contextPool) checkout() *ioContext {
	select {
	case context := <-pool.contexts:
		return context
	default:
		return nil
	}
}

// release resets a context's bound socket and returns it to the pool for
// reuse. The context must have been obtained from checkout. Releasing a
// context of the wrong kind is a completion dispatch contract violation
// and panics.
func (pool *contextPool) release(context *ioContext) {
	if context.kind != pool.kind {
		panic(fmt.Sprintf(
			"contextPool: released %s context into %s pool",
			context.kind, pool.kind))
	}
	context.boundSocket = nil
	pool.contexts <- context
}

// available returns the number of contexts currently in the pool.
func (pool *contextPool) available() int {
	return len(pool.contexts)
}
