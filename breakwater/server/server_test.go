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
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common"
)

func TestMain(m *testing.M) {

	err := InitLogging(&Config{LogLevel: "error"})
	if err != nil {
		fmt.Printf("error initializing logging: %s\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

const testEventTimeout = 5 * time.Second

type receivedEvent struct {
	id   ConnID
	data []byte
}

// testHandler records engine events on buffered channels so tests can
// assert on event order and content without blocking dispatch.
type testHandler struct {
	accepted chan ConnID
	received chan receivedEvent
	closed   chan ConnID
}

func newTestHandler() *testHandler {
	return &testHandler{
		accepted: make(chan ConnID, 64),
		received: make(chan receivedEvent, 1024),
		closed:   make(chan ConnID, 64),
	}
}

func (handler *testHandler) OnAccept(id ConnID) {
	handler.accepted <- id
}

func (handler *testHandler) OnReceive(id ConnID, data []byte) {
	handler.received <- receivedEvent{id: id, data: data}
}

func (handler *testHandler) OnClose(id ConnID) {
	handler.closed <- id
}

func (handler *testHandler) waitAccepted(t *testing.T) ConnID {
	select {
	case id := <-handler.accepted:
		return id
	case <-time.After(testEventTimeout):
		t.Fatalf("timeout waiting for OnAccept")
	}
	return 0
}

func (handler *testHandler) waitClosed(t *testing.T) ConnID {
	select {
	case id := <-handler.closed:
		return id
	case <-time.After(testEventTimeout):
		t.Fatalf("timeout waiting for OnClose")
	}
	return 0
}

func (handler *testHandler) expectNoAccept(t *testing.T, duration time.Duration) {
	select {
	case id := <-handler.accepted:
		t.Fatalf("unexpected OnAccept: %d", id)
	case <-time.After(duration):
	}
}

// waitReceived drains OnReceive events for the given connection until
// size bytes have accumulated, returning the concatenated stream.
func (handler *testHandler) waitReceived(t *testing.T, id ConnID, size int) []byte {
	data := make([]byte, 0, size)
	for len(data) < size {
		select {
		case event := <-handler.received:
			if event.id != id {
				t.Fatalf("unexpected OnReceive connection: %d", event.id)
			}
			data = append(data, event.data...)
		case <-time.After(testEventTimeout):
			t.Fatalf("timeout waiting for OnReceive: %d/%d bytes", len(data), size)
		}
	}
	return data
}

func waitUntil(t *testing.T, description string, condition func() bool) {
	deadline := time.Now().Add(testEventTimeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", description)
}

func startTestServer(
	t *testing.T, config *Config, handler Handler) (*Server, int) {

	server, err := NewServer(config, handler)
	if err != nil {
		t.Fatalf("NewServer failed: %s", err)
	}

	err = server.Start(0)
	if err != nil {
		t.Fatalf("Start failed: %s", err)
	}

	return server, common.PortFromAddr(server.Addr())
}

func dialTestServer(t *testing.T, port int) net.Conn {
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("net.Dial failed: %s", err)
	}
	return conn
}

func makeTestPayload(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = seed + byte(i%101)
	}
	return data
}

func TestNewServerValidation(t *testing.T) {

	handler := newTestHandler()
	config := &Config{MaxConnections: 1, ReceiveBufferSize: 1}

	_, err := NewServer(nil, handler)
	if err == nil {
		t.Fatalf("unexpected success with nil config")
	}

	_, err = NewServer(config, nil)
	if err == nil {
		t.Fatalf("unexpected success with nil handler")
	}

	_, err = NewServer(&Config{MaxConnections: 0, ReceiveBufferSize: 1}, handler)
	if err == nil {
		t.Fatalf("unexpected success with zero MaxConnections")
	}

	_, err = NewServer(&Config{MaxConnections: 1, ReceiveBufferSize: 0}, handler)
	if err == nil {
		t.Fatalf("unexpected success with zero ReceiveBufferSize")
	}
}

func TestServerReceiveAndSend(t *testing.T) {

	handler := newTestHandler()

	server, port := startTestServer(
		t,
		&Config{MaxConnections: 10, ReceiveBufferSize: 64},
		handler)
	defer server.Stop()

	client := dialTestServer(t, port)
	defer client.Close()

	id := handler.waitAccepted(t)

	// Sizes below, at, and above the receive window size; the stream is
	// delivered in order across however many chunks the transport
	// produces.
	payloads := [][]byte{
		makeTestPayload(10, 0),
		makeTestPayload(64, 1),
		makeTestPayload(200, 2),
	}

	sent := []byte{}
	for _, payload := range payloads {
		_, err := client.Write(payload)
		if err != nil {
			t.Fatalf("client write failed: %s", err)
		}
		sent = append(sent, payload...)
	}

	received := handler.waitReceived(t, id, len(sent))
	if !bytes.Equal(sent, received) {
		t.Fatalf("received data mismatch")
	}

	// Outbound: a byte range within a larger buffer is sent by slicing.
	outbound := makeTestPayload(300, 3)
	err := server.Send(id, outbound[100:200])
	if err != nil {
		t.Fatalf("Send failed: %s", err)
	}

	echo := make([]byte, 100)
	client.SetReadDeadline(time.Now().Add(testEventTimeout))
	n, err := readFull(client, echo)
	if err != nil {
		t.Fatalf("client read failed: %s", err)
	}
	if !bytes.Equal(outbound[100:200], echo[:n]) {
		t.Fatalf("sent data mismatch")
	}

	client.Close()
	closedID := handler.waitClosed(t)
	if closedID != id {
		t.Fatalf("unexpected OnClose connection: %d", closedID)
	}
}

func readFull(conn net.Conn, buffer []byte) (int, error) {
	n := 0
	for n < len(buffer) {
		m, err := conn.Read(buffer[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func TestServerAdmissionCapacity(t *testing.T) {

	handler := newTestHandler()

	server, port := startTestServer(
		t,
		&Config{MaxConnections: 2, ReceiveBufferSize: 64},
		handler)
	defer server.Stop()

	client1 := dialTestServer(t, port)
	defer client1.Close()
	id1 := handler.waitAccepted(t)

	client2 := dialTestServer(t, port)
	defer client2.Close()
	handler.waitAccepted(t)

	metrics := server.GetMetrics()
	if metrics["available_permits"] != 0 {
		t.Fatalf("unexpected available_permits: %v", metrics["available_permits"])
	}
	if metrics["free_receive_contexts"] != 0 {
		t.Fatalf("unexpected free_receive_contexts: %v", metrics["free_receive_contexts"])
	}

	// At capacity: the TCP handshake completes against the listen
	// backlog, but no accept is posted and no admission occurs.
	client3 := dialTestServer(t, port)
	defer client3.Close()
	handler.expectNoAccept(t, 300*time.Millisecond)

	// Closing an admitted connection releases its permit, admitting the
	// waiting connection.
	client1.Close()
	closedID := handler.waitClosed(t)
	if closedID != id1 {
		t.Fatalf("unexpected OnClose connection: %d", closedID)
	}

	handler.waitAccepted(t)

	metrics = server.GetMetrics()
	if metrics["accepted_total"] != int64(3) {
		t.Fatalf("unexpected accepted_total: %v", metrics["accepted_total"])
	}
	if metrics["connected_count"] != 2 {
		t.Fatalf("unexpected connected_count: %v", metrics["connected_count"])
	}
}

func TestServerCloseConn(t *testing.T) {

	handler := newTestHandler()

	server, port := startTestServer(
		t,
		&Config{MaxConnections: 2, ReceiveBufferSize: 64},
		handler)
	defer server.Stop()

	client := dialTestServer(t, port)
	defer client.Close()

	id := handler.waitAccepted(t)

	server.CloseConn(id)

	closedID := handler.waitClosed(t)
	if closedID != id {
		t.Fatalf("unexpected OnClose connection: %d", closedID)
	}

	// The client observes the close as a remote termination.
	client.SetReadDeadline(time.Now().Add(testEventTimeout))
	buffer := make([]byte, 1)
	_, err := client.Read(buffer)
	if err == nil {
		t.Fatalf("unexpected client read success")
	}

	// Closing again, or closing an unknown connection, is a no-op.
	server.CloseConn(id)
	server.CloseConn(ConnID(99999))

	select {
	case id := <-handler.closed:
		t.Fatalf("unexpected second OnClose: %d", id)
	case <-time.After(100 * time.Millisecond):
	}

	// Teardown restored the permit and receive context.
	metrics := server.GetMetrics()
	if metrics["connected_count"] != 0 {
		t.Fatalf("unexpected connected_count: %v", metrics["connected_count"])
	}
	if metrics["available_permits"] != 2 {
		t.Fatalf("unexpected available_permits: %v", metrics["available_permits"])
	}
	if metrics["free_receive_contexts"] != 2 {
		t.Fatalf("unexpected free_receive_contexts: %v", metrics["free_receive_contexts"])
	}
}

func TestServerSendUnknownConn(t *testing.T) {

	handler := newTestHandler()

	server, _ := startTestServer(
		t,
		&Config{MaxConnections: 1, ReceiveBufferSize: 64},
		handler)
	defer server.Stop()

	// Sends to unknown connections are silently dropped, as teardown may
	// race a send request.
	err := server.Send(ConnID(99999), []byte("data"))
	if err != nil {
		t.Fatalf("unexpected Send error: %s", err)
	}
}

func TestServerAttachedData(t *testing.T) {

	handler := newTestHandler()

	server, port := startTestServer(
		t,
		&Config{MaxConnections: 1, ReceiveBufferSize: 64},
		handler)
	defer server.Stop()

	client := dialTestServer(t, port)
	defer client.Close()

	id := handler.waitAccepted(t)

	_, ok := server.GetAttached(id)
	if ok {
		t.Fatalf("unexpected attached value before SetAttached")
	}

	type session struct {
		name string
	}

	if !server.SetAttached(id, &session{name: "alpha"}) {
		t.Fatalf("SetAttached failed")
	}

	value, ok := server.GetAttached(id)
	if !ok || value.(*session).name != "alpha" {
		t.Fatalf("unexpected attached value")
	}

	// Replacing is permitted, including with nil.
	if !server.SetAttached(id, nil) {
		t.Fatalf("SetAttached failed")
	}
	value, ok = server.GetAttached(id)
	if !ok || value != nil {
		t.Fatalf("unexpected attached value after replace")
	}

	if server.SetAttached(ConnID(99999), "x") {
		t.Fatalf("unexpected SetAttached success for unknown connection")
	}

	client.Close()
	handler.waitClosed(t)

	_, ok = server.GetAttached(id)
	if ok {
		t.Fatalf("unexpected attached value after close")
	}
}

func TestServerPerConnectionOrdering(t *testing.T) {

	handler := newTestHandler()

	server, port := startTestServer(
		t,
		&Config{MaxConnections: 1, ReceiveBufferSize: 32},
		handler)
	defer server.Stop()

	client := dialTestServer(t, port)
	defer client.Close()

	id := handler.waitAccepted(t)

	// A burst of distinct sequential records; delivery must preserve the
	// byte stream order regardless of how the transport and the receive
	// window chunk it.
	sent := []byte{}
	for i := 0; i < 100; i++ {
		record := []byte(fmt.Sprintf("record-%03d;", i))
		_, err := client.Write(record)
		if err != nil {
			t.Fatalf("client write failed: %s", err)
		}
		sent = append(sent, record...)
	}

	received := handler.waitReceived(t, id, len(sent))
	if !bytes.Equal(sent, received) {
		t.Fatalf("received stream order mismatch")
	}
}

// echoHandler sends each received chunk back to its connection.
type echoHandler struct {
	server *Server
	closed chan ConnID
}

func (handler *echoHandler) OnAccept(id ConnID) {
}

func (handler *echoHandler) OnReceive(id ConnID, data []byte) {
	handler.server.Send(id, data)
}

func (handler *echoHandler) OnClose(id ConnID) {
	handler.closed <- id
}

func TestServerPingPong(t *testing.T) {

	handler := &echoHandler{closed: make(chan ConnID, 8)}

	server, err := NewServer(
		&Config{MaxConnections: 2, ReceiveBufferSize: 64},
		handler)
	if err != nil {
		t.Fatalf("NewServer failed: %s", err)
	}
	handler.server = server

	err = server.Start(0)
	if err != nil {
		t.Fatalf("Start failed: %s", err)
	}
	defer server.Stop()

	port := common.PortFromAddr(server.Addr())

	runPingPongClient := func(seed byte) error {
		client, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			return fmt.Errorf("dial failed: %w", err)
		}
		defer client.Close()

		for round := 0; round < 3; round++ {
			payload := makeTestPayload(48, seed+byte(round))

			_, err := client.Write(payload)
			if err != nil {
				return fmt.Errorf("write failed: %w", err)
			}

			echo := make([]byte, len(payload))
			client.SetReadDeadline(time.Now().Add(testEventTimeout))
			n, err := readFull(client, echo)
			if err != nil {
				return fmt.Errorf("read failed: %w", err)
			}
			if !bytes.Equal(payload, echo[:n]) {
				return fmt.Errorf("echo mismatch in round %d", round)
			}
		}
		return nil
	}

	results := make(chan error, 2)
	go func() { results <- runPingPongClient(10) }()
	go func() { results <- runPingPongClient(20) }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if err != nil {
				t.Fatalf("ping pong client failed: %s", err)
			}
		case <-time.After(testEventTimeout):
			t.Fatalf("timeout waiting for ping pong clients")
		}
	}

	for i := 0; i < 2; i++ {
		select {
		case <-handler.closed:
		case <-time.After(testEventTimeout):
			t.Fatalf("timeout waiting for OnClose")
		}
	}

	// All admission permits, receive contexts, and send contexts are
	// restored once both connections have torn down.
	waitUntil(t, "pool restoration", func() bool {
		metrics := server.GetMetrics()
		return metrics["connected_count"] == 0 &&
			metrics["available_permits"] == 2 &&
			metrics["free_receive_contexts"] == 2 &&
			metrics["free_send_contexts"] == server.config.sendPoolSize()
	})

	if server.GetMetrics()["accepted_total"] != int64(2) {
		t.Fatalf("unexpected accepted_total")
	}
}

func TestServerStop(t *testing.T) {

	handler := newTestHandler()

	server, port := startTestServer(
		t,
		&Config{MaxConnections: 4, ReceiveBufferSize: 64},
		handler)

	client1 := dialTestServer(t, port)
	defer client1.Close()
	handler.waitAccepted(t)

	client2 := dialTestServer(t, port)
	defer client2.Close()
	handler.waitAccepted(t)

	// Stop tears down both connections and does not return until their
	// close notifications have been dispatched.
	server.Stop()

	for i := 0; i < 2; i++ {
		select {
		case <-handler.closed:
		default:
			t.Fatalf("missing OnClose after Stop")
		}
	}

	client1.SetReadDeadline(time.Now().Add(testEventTimeout))
	buffer := make([]byte, 1)
	_, err := client1.Read(buffer)
	if err == nil {
		t.Fatalf("unexpected client read success after Stop")
	}

	// Stop is idempotent.
	server.Stop()
}

func TestServerAcceptRateLimit(t *testing.T) {

	handler := newTestHandler()

	server, port := startTestServer(
		t,
		&Config{
			MaxConnections:                      10,
			ReceiveBufferSize:                   64,
			AcceptRateLimitQuantity:             2,
			AcceptRateLimitIntervalMilliseconds: 60000,
		},
		handler)
	defer server.Stop()

	clients := make([]net.Conn, 4)
	for i := range clients {
		clients[i] = dialTestServer(t, port)
		defer clients[i].Close()
	}

	// Only the first two connections from this source address are
	// admitted within the rate limit interval.
	handler.waitAccepted(t)
	handler.waitAccepted(t)
	handler.expectNoAccept(t, 300*time.Millisecond)

	// The rejected connections are closed by the server; the admitted
	// connections stay open until their read deadlines expire.
	rejected := 0
	for _, client := range clients {
		client.SetReadDeadline(time.Now().Add(1 * time.Second))
		buffer := make([]byte, 1)
		_, err := client.Read(buffer)
		if err == io.EOF {
			rejected++
		}
	}
	if rejected != 2 {
		t.Fatalf("unexpected rejected count: %d", rejected)
	}

	metrics := server.GetMetrics()
	if metrics["accepted_total"] != int64(2) {
		t.Fatalf("unexpected accepted_total: %v", metrics["accepted_total"])
	}
}

func TestServerPortConflict(t *testing.T) {

	handler := newTestHandler()

	server1, port := startTestServer(
		t,
		&Config{MaxConnections: 1, ReceiveBufferSize: 64},
		handler)
	defer server1.Stop()

	server2, err := NewServer(
		&Config{MaxConnections: 1, ReceiveBufferSize: 64},
		newTestHandler())
	if err != nil {
		t.Fatalf("NewServer failed: %s", err)
	}

	err = server2.Start(port)
	if err == nil {
		server2.Stop()
		t.Fatalf("unexpected Start success on bound port")
	}

	// Stop on a server that never started is safe.
	server2.Stop()
}

func TestServerIdleEviction(t *testing.T) {

	if testing.Short() {
		t.Skip("skipping multi-sweep idle eviction test in short mode")
	}

	handler := newTestHandler()

	server, port := startTestServer(
		t,
		&Config{
			MaxConnections:     2,
			ReceiveBufferSize:  64,
			IdleTimeoutSeconds: 10,
		},
		handler)
	defer server.Stop()

	idleClient := dialTestServer(t, port)
	defer idleClient.Close()
	idleID := handler.waitAccepted(t)

	activeClient := dialTestServer(t, port)
	defer activeClient.Close()
	handler.waitAccepted(t)

	// The active connection sends within every sweep interval; the idle
	// connection sends nothing and is evicted by the reaper.
	activeDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(4 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_, err := activeClient.Write([]byte("keepalive"))
				if err != nil {
					return
				}
			case <-activeDone:
				return
			}
		}
	}()
	defer close(activeDone)

	select {
	case closedID := <-handler.closed:
		if closedID != idleID {
			t.Fatalf("evicted the active connection: %d", closedID)
		}
	case <-time.After(35 * time.Second):
		t.Fatalf("timeout waiting for idle eviction")
	}

	// The evicted client observes a remote close.
	idleClient.SetReadDeadline(time.Now().Add(testEventTimeout))
	buffer := make([]byte, 1)
	_, err := idleClient.Read(buffer)
	if err == nil {
		t.Fatalf("unexpected idle client read success")
	}

	// The evicted identifier is now unknown.
	err = server.Send(idleID, []byte("data"))
	if err != nil {
		t.Fatalf("unexpected Send error for evicted connection: %s", err)
	}
	if server.SetAttached(idleID, "x") {
		t.Fatalf("unexpected SetAttached success for evicted connection")
	}

	metrics := server.GetMetrics()
	if metrics["connected_count"] != 1 {
		t.Fatalf("unexpected connected_count: %v", metrics["connected_count"])
	}
}
