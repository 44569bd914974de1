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

package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/Breakwater-Networks/breakwater-socket-core/breakwater"
	"github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common"
	"github.com/Breakwater-Networks/breakwater-socket-core/breakwater/server"
	"github.com/sirupsen/logrus"
)

// consoleEvents bridges connection events to the console: received bytes
// are written to stdout, and the close event releases the main goroutine.
type consoleEvents struct {
	connected chan bool
	closed    chan struct{}
}

func (events *consoleEvents) OnAccept(success bool) {
	events.connected <- success
}

func (events *consoleEvents) OnReceive(data []byte) {
	os.Stdout.Write(data)
}

func (events *consoleEvents) OnClose() {
	close(events.closed)
}

func main() {

	// Define command-line parameters

	var host string
	flag.StringVar(&host, "host", "127.0.0.1", "server host")

	var port int
	flag.IntVar(&port, "port", server.DEFAULT_LISTEN_PORT, "server TCP port")

	var connectTimeout int
	flag.IntVar(&connectTimeout, "connectTimeout", 10, "connection attempt timeout in seconds")

	var verbose bool
	flag.BoolVar(&verbose, "verbose", false, "log connection diagnostics to stderr")

	var versionDetails bool
	flag.BoolVar(&versionDetails, "version", false, "print build information and exit")
	flag.BoolVar(&versionDetails, "v", false, "print build information and exit")

	flag.Parse()

	if versionDetails {
		b := common.GetBuildInfo()
		fmt.Printf(
			"Breakwater Console Client\n  Build Date: %s\n  Built With: %s\n  Repository: %s\n  Revision: %s\n",
			b.BuildDate, b.GoVersion, b.BuildRepo, b.BuildRev)
		os.Exit(0)
	}

	var logger common.Logger
	if verbose {
		logger = server.CommonLogger(
			&server.ContextLogger{
				Logger: &logrus.Logger{
					Out:       os.Stderr,
					Formatter: &server.CustomJSONFormatter{},
					Hooks:     make(logrus.LevelHooks),
					Level:     logrus.DebugLevel,
				}})
	}

	events := &consoleEvents{
		connected: make(chan bool, 1),
		closed:    make(chan struct{}),
	}

	conn := breakwater.Connect(
		host,
		port,
		&breakwater.DialConfig{
			ConnectTimeout: time.Duration(connectTimeout) * time.Second,
			Logger:         logger,
		},
		events)

	if !<-events.connected {
		fmt.Fprintf(os.Stderr, "connect to %s:%d failed\n", host, port)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "connected to %s:%d\n", host, port)

	// Pump stdin lines to the connection. Stdin EOF closes the
	// connection, which is observed below as the close event.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			err := conn.Send([]byte(scanner.Text() + "\n"))
			if err != nil {
				return
			}
		}
		conn.Close()
	}()

	// Wait for an OS signal or a remote close, then disconnect and exit

	systemStopSignal := make(chan os.Signal, 1)
	signal.Notify(systemStopSignal, os.Interrupt, os.Kill)

	select {
	case <-systemStopSignal:
		conn.Close()
		<-events.closed
	case <-events.closed:
	}

	fmt.Fprintf(os.Stderr, "disconnected\n")
}
