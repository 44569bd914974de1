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
	"flag"
	"fmt"
	"os"

	"github.com/Breakwater-Networks/breakwater-socket-core/breakwater/server"
)

func main() {

	var configFilename string
	flag.StringVar(&configFilename, "config", server.SERVER_CONFIG_FILENAME, "configuration file")

	var generateListenPort int
	flag.IntVar(&generateListenPort, "port", 0, "generate: listen port")

	var generateMaxConnections int
	flag.IntVar(&generateMaxConnections, "maxConnections", 0, "generate: maximum concurrent connections")

	var generateReceiveBufferSize int
	flag.IntVar(&generateReceiveBufferSize, "receiveBufferSize", 0, "generate: receive buffer size in bytes")

	var generateIdleTimeoutSeconds int
	flag.IntVar(&generateIdleTimeoutSeconds, "idleTimeout", 0, "generate: idle timeout in seconds")

	flag.Parse()

	args := flag.Args()

	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "usage: '%s generate' or '%s run'\n", os.Args[0], os.Args[0])
		os.Exit(1)

	} else if args[0] == "generate" {

		configFileContents, err := server.GenerateConfig(
			&server.GenerateConfigParams{
				ListenPort:         generateListenPort,
				MaxConnections:     generateMaxConnections,
				ReceiveBufferSize:  generateReceiveBufferSize,
				IdleTimeoutSeconds: generateIdleTimeoutSeconds,
			})
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate failed: %s\n", err)
			os.Exit(1)
		}

		err = os.WriteFile(configFilename, configFileContents, 0600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error writing configuration file: %s\n", err)
			os.Exit(1)
		}

	} else if args[0] == "run" {

		configFileContents, err := os.ReadFile(configFilename)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error loading configuration file: %s\n", err)
			os.Exit(1)
		}

		err = server.RunServices(
			configFileContents,
			func(s *server.Server) server.Handler {
				return &echoApp{server: s}
			})
		if err != nil {
			fmt.Fprintf(os.Stderr, "run failed: %s\n", err)
			os.Exit(1)
		}

	} else {
		fmt.Fprintf(os.Stderr, "usage: '%s generate' or '%s run'\n", os.Args[0], os.Args[0])
		os.Exit(1)
	}
}

// echoApp implements server.Handler, sending each received chunk back to
// its connection.
type echoApp struct {
	server *server.Server
}

func (app *echoApp) OnAccept(id server.ConnID) {
}

func (app *echoApp) OnReceive(id server.ConnID, data []byte) {
	app.server.Send(id, data)
}

func (app *echoApp) OnClose(id server.ConnID) {
}
