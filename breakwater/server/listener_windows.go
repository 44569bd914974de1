//go:build windows

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

	"github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common/errors"
)

// listenTCP creates the engine's TCP listener. On this platform the listen
// backlog is the OS default; LISTEN_BACKLOG is not applied.
func listenTCP(port int) (net.Listener, error) {

	listener, err := net.Listen("tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, errors.Trace(err)
	}

	return listener, nil
}
