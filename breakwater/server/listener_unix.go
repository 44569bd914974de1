//go:build unix

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
	"os"

	"github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common/errors"
	"golang.org/x/sys/unix"
)

// listenTCP creates the engine's TCP listener with an explicit, large listen
// backlog. While the admission gate is at capacity no accept is posted, so
// excess connection attempts queue in this backlog and are refused beyond
// it. The standard library listener takes its backlog from the OS default,
// so the socket is constructed directly and then converted to a
// net.Listener.
func listenTCP(port int) (listener net.Listener, err error) {

	socketFd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer func() {
		// Cleanup on error
		if err != nil && socketFd != -1 {
			unix.Close(socketFd)
		}
	}()

	err = unix.SetsockoptInt(socketFd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err != nil {
		return nil, errors.Trace(err)
	}

	err = unix.Bind(socketFd, &unix.SockaddrInet4{Port: port})
	if err != nil {
		return nil, errors.Trace(err)
	}

	err = unix.Listen(socketFd, LISTEN_BACKLOG)
	if err != nil {
		return nil, errors.Trace(err)
	}

	err = unix.SetNonblock(socketFd, true)
	if err != nil {
		return nil, errors.Trace(err)
	}

	// Convert the syscall socket to a net.Listener. net.FileListener
	// duplicates the descriptor, so the os.File is closed here.
	file := os.NewFile(uintptr(socketFd), "listener")
	socketFd = -1
	defer file.Close()

	listener, err = net.FileListener(file)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return listener, nil
}
