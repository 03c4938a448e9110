/*
 * corevm - remote line shell
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package shell implements a plain line-oriented TCP front end to a running
// machine: no telnet option negotiation, one command per line, one reply
// per command. It exists so a remote caller (a script, netcat, a second
// terminal) can drive the same command table the local console uses.
package shell

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/eduvm/corevm/internal/command"
	"github.com/eduvm/corevm/internal/vm"
)

// Server accepts connections on one port and serves each with the shared
// command table against one VM. Start and Stop mirror a connect/accept
// goroutine pair plus a WaitGroup drain with a bounded shutdown wait.
// Per-client handler goroutines are not tracked by the WaitGroup, so a
// client stuck mid-read can't hang the whole server down.
type Server struct {
	wg         sync.WaitGroup
	listener   net.Listener
	shutdown   chan struct{}
	connection chan net.Conn
	vm         *vm.VM
	port       string
}

// New opens a listener on port (e.g. "6940") but does not yet accept
// connections; call Start.
func New(port string, v *vm.VM) (*Server, error) {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, fmt.Errorf("listen on port %s: %w", port, err)
	}
	return &Server{
		listener:   listener,
		shutdown:   make(chan struct{}),
		connection: make(chan net.Conn),
		vm:         v,
		port:       port,
	}, nil
}

// Start spawns the accept and dispatch goroutines and returns immediately.
func (s *Server) Start() {
	s.wg.Add(2)
	slog.Info("shell server started", "port", s.port)
	go s.acceptConnections()
	go s.handleConnections()
}

// Stop closes the listener, signals both goroutines to exit, and waits up
// to one second for them to finish. Client handlers already running are
// not waited for.
func (s *Server) Stop() {
	close(s.shutdown)
	s.listener.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		slog.Warn("timed out waiting for shell connections to finish", "port", s.port)
	}
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdown:
			return
		default:
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.shutdown:
					return
				default:
					continue
				}
			}
			s.connection <- conn
		}
	}
}

func (s *Server) handleConnections() {
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdown:
			return
		case conn := <-s.connection:
			go handleClient(conn, s.vm)
		}
	}
}

func handleClient(conn net.Conn, v *vm.VM) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		out, err := command.Dispatch(scanner.Text(), v)
		if err == command.ErrQuit {
			return
		}
		if err != nil {
			fmt.Fprintf(conn, "error: %s\n", err)
			continue
		}
		if out != "" {
			fmt.Fprintln(conn, out)
		}
	}
}
