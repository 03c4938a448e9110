/*
 * corevm - asynchronous I/O worker
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

// Package ioworker runs the long-lived background goroutine that performs
// blocking syscalls on behalf of TRAP, off the CPU's own goroutine. It never
// touches the ready queue or the CPU directly: every effect on scheduling
// crosses back through the interrupt queue.
package ioworker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/eduvm/corevm/internal/interrupt"
)

// Syscall numbers accepted by TRAP r8,r9.
const (
	SyscallIn  = 1
	SyscallOut = 2
)

// ErrBadSyscall is the thunk-level error for a TRAP whose r8 value is
// neither SyscallIn nor SyscallOut, or whose input could not be read as an
// integer; it surfaces as EInvalidCommand.
var ErrBadSyscall = errors.New("INVALID-COMMAND: bad syscall number")

// ErrBadAddress is the thunk-level error for a TRAP whose r9 operand does
// not name a DATA cell belonging to the requesting process; it surfaces as
// EInvalidAddress rather than EInvalidCommand.
var ErrBadAddress = errors.New("INVALID-ADDRESS: bad trap operand")

// Translator is the narrow slice of the process manager an I/O thunk needs:
// reading and writing a DATA cell at a relative address of a specific
// process, by PID, without requiring that process to be current. Threading
// the owning PID explicitly (rather than relying on the process manager's
// notion of "current") keeps this package free of any dependency on
// scheduling state.
type Translator interface {
	AccessFor(pid, relAddr int) (int, error)
	SaveFor(pid, relAddr, value int) error
}

// Request is one unit of I/O work: a syscall issued by TRAP in the process
// identified by PID, with Addr the r9 operand (relative address of the
// syscall's DATA argument/result).
type Request struct {
	PID     int
	Syscall int
	Addr    int
}

// Worker drains a FIFO of Requests, running each to completion against In
// and Out, then posts EIOOperationComplete for the requesting process.
type Worker struct {
	requests reqQueue
	trans    Translator
	post     func(interrupt.Interrupt)

	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// New builds an I/O worker. in and out are the pluggable input source and
// output sink for TRAP IN/OUT; both default to no-ops if nil, so a VM built
// without console wiring still runs programs that never trap.
func New(trans Translator, in io.Reader, out io.Writer, post func(interrupt.Interrupt)) *Worker {
	if in == nil {
		in = strings.NewReader("")
	}
	if out == nil {
		out = io.Discard
	}
	return &Worker{
		trans: trans,
		post:  post,
		in:    bufio.NewReader(in),
		out:   out,
	}
}

// Submit enqueues a request. Safe to call from the CPU goroutine; never
// blocks, regardless of how many requests are already pending.
func (w *Worker) Submit(r Request) {
	w.requests.push(r)
}

// Run drains the request queue until done is closed, performing each
// syscall and posting its completion. It blocks waiting for work and on
// input reads, per the worker's documented suspension points; it never
// blocks on anything owned by the CPU or process manager.
func (w *Worker) Run(done <-chan struct{}) {
	go func() {
		<-done
		w.requests.close()
	}()

	for {
		req, ok := w.requests.pop()
		if !ok {
			return
		}
		w.handle(req)
	}
}

// reqQueue is an unbounded FIFO of Requests shared between the CPU goroutine
// (producer, via Submit) and the worker's own goroutine (sole consumer, via
// Run). Unlike internal/interrupt.Queue, pop here must be able to block the
// consumer until work arrives or the queue is closed, so this is a
// sync.Cond-guarded slice rather than a plain mutex: a channel would impose
// a fixed capacity and risk the CPU goroutine blocking in Submit, which
// (the same failure mode the interrupt queue avoids) would wedge the VM
// solid with no way to ever drain the blocked request.
type reqQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Request
	closed bool
}

func (q *reqQueue) push(r Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cond == nil {
		q.cond = sync.NewCond(&q.mu)
	}
	q.items = append(q.items, r)
	q.cond.Signal()
}

// pop blocks until a request is available or the queue is closed. ok is
// false once the queue is closed and fully drained.
func (q *reqQueue) pop() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cond == nil {
		q.cond = sync.NewCond(&q.mu)
	}
	for len(q.items) == 0 {
		if q.closed {
			return Request{}, false
		}
		q.cond.Wait()
	}
	r := q.items[0]
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return r, true
}

func (q *reqQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cond == nil {
		q.cond = sync.NewCond(&q.mu)
	}
	q.closed = true
	q.cond.Broadcast()
}

func (w *Worker) handle(req Request) {
	var err error
	switch req.Syscall {
	case SyscallIn:
		err = w.doIn(req)
	case SyscallOut:
		err = w.doOut(req)
	default:
		err = ErrBadSyscall
	}

	w.post(interrupt.Interrupt{
		Kind:    interrupt.EIOOperationComplete,
		PID:     req.PID,
		Syscall: req.Syscall,
		Addr:    req.Addr,
		Err:     err,
	})
}

// doIn reads one line from the input source, parses it as a signed integer,
// and saves it as DATA at the requesting process's r9 address.
func (w *Worker) doIn(req Request) error {
	w.mu.Lock()
	line, err := w.in.ReadString('\n')
	w.mu.Unlock()
	if err != nil && line == "" {
		return fmt.Errorf("%w: input exhausted", ErrBadSyscall)
	}

	v, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return fmt.Errorf("%w: non-integer input %q", ErrBadSyscall, strings.TrimSpace(line))
	}

	if err := w.trans.SaveFor(req.PID, req.Addr, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	return nil
}

// doOut reads the DATA cell at the requesting process's r9 address and
// writes its integer value to the output sink.
func (w *Worker) doOut(req Request) error {
	v, err := w.trans.AccessFor(req.PID, req.Addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadAddress, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintf(w.out, "%d\n", v)
	return err
}
