/*
 * corevm - virtual machine facade
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

// Package vm wires the memory manager, process manager, CPU and I/O worker
// into one runnable machine, and owns the goroutine(s) that drive it. It is
// the only package that holds all three components at once; everything
// downstream (internal/cpu, internal/process, internal/ioworker) only ever
// sees the narrow slice of the others it needs, threaded through as
// explicit parameters or interfaces at construction time.
package vm

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eduvm/corevm/internal/cpu"
	"github.com/eduvm/corevm/internal/dump"
	"github.com/eduvm/corevm/internal/interrupt"
	"github.com/eduvm/corevm/internal/ioworker"
	"github.com/eduvm/corevm/internal/memory"
	"github.com/eduvm/corevm/internal/process"
)

// Config supplies construction-time parameters; zero values fall back to
// the documented defaults.
type Config struct {
	TotalCells int // total memory cells; default 4096
	PageSize   int // P, cells per frame; default 16
	Quantum    int // preemption threshold (a slice is Quantum+1 instructions); default cpu.DefaultQuantum
	DumpPath   string // empty disables dump persistence
	In         io.Reader // TRAP IN source; default os.Stdin
	Out        io.Writer // TRAP OUT sink; default os.Stdout
}

const defaultTotalCells = 4096
const defaultPageSize = 16

// VM is one runnable machine: a memory manager, a process manager, a CPU
// and an I/O worker, joined by an interrupt queue. Exactly one goroutine
// (the one Start launches, or the caller of RunToHalt) drives the CPU; the process manager and
// interrupt queue are safe for any other goroutine (a shell handler, the
// console, a test) to call concurrently.
type VM struct {
	mem   *memory.Manager
	proc  *process.Manager
	queue *interrupt.Queue
	io    *ioworker.Worker
	cpu   *cpu.CPU

	dumpPath string

	primed bool
	done   chan struct{}
	ioDone chan struct{}
	wg     sync.WaitGroup
}

// New builds a VM ready to load processes into. It does not start running;
// call Start or RunToHalt.
func New(cfg Config) *VM {
	if cfg.TotalCells <= 0 {
		cfg.TotalCells = defaultTotalCells
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}

	queue := interrupt.NewQueue(256)
	mem := memory.NewManager(cfg.TotalCells, cfg.PageSize)
	proc := process.NewManager(mem, queue.Post)
	worker := ioworker.New(proc, cfg.In, cfg.Out, queue.Post)

	v := &VM{
		mem:      mem,
		proc:     proc,
		queue:    queue,
		io:       worker,
		dumpPath: cfg.DumpPath,
		done:     make(chan struct{}),
	}
	v.cpu = cpu.New(queue, proc, worker, cfg.Quantum, v.onFault)
	return v
}

// Load decodes lines into a new process and enqueues it on the ready
// queue, returning its PID.
func (v *VM) Load(name string, lines []string) (int, error) {
	return v.proc.CreateProcess(name, lines)
}

// LoadFile reads an assembly source file line by line and loads it as a
// process named after the file's base name.
func (v *VM) LoadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	return v.Load(filepath.Base(path), lines)
}

// Shutdown posts SHUTDOWN; the CPU loop exits once it next drains the
// queue. Safe to call from any goroutine.
func (v *VM) Shutdown() {
	v.queue.Post(interrupt.Interrupt{Kind: interrupt.EShutdown})
}

// Halted reports whether the CPU loop has exited.
func (v *VM) Halted() bool { return v.cpu.Halted() }

// Access reads the DATA cell at a relative address of a specific process,
// independent of which process is current -- used by inspection commands
// and end-to-end test assertions after a scenario joins.
func (v *VM) Access(pid, relAddr int) (int, error) {
	return v.proc.AccessFor(pid, relAddr)
}

// ProcessViews returns a snapshot of every PCB ever created, for the `ps`
// command and the live viewer.
func (v *VM) ProcessViews() []process.PCBView {
	return v.proc.Snapshot()
}

// Snapshot gathers the CPU, process table and memory sections for a dump
// or a viewer refresh. It is the one place that reads all three owned
// components together.
func (v *VM) Snapshot() dump.Snapshot {
	var ir string
	if instr, err := v.proc.Access(v.cpu.Regs.PC); err == nil {
		ir = instr.String()
	}

	cells := make([]dump.MemCell, 0, v.mem.TotalCells())
	pageSize := v.mem.PageSize()
	for addr := 0; addr < v.mem.TotalCells(); addr++ {
		cell, err := v.mem.AccessAbsolute(addr)
		if err != nil {
			continue
		}
		frameIdx := addr / pageSize
		cells = append(cells, dump.MemCell{
			Address: addr,
			Frame:   frameIdx,
			Owner:   v.mem.Frame(frameIdx).Owner,
			Source:  cell.Instr.Source,
			Decoded: cell.Instr.String(),
		})
	}

	return dump.Snapshot{
		CPU: dump.CPUState{
			PC:        v.cpu.Regs.PC,
			IR:        ir,
			Registers: v.cpu.Regs.Snapshot(),
		},
		Processes: v.proc.Snapshot(),
		Memory:    cells,
	}
}

func (v *VM) writeDump() {
	if v.dumpPath == "" {
		return
	}
	if err := dump.Write(v.dumpPath, v.Snapshot()); err != nil {
		slog.Error("dump write failed", "err", err)
	}
}

func (v *VM) onFault(i interrupt.Interrupt) {
	slog.Warn("fault", "kind", i.Kind.String(), "pid", i.PID, "err", i.Err)
	v.writeDump()
}

// ensurePrimed schedules the first process onto the CPU's register file the
// first time the step loop is about to start. Loads that happen before this
// point just sit on the ready queue; Access/EndCurrent are both no-ops
// against a current process that does not exist yet, so something has to
// make one current before Step is ever called.
func (v *VM) ensurePrimed() {
	if v.primed {
		return
	}
	v.primed = true
	v.cpu.Prime()
}

// RunToHalt spins up the I/O worker and drives the CPU loop synchronously
// on the calling goroutine until it halts. Used by batch (non-interactive)
// CLI invocations and by end-to-end tests that want to run a scenario to
// completion and then assert on memory contents.
func (v *VM) RunToHalt() {
	v.ensurePrimed()

	ioDone := make(chan struct{})
	go v.io.Run(ioDone)
	defer close(ioDone)

	for !v.cpu.Halted() {
		v.cpu.Step()
		v.writeDump()
	}
}

// Start runs the I/O worker and the CPU loop on their own goroutines,
// returning immediately. Used by interactive invocations (shell/console/gui
// enabled) where commands keep arriving after load. Call Stop to shut down
// cleanly.
func (v *VM) Start() {
	v.ensurePrimed()

	v.ioDone = make(chan struct{})
	v.wg.Add(2)

	go func() {
		defer v.wg.Done()
		v.io.Run(v.ioDone)
	}()

	go func() {
		defer v.wg.Done()
		for {
			select {
			case <-v.done:
				return
			default:
			}
			if v.cpu.Halted() {
				return
			}
			v.cpu.Step()
			v.writeDump()
		}
	}()
}

// Stop signals both goroutines started by Start to exit and waits for
// them, up to one second, so a hung goroutine can't block shutdown
// forever.
func (v *VM) Stop() {
	close(v.done)
	if v.ioDone != nil {
		close(v.ioDone)
	}

	waited := make(chan struct{})
	go func() {
		v.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(time.Second):
		slog.Warn("timed out waiting for VM shutdown")
	}
}
