/*
 * corevm - CPU fetch/decode/execute loop
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

// Package cpu runs the fetch/decode/execute loop over a single register
// file: fetch the current process's instruction through the process
// manager's translation, execute it against an explicit context, drain the
// interrupt queue, and advance the program counter unless the drain or the
// instruction itself already moved it.
package cpu

import (
	"errors"

	"github.com/eduvm/corevm/internal/interrupt"
	"github.com/eduvm/corevm/internal/ioworker"
	"github.com/eduvm/corevm/internal/register"
	"github.com/eduvm/corevm/internal/word"
)

// DefaultQuantum is the preemption threshold absent an explicit override:
// VIRTUAL-ALARM is posted on the step at which a process's instruction count
// since resumption has reached the quantum, so a process runs quantum+1
// instructions between preemptions.
const DefaultQuantum = 5

// ProcessManager is the narrow slice of internal/process.Manager the CPU
// needs: translated access/save for the current process, and the
// scheduling transitions driven from interrupt dispatch.
type ProcessManager interface {
	Access(relAddr int) (word.Instruction, error)
	Save(relAddr int, instr word.Instruction) error
	CurrentPID() int
	ScheduleNext() (pc int, regs [register.NumRegisters]int, ok bool)
	CPUScheduleNext(curPC int, regs [register.NumRegisters]int, shouldIncrement, blocked bool) (pc int, outRegs [register.NumRegisters]int, ok bool)
	EndCurrent() (pc int, regs [register.NumRegisters]int, ok bool)
	Unblock(pid int)
	EndBlocked(pid int)
}

// IOSubmitter is the narrow slice of internal/ioworker.Worker the CPU needs
// to hand off a TRAP as a request.
type IOSubmitter interface {
	Submit(req ioworker.Request)
}

// FaultHook is called once for every interrupt that ends the current
// process's execution (fatal error) or halts the CPU loop (shutdown),
// before the transition takes effect, so a caller can persist a dump.
type FaultHook func(i interrupt.Interrupt)

// CPU is one emulated processor: a register file, an interrupt queue, and
// the plumbing to the process manager and I/O worker it depends on.
type CPU struct {
	Regs register.File

	queue   *interrupt.Queue
	proc    ProcessManager
	io      IOSubmitter
	quantum int

	instrCount int
	lastPC     int
	halted     bool

	onFault FaultHook
}

// New builds a CPU. quantum <= 0 defaults to DefaultQuantum.
func New(queue *interrupt.Queue, proc ProcessManager, io IOSubmitter, quantum int, onFault FaultHook) *CPU {
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	return &CPU{
		queue:   queue,
		proc:    proc,
		io:      io,
		quantum: quantum,
		onFault: onFault,
	}
}

// Halted reports whether the CPU loop has exited, either on a cooperative
// EShutdown or because no process remains to run.
func (c *CPU) Halted() bool { return c.halted }

// Prime schedules the very first process onto the register file. There is
// no current process to suspend at construction time, so nothing else ever
// calls ScheduleNext directly; Step only ever reacts to a process that is
// already current. Callers run this exactly once, before the first Step.
func (c *CPU) Prime() {
	pc, regs, ok := c.proc.ScheduleNext()
	c.resume(pc, regs, ok)
	if !ok {
		c.halted = true
	}
}

// Step performs one fetch/decode/execute/drain cycle. It returns true once
// the CPU has halted; the caller should stop calling Step after that.
func (c *CPU) Step() bool {
	if c.halted {
		return true
	}

	currAddr := c.Regs.PC
	instr, err := c.proc.Access(currAddr)
	if err != nil {
		c.queue.Post(interrupt.Interrupt{Kind: interrupt.EInvalidAddress, PID: c.proc.CurrentPID(), Err: err})
	} else {
		c.execute(instr)
	}

	if c.instrCount >= c.quantum {
		c.queue.Post(interrupt.Interrupt{Kind: interrupt.EVirtualAlarm, PID: c.proc.CurrentPID()})
		c.instrCount = 0
	} else {
		c.instrCount++
	}

	skip := c.drainQueue(currAddr)
	if !skip && c.Regs.PC == currAddr {
		c.Regs.PC++
	}
	return c.halted
}

// drainQueue consumes every interrupt currently queued, in FIFO order, per
// the dispatch table. It returns true if any consumed interrupt means the
// auto-increment in Step must be skipped.
func (c *CPU) drainQueue(currAddr int) bool {
	skip := false
	for {
		i, ok := c.queue.TryPop()
		if !ok {
			return skip
		}

		switch i.Kind {
		case interrupt.ETrap:
			c.io.Submit(ioworker.Request{PID: i.PID, Syscall: i.Syscall, Addr: i.Addr})
			shouldIncrement := c.Regs.PC == currAddr
			pc, regs, ok := c.proc.CPUScheduleNext(c.Regs.PC, c.Regs.Snapshot(), shouldIncrement, true)
			c.resume(pc, regs, ok)
			c.instrCount = 0
			skip = true

		case interrupt.EIOOperationComplete:
			if i.Err != nil {
				// TRAP IN/OUT failed inside the I/O worker: the process
				// that issued it never resumes. Classify by the worker's
				// own sentinels so this package never needs to import
				// internal/process to tell the two failure shapes apart.
				kind := interrupt.EInvalidCommand
				if errors.Is(i.Err, ioworker.ErrBadAddress) {
					kind = interrupt.EInvalidAddress
				}
				if c.onFault != nil {
					c.onFault(interrupt.Interrupt{Kind: kind, PID: i.PID, Err: i.Err})
				}
				c.proc.EndBlocked(i.PID)
			} else {
				c.proc.Unblock(i.PID)
			}

		case interrupt.EProgramEnd:
			c.lastPC = c.Regs.PC
			c.Regs.PC = 0
			c.instrCount = 0
			pc, regs, ok := c.proc.EndCurrent()
			c.resume(pc, regs, ok)
			skip = true

		case interrupt.EVirtualAlarm:
			shouldIncrement := c.Regs.PC == currAddr
			pc, regs, ok := c.proc.CPUScheduleNext(c.Regs.PC, c.Regs.Snapshot(), shouldIncrement, false)
			c.resume(pc, regs, ok)
			c.instrCount = 0
			skip = true

		case interrupt.EShutdown:
			if c.onFault != nil {
				c.onFault(i)
			}
			c.Regs.PC = c.lastPC
			c.halted = true
			return true

		case interrupt.EInvalidCommand, interrupt.EInvalidAddress, interrupt.EMathOverflow:
			// Fatal to the current process, per the documented error
			// propagation table: dump, end it, and carry on with whatever
			// the process manager schedules next. EndCurrent itself posts
			// EShutdown (picked up on the next loop iteration here) if no
			// process remains.
			if c.onFault != nil {
				c.onFault(i)
			}
			pc, regs, ok := c.proc.EndCurrent()
			c.resume(pc, regs, ok)
			skip = true

		default:
			if c.onFault != nil {
				c.onFault(i)
			}
			c.halted = true
			return true
		}
	}
}

// resume overlays a freshly scheduled process's saved context onto the
// register file. If ok is false there is nothing to resume: either the
// process manager has posted EShutdown, which the next drainQueue iteration
// will pick up, or there was no current process to end.
func (c *CPU) resume(pc int, regs [register.NumRegisters]int, ok bool) {
	if !ok {
		return
	}
	c.Regs.Zero()
	c.Regs.Restore(regs)
	c.Regs.PC = pc
}

// execute dispatches a decoded instruction against the CPU's own register
// file, the process manager (for memory-addressed operands) and the
// interrupt queue (for TRAP, PROGRAM-END and runtime faults). Branch
// variants set Regs.PC directly; Step's auto-increment only fires when PC
// is left untouched.
func (c *CPU) execute(instr word.Instruction) {
	pid := c.proc.CurrentPID()

	switch instr.Op {
	case word.OpEmpty, word.OpData:
		// No-op as control: a legal instruction to land on, PC advances.

	case word.OpAdd:
		c.arith(instr, pid, func(a, b int) (int, bool) { return addOverflow(a, b) })
	case word.OpSub:
		c.arith(instr, pid, func(a, b int) (int, bool) { return subOverflow(a, b) })
	case word.OpMult:
		c.arith(instr, pid, func(a, b int) (int, bool) { return multOverflow(a, b) })

	case word.OpAddI:
		r, p := instr.Operands[0].Reg, instr.Operands[1].Value
		v, ok := addOverflow(c.Regs.Get(r), p)
		if !ok {
			c.fault(interrupt.EMathOverflow, pid, nil)
			return
		}
		c.Regs.Set(r, v)
	case word.OpSubI:
		r, p := instr.Operands[0].Reg, instr.Operands[1].Value
		v, ok := subOverflow(c.Regs.Get(r), p)
		if !ok {
			c.fault(interrupt.EMathOverflow, pid, nil)
			return
		}
		c.Regs.Set(r, v)

	case word.OpLDI:
		r, p := instr.Operands[0].Reg, instr.Operands[1].Value
		c.Regs.Set(r, p)

	case word.OpLDD:
		r, addr := instr.Operands[0].Reg, instr.Operands[1].Value
		v, ok := c.readData(addr, pid)
		if !ok {
			return
		}
		c.Regs.Set(r, v)

	case word.OpLDX:
		r, addrReg := instr.Operands[0].Reg, instr.Operands[1].Reg
		v, ok := c.readData(c.Regs.Get(addrReg), pid)
		if !ok {
			return
		}
		c.Regs.Set(r, v)

	case word.OpSTD:
		addr, r := instr.Operands[0].Value, instr.Operands[1].Reg
		c.writeData(addr, c.Regs.Get(r), pid)

	case word.OpSTX:
		addrReg, r := instr.Operands[0].Reg, instr.Operands[1].Reg
		c.writeData(c.Regs.Get(addrReg), c.Regs.Get(r), pid)

	case word.OpJMP:
		c.Regs.PC = instr.Operands[0].Value

	case word.OpJMPI:
		c.Regs.PC = c.Regs.Get(instr.Operands[0].Reg)

	case word.OpJMPIG:
		c.branchIfReg(instr, pid, func(v int) bool { return v > 0 })
	case word.OpJMPIL:
		c.branchIfReg(instr, pid, func(v int) bool { return v < 0 })
	case word.OpJMPIE:
		c.branchIfReg(instr, pid, func(v int) bool { return v == 0 })

	case word.OpJMPIM:
		c.branchIndirect(instr.Operands[0].Value, pid)

	case word.OpJMPIGM:
		c.branchIndirectIfReg(instr, pid, func(v int) bool { return v > 0 })
	case word.OpJMPILM:
		c.branchIndirectIfReg(instr, pid, func(v int) bool { return v < 0 })
	case word.OpJMPIEM:
		c.branchIndirectIfReg(instr, pid, func(v int) bool { return v == 0 })

	case word.OpSwap:
		r1, r2 := instr.Operands[0].Reg, instr.Operands[1].Reg
		v1, v2 := c.Regs.Get(r1), c.Regs.Get(r2)
		c.Regs.Set(r1, v2)
		c.Regs.Set(r2, v1)

	case word.OpStop:
		c.queue.Post(interrupt.Interrupt{Kind: interrupt.EProgramEnd, PID: pid})

	case word.OpTrap:
		syscall := c.Regs.Get(register.TrapSyscallReg)
		if syscall != ioworker.SyscallIn && syscall != ioworker.SyscallOut {
			c.fault(interrupt.EInvalidCommand, pid, ioworker.ErrBadSyscall)
			return
		}
		c.queue.Post(interrupt.Interrupt{
			Kind:    interrupt.ETrap,
			PID:     pid,
			Syscall: syscall,
			Addr:    c.Regs.Get(register.TrapAddrReg),
		})

	default:
		c.fault(interrupt.EInvalidCommand, pid, nil)
	}
}

func (c *CPU) arith(instr word.Instruction, pid int, op func(a, b int) (int, bool)) {
	r1, r2 := instr.Operands[0].Reg, instr.Operands[1].Reg
	v, ok := op(c.Regs.Get(r1), c.Regs.Get(r2))
	if !ok {
		c.fault(interrupt.EMathOverflow, pid, nil)
		return
	}
	c.Regs.Set(r1, v)
}

func (c *CPU) branchIfReg(instr word.Instruction, pid int, cond func(int) bool) {
	target, condReg := instr.Operands[0].Reg, instr.Operands[1].Reg
	if cond(c.Regs.Get(condReg)) {
		c.Regs.PC = c.Regs.Get(target)
	} else {
		c.Regs.PC++
	}
}

func (c *CPU) branchIndirect(addr int, pid int) {
	instr, err := c.proc.Access(addr)
	if err != nil {
		c.fault(interrupt.EInvalidAddress, pid, err)
		return
	}
	if instr.Op != word.OpData {
		c.fault(interrupt.EInvalidCommand, pid, nil)
		return
	}
	c.Regs.PC = instr.DataValue()
}

func (c *CPU) branchIndirectIfReg(instr word.Instruction, pid int, cond func(int) bool) {
	addr, condReg := instr.Operands[0].Value, instr.Operands[1].Reg
	if !cond(c.Regs.Get(condReg)) {
		c.Regs.PC++
		return
	}
	c.branchIndirect(addr, pid)
}

func (c *CPU) readData(addr, pid int) (int, bool) {
	cell, err := c.proc.Access(addr)
	if err != nil {
		c.fault(interrupt.EInvalidAddress, pid, err)
		return 0, false
	}
	if cell.Op != word.OpData {
		c.fault(interrupt.EInvalidCommand, pid, nil)
		return 0, false
	}
	return cell.DataValue(), true
}

func (c *CPU) writeData(addr, value, pid int) {
	if err := c.proc.Save(addr, word.Data(value)); err != nil {
		c.fault(interrupt.EInvalidAddress, pid, err)
	}
}

func (c *CPU) fault(kind interrupt.Kind, pid int, err error) {
	c.queue.Post(interrupt.Interrupt{Kind: kind, PID: pid, Err: err})
}

const maxInt = int(^uint(0) >> 1)
const minInt = -maxInt - 1

func addOverflow(a, b int) (int, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

func subOverflow(a, b int) (int, bool) {
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return 0, false
	}
	return diff, true
}

func multOverflow(a, b int) (int, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	if p/b != a {
		return 0, false
	}
	if (a == -1 && b == minInt) || (b == -1 && a == minInt) {
		return 0, false
	}
	return p, true
}
