/*
 * corevm - process control block
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

// Package process owns the process table, the ready FIFO and the blocked
// map, and performs relative-to-absolute address translation on behalf of
// the currently running process. It is the only component that knows how a
// PCB's frame list maps to memory manager frames.
package process

import "github.com/eduvm/corevm/internal/register"

// State is one of the four process lifecycle states.
type State int

const (
	Ready State = iota
	Running
	Blocked
	Ended
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Blocked:
		return "BLOCKED"
	case Ended:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// PCB is the saved state of one process: its identity, its frame list, its
// saved CPU context, and its lifecycle state. A PCB is created once by
// CreateProcess and is never re-entered after reaching Ended.
type PCB struct {
	Name string
	PID  int
	Size int // instruction count at creation; not updated when Save triggers implicit frame growth

	Frames []int // ordered, non-contiguous memory-manager frame indices

	CurrentFrame  int // advisory/debug: index into Frames of the last-accessed page
	CurrentOffset int // advisory/debug: offset within that frame

	SavedPC   int
	SavedRegs [register.NumRegisters]int

	State State
}
