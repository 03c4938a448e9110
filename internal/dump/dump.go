/*
 * corevm - persisted state dump writer
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

// Package dump renders a snapshot of CPU, process table and memory state to
// a human-readable text file, rewritten wholesale on every call rather than
// appended to, so the file always reflects exactly one point in time.
package dump

import (
	"fmt"
	"os"
	"strings"

	"github.com/eduvm/corevm/internal/process"
	"github.com/eduvm/corevm/internal/register"
)

// CPUState is the CPU section of a snapshot: register file, program
// counter, and the instruction at that program counter (already rendered to text by
// word.Instruction.String, so this package stays free of an internal/word
// dependency).
type CPUState struct {
	PC       int
	IR       string
	Registers [register.NumRegisters]int
}

// MemCell is one line of the memory section: an absolute address, the
// frame that owns it, that frame's owner PID (0 if never allocated; a freed
// frame keeps its last owner), the original source text, and the decoded
// instruction text.
type MemCell struct {
	Address int
	Frame   int
	Owner   int
	Source  string
	Decoded string
}

// Snapshot is everything one dump captures, gathered by the caller (the
// one place that holds references to the CPU, process manager and memory
// manager together -- internal/vm).
type Snapshot struct {
	CPU       CPUState
	Processes []process.PCBView
	Memory    []MemCell
}

// Write renders a snapshot and replaces the file at path with it.
func Write(path string, snap Snapshot) error {
	var b strings.Builder

	writeCPUSection(&b, snap.CPU)
	writeProcessSection(&b, snap.Processes)
	writeMemorySection(&b, snap.Memory)

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeCPUSection(b *strings.Builder, cpu CPUState) {
	fmt.Fprintf(b, "=== CPU ===\n")
	fmt.Fprintf(b, "PC: %d\n", cpu.PC)
	fmt.Fprintf(b, "IR: %s\n", cpu.IR)
	b.WriteString("Registers:")
	for i, v := range cpu.Registers {
		fmt.Fprintf(b, " r%d=%d", i, v)
	}
	b.WriteString("\n\n")
}

func writeProcessSection(b *strings.Builder, procs []process.PCBView) {
	fmt.Fprintf(b, "=== Processes ===\n")
	for _, p := range procs {
		fmt.Fprintf(b, "PID %d  name=%-12s state=%-8s size=%-4d frames=%-3d current=%d/%d\n",
			p.PID, p.Name, p.State, p.Size, p.NumFrames, p.CurrentFrame, p.CurrentOffset)
	}
	b.WriteString("\n")
}

func writeMemorySection(b *strings.Builder, cells []MemCell) {
	fmt.Fprintf(b, "=== Memory ===\n")
	for _, c := range cells {
		fmt.Fprintf(b, "%-6d frame=%-4d owner=%-4d %-20s %s\n",
			c.Address, c.Frame, c.Owner, c.Source, c.Decoded)
	}
}
