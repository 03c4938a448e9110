/*
 * corevm - terminal viewer
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

// Package viewer is an optional termui dashboard over a running machine:
// one paragraph panel each for the CPU, the process table and a slice of
// memory, refreshed on a ticker by polling vm.Snapshot.
package viewer

import (
	"fmt"
	"strings"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/eduvm/corevm/internal/vm"
)

const refreshInterval = 250 * time.Millisecond

var (
	panelCPU   *widgets.Paragraph
	panelProcs *widgets.Paragraph
	panelMem   *widgets.Paragraph
)

func initLayout() {
	panelCPU = widgets.NewParagraph()
	panelCPU.Title = "CPU"
	panelCPU.SetRect(0, 0, 50, 6)

	panelProcs = widgets.NewParagraph()
	panelProcs.Title = "Processes"
	panelProcs.SetRect(0, 6, 50, 20)

	panelMem = widgets.NewParagraph()
	panelMem.Title = "Memory (first 32 cells)"
	panelMem.SetRect(50, 0, 100, 20)
}

func draw(v *vm.VM) {
	snap := v.Snapshot()

	panelCPU.Text = fmt.Sprintf("PC: %d\nIR: %s\nRegs: %v", snap.CPU.PC, snap.CPU.IR, snap.CPU.Registers)

	var procs strings.Builder
	for _, p := range snap.Processes {
		fmt.Fprintf(&procs, "%d %-10s %-8s size=%d\n", p.PID, p.Name, p.State, p.Size)
	}
	panelProcs.Text = procs.String()

	var mem strings.Builder
	for i, cell := range snap.Memory {
		if i >= 32 {
			break
		}
		fmt.Fprintf(&mem, "%3d: %s\n", cell.Address, cell.Decoded)
	}
	panelMem.Text = mem.String()

	ui.Render(panelCPU, panelProcs, panelMem)
}

// Run initializes the terminal, draws v's state on a ticker, and blocks
// until the user presses q or Ctrl-C. It restores the terminal before
// returning.
func Run(v *vm.VM) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("init termui: %w", err)
	}
	defer ui.Close()

	initLayout()
	draw(v)

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	events := ui.PollEvents()
	for {
		select {
		case e := <-events:
			if e.Type == ui.KeyboardEvent && (e.ID == "q" || e.ID == "<C-c>") {
				return nil
			}
		case <-ticker.C:
			draw(v)
			if v.Halted() {
				return nil
			}
		}
	}
}
