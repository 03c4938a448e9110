/*
 * corevm - flat memory manager
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

// Package memory owns the flat cell array and the frame pool carved out of
// it. It performs first-fit frame allocation and deallocation and raw
// (absolute-address) cell access; relative-address translation is the
// process manager's job (internal/process), which calls back into this
// package only with already-translated absolute addresses.
package memory

import (
	"errors"
	"fmt"

	"github.com/eduvm/corevm/internal/frame"
	"github.com/eduvm/corevm/internal/word"
)

// ErrOutOfMemory is reported when an allocation cannot be satisfied. No
// partial state is left behind: frames are only marked once enough free
// ones have been found.
var ErrOutOfMemory = errors.New("OUT-OF-MEMORY")

// ErrInvalidAddress is reported by raw access/save on an out-of-range
// absolute address.
var ErrInvalidAddress = errors.New("INVALID-ADDRESS")

// Manager owns the machine's entire memory: a flat array of cells and the
// frame descriptors carved out of it. Frames never move once created; the
// frame array's length is fixed at construction.
type Manager struct {
	cells    []word.Cell
	frames   []frame.Frame
	pageSize int
}

// NewManager builds a memory manager with totalCells cells divided into
// frames of pageSize cells each. totalCells should be a multiple of
// pageSize; any remainder is inaccessible (it falls in no frame).
func NewManager(totalCells, pageSize int) *Manager {
	numFrames := totalCells / pageSize
	m := &Manager{
		cells:    make([]word.Cell, numFrames*pageSize),
		frames:   make([]frame.Frame, numFrames),
		pageSize: pageSize,
	}
	for i := range m.cells {
		m.cells[i] = word.Empty(i)
	}
	for i := range m.frames {
		m.frames[i] = frame.New(i, pageSize)
	}
	return m
}

// PageSize returns P, the construction-time page size constant.
func (m *Manager) PageSize() int { return m.pageSize }

// NumFrames returns the static length of the frame array.
func (m *Manager) NumFrames() int { return len(m.frames) }

// TotalCells returns the static length of the backing cell array, the
// iteration bound a dump writer needs to walk every cell by absolute
// address.
func (m *Manager) TotalCells() int { return len(m.cells) }

// Frame returns a copy of the frame descriptor at index idx.
func (m *Manager) Frame(idx int) frame.Frame { return m.frames[idx] }

// Allocate reserves enough frames to hold nWords instructions, first-fit
// over the frame array, and zeroes them to EMPTY. On success it returns the
// allocated frame indices in ascending (allocation) order. On failure no
// frame is left marked.
func (m *Manager) Allocate(nWords, owner int) ([]int, error) {
	needed := ceilDiv(nWords, m.pageSize)
	if needed == 0 {
		needed = 1
	}
	return m.AllocateFrames(needed, owner)
}

// AllocateFrames reserves exactly n frames, first-fit, used both by
// Allocate and by the process manager's implicit-growth path in Save
// implicit frame growth.
func (m *Manager) AllocateFrames(n, owner int) ([]int, error) {
	allocated := make([]int, 0, n)
	for i := range m.frames {
		if len(allocated) == n {
			break
		}
		if m.frames[i].Free {
			allocated = append(allocated, i)
		}
	}

	if len(allocated) < n {
		// Nothing mutated yet -- the scan above only collected candidates.
		return nil, fmt.Errorf("%w: need %d frames, %d free", ErrOutOfMemory, n, len(allocated))
	}

	for _, idx := range allocated {
		m.frames[idx].Free = false
		m.frames[idx].Owner = owner
		m.zeroFrame(idx)
	}

	return allocated, nil
}

// Deallocate flips the free flag of each given frame index. Cells are left
// untouched and the owner tag is preserved, so a dump taken after
// deallocation still shows who last owned the frame.
func (m *Manager) Deallocate(frames []int) {
	for _, idx := range frames {
		m.frames[idx].Free = true
	}
}

func (m *Manager) zeroFrame(idx int) {
	f := m.frames[idx]
	for a := f.Start; a < f.Start+f.Length; a++ {
		m.cells[a] = word.Empty(a)
	}
}

// AccessAbsolute returns the cell at an already-translated absolute
// address.
func (m *Manager) AccessAbsolute(addr int) (word.Cell, error) {
	if addr < 0 || addr >= len(m.cells) {
		return word.Cell{}, ErrInvalidAddress
	}
	return m.cells[addr], nil
}

// SaveAbsolute writes instr into the cell at an already-translated absolute
// address.
func (m *Manager) SaveAbsolute(addr int, instr word.Instruction) error {
	if addr < 0 || addr >= len(m.cells) {
		return ErrInvalidAddress
	}
	m.cells[addr] = word.Cell{Address: addr, Instr: instr}
	return nil
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
