package process

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/eduvm/corevm/internal/decode"
	"github.com/eduvm/corevm/internal/interrupt"
	"github.com/eduvm/corevm/internal/memory"
	"github.com/eduvm/corevm/internal/register"
	"github.com/eduvm/corevm/internal/word"
)

// ErrInvalidAddress is returned by Access/Save when a relative address
// cannot be translated: a read past the process's allocated frames, or a
// write whose implicit-growth allocation fails (a runtime allocation
// failure during a write folds OUT-OF-MEMORY into this).
var ErrInvalidAddress = errors.New("INVALID-ADDRESS")

// Manager owns the process table, the ready FIFO, the blocked map and the
// PID generator. Exactly one PCB is current (RUNNING) at a time; it is held
// apart from the other two collections: a PCB appears in at most one of
// {ready queue, blocked map, RUNNING} at any time.
type Manager struct {
	mu sync.Mutex

	mem      *memory.Manager
	pageSize int

	table   map[int]*PCB
	ready   []*PCB
	blocked map[int]*PCB
	current *PCB

	nextPID int

	postInterrupt func(interrupt.Interrupt)
}

// NewManager builds a process manager over the given memory manager. The
// postInterrupt callback is how scheduling decisions that have nowhere else
// to go -- most notably EShutdown when no work remains -- reach the CPU's
// interrupt queue, keeping this package free of any back-reference to the
// CPU it serves.
func NewManager(mem *memory.Manager, postInterrupt func(interrupt.Interrupt)) *Manager {
	return &Manager{
		mem:           mem,
		pageSize:      mem.PageSize(),
		table:         make(map[int]*PCB),
		blocked:       make(map[int]*PCB),
		nextPID:       1,
		postInterrupt: postInterrupt,
	}
}

// CreateProcess decodes each line (skipping blanks/comments), allocates
// enough frames to hold the resulting instructions, writes them in program
// order, and enqueues the new PCB on the ready queue.
func (m *Manager) CreateProcess(name string, lines []string) (int, error) {
	var instrs []word.Instruction
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, ";") {
			continue
		}
		instr, err := decode.Line(line)
		if err != nil {
			return 0, err
		}
		instrs = append(instrs, instr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(name, instrs)
}

func (m *Manager) createLocked(name string, instrs []word.Instruction) (int, error) {
	pid := m.nextPID
	m.nextPID++

	size := len(instrs)
	if size == 0 {
		size = 1 // reserve at least one frame even for an empty program
	}

	frames, err := m.mem.Allocate(size, pid)
	if err != nil {
		m.nextPID-- // the PID was never actually assigned to a process
		return 0, err
	}

	for i, instr := range instrs {
		page := i / m.pageSize
		off := i % m.pageSize
		abs := m.mem.Frame(frames[page]).Start + off
		if err := m.mem.SaveAbsolute(abs, instr); err != nil {
			return 0, err
		}
	}

	pcb := &PCB{
		Name:   name,
		PID:    pid,
		Size:   len(instrs),
		Frames: frames,
		State:  Ready,
	}
	m.table[pid] = pcb
	m.ready = append(m.ready, pcb)

	return pid, nil
}

// translate maps a relative address of the given process to an absolute
// memory address. grow selects whether translation may allocate additional
// frames when the address falls past the process's current frame list
// (Save's implicit-growth path); a plain read never grows.
func (m *Manager) translate(pcb *PCB, relAddr int, grow bool) (int, error) {
	if relAddr < 0 {
		return 0, ErrInvalidAddress
	}
	page := relAddr / m.pageSize
	off := relAddr % m.pageSize

	if page >= len(pcb.Frames) {
		if !grow {
			return 0, ErrInvalidAddress
		}
		needed := page + 1 - len(pcb.Frames)
		newFrames, err := m.mem.AllocateFrames(needed, pcb.PID)
		if err != nil {
			// Runtime allocation failure during a write posts
			// INVALID-ADDRESS, not OUT-OF-MEMORY.
			return 0, fmt.Errorf("%w: growth failed: %v", ErrInvalidAddress, err)
		}
		pcb.Frames = append(pcb.Frames, newFrames...)
	}

	pcb.CurrentFrame = page
	pcb.CurrentOffset = off

	return m.mem.Frame(pcb.Frames[page]).Start + off, nil
}

// Access reads the instruction at a relative address of the current
// process. It never grows the process's frame list: one past the last
// allocated address is INVALID-ADDRESS.
func (m *Manager) Access(relAddr int) (word.Instruction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return word.Instruction{}, ErrInvalidAddress
	}
	abs, err := m.translate(m.current, relAddr, false)
	if err != nil {
		return word.Instruction{}, err
	}
	cell, err := m.mem.AccessAbsolute(abs)
	if err != nil {
		return word.Instruction{}, ErrInvalidAddress
	}
	return cell.Instr, nil
}

// Save writes an instruction at a relative address of the current process,
// allocating additional frames if the address falls past the process's
// current frame list.
func (m *Manager) Save(relAddr int, instr word.Instruction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ErrInvalidAddress
	}
	abs, err := m.translate(m.current, relAddr, true)
	if err != nil {
		return err
	}
	if err := m.mem.SaveAbsolute(abs, instr); err != nil {
		return ErrInvalidAddress
	}
	return nil
}

// AccessFor reads the DATA cell at a relative address belonging to a
// specific process, independent of which process is current. Used by the
// I/O worker to service a TRAP OUT on behalf of the process that issued it,
// which is BLOCKED (not current) while its thunk runs.
func (m *Manager) AccessFor(pid, relAddr int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pcb, ok := m.table[pid]
	if !ok {
		return 0, ErrInvalidAddress
	}
	abs, err := m.translate(pcb, relAddr, false)
	if err != nil {
		return 0, err
	}
	cell, err := m.mem.AccessAbsolute(abs)
	if err != nil {
		return 0, ErrInvalidAddress
	}
	if cell.Instr.Op != word.OpData {
		return 0, ErrInvalidAddress
	}
	return cell.Instr.DataValue(), nil
}

// SaveFor writes a DATA cell at a relative address belonging to a specific
// process, independent of which process is current. Used by the I/O worker
// to service a TRAP IN on behalf of the process that issued it.
func (m *Manager) SaveFor(pid, relAddr, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pcb, ok := m.table[pid]
	if !ok {
		return ErrInvalidAddress
	}
	abs, err := m.translate(pcb, relAddr, true)
	if err != nil {
		return err
	}
	if err := m.mem.SaveAbsolute(abs, word.Data(value)); err != nil {
		return ErrInvalidAddress
	}
	return nil
}

// CurrentPID returns the PID of the RUNNING process, or 0 if none is
// running.
func (m *Manager) CurrentPID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return 0
	}
	return m.current.PID
}

// ScheduleNext dequeues the next ready PCB, or spins up a synthetic idle
// process if the blocked map is non-empty, or posts EShutdown if there is
// no work left anywhere. ok is false exactly when EShutdown was posted (the
// caller must not resume a process).
func (m *Manager) ScheduleNext() (pc int, regs [register.NumRegisters]int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduleNextLocked()
}

func (m *Manager) scheduleNextLocked() (pc int, regs [register.NumRegisters]int, ok bool) {
	if len(m.ready) > 0 {
		next := m.ready[0]
		m.ready = m.ready[1:]
		return m.resumeLocked(next)
	}

	if len(m.blocked) > 0 {
		// Spin up a trivial synthetic process so the CPU has something to
		// run while blocked work drains, rather than busy-waiting with no
		// process context at all. createLocked appends it to the (empty,
		// in this branch) ready queue, so it is the sole entry to pop.
		// This re-enters allocation on every call; if memory is exhausted
		// here the behavior is left undefined and simply propagates as a
		// fatal VM condition.
		idle, err := m.createLocked("idle", []word.Instruction{{Op: word.OpStop, NumOps: 0}})
		if err != nil {
			m.postInterrupt(interrupt.Interrupt{Kind: interrupt.EShutdown, Err: err})
			return 0, regs, false
		}
		next := m.table[idle]
		m.ready = m.ready[:0]
		return m.resumeLocked(next)
	}

	m.postInterrupt(interrupt.Interrupt{Kind: interrupt.EShutdown})
	return 0, regs, false
}

func (m *Manager) resumeLocked(pcb *PCB) (int, [register.NumRegisters]int, bool) {
	pcb.State = Running
	m.current = pcb
	return pcb.SavedPC, pcb.SavedRegs, true
}

// suspendLocked captures the current process's context and moves it to the
// ready queue or the blocked map. savedPC is the value the resumed process
// should see in its PC register, already adjusted by the caller for
// whether the faulted/yielded instruction should be re-executed.
func (m *Manager) suspendLocked(savedPC int, regs [register.NumRegisters]int, blocked bool) {
	cur := m.current
	if cur == nil {
		return
	}
	cur.SavedPC = savedPC
	cur.SavedRegs = regs
	m.current = nil

	if blocked {
		cur.State = Blocked
		m.blocked[cur.PID] = cur
	} else {
		cur.State = Ready
		m.ready = append(m.ready, cur)
	}
}

// CPUScheduleNext suspends the current process, recording whether it
// should advance PC on resume, files it under blocked or ready, then
// schedules the next process to run.
func (m *Manager) CPUScheduleNext(curPC int, regs [register.NumRegisters]int, shouldIncrement, blocked bool) (pc int, outRegs [register.NumRegisters]int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := curPC
	if shouldIncrement {
		saved++
	}
	m.suspendLocked(saved, regs, blocked)
	return m.scheduleNextLocked()
}

// Unblock moves a PID from the blocked map to the ready queue. Unknown
// PIDs, or PIDs not currently BLOCKED, are silently ignored.
func (m *Manager) Unblock(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pcb, ok := m.blocked[pid]
	if !ok || pcb.State != Blocked {
		return
	}
	delete(m.blocked, pid)
	pcb.State = Ready
	m.ready = append(m.ready, pcb)
}

// EndBlocked marks a specific BLOCKED process ENDED and deallocates its
// frames, without touching the current process or the scheduler: used when
// a process's own TRAP fails while it is parked in the blocked map, so it
// never runs again and must not disturb whatever else is currently
// scheduled. Unknown PIDs, or PIDs not currently BLOCKED, are silently
// ignored.
func (m *Manager) EndBlocked(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pcb, ok := m.blocked[pid]
	if !ok || pcb.State != Blocked {
		return
	}
	delete(m.blocked, pid)
	pcb.State = Ended
	m.mem.Deallocate(pcb.Frames)
}

// EndCurrent marks the current process ENDED, schedules the next process,
// and only then deallocates the ended process's frames -- so that if
// scheduling itself fails, the ended process's frames are still present
// for forensic dumps.
func (m *Manager) EndCurrent() (pc int, regs [register.NumRegisters]int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ended := m.current
	if ended == nil {
		return 0, regs, false
	}
	ended.State = Ended
	m.current = nil

	pc, regs, ok = m.scheduleNextLocked()

	m.mem.Deallocate(ended.Frames)

	return pc, regs, ok
}

// PCBView is a read-only snapshot of one PCB, safe to hand to the dump
// writer or the live viewer without exposing the live pointer.
type PCBView struct {
	Name          string
	PID           int
	Size          int
	NumFrames     int
	CurrentFrame  int
	CurrentOffset int
	State         State
}

// Snapshot returns a view of every PCB ever created, in PID order.
func (m *Manager) Snapshot() []PCBView {
	m.mu.Lock()
	defer m.mu.Unlock()

	views := make([]PCBView, 0, len(m.table))
	for pid := 1; pid < m.nextPID; pid++ {
		pcb, ok := m.table[pid]
		if !ok {
			continue
		}
		views = append(views, PCBView{
			Name:          pcb.Name,
			PID:           pcb.PID,
			Size:          pcb.Size,
			NumFrames:     len(pcb.Frames),
			CurrentFrame:  pcb.CurrentFrame,
			CurrentOffset: pcb.CurrentOffset,
			State:         pcb.State,
		})
	}
	return views
}
