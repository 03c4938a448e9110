package process

import (
	"testing"

	"github.com/eduvm/corevm/internal/interrupt"
	"github.com/eduvm/corevm/internal/memory"
	"github.com/eduvm/corevm/internal/word"
)

func newTestManager(t *testing.T, totalCells, pageSize int) (*Manager, *[]interrupt.Interrupt) {
	t.Helper()
	mem := memory.NewManager(totalCells, pageSize)
	var posted []interrupt.Interrupt
	m := NewManager(mem, func(i interrupt.Interrupt) {
		posted = append(posted, i)
	})
	return m, &posted
}

func TestCreateProcessAllocatesAndSchedules(t *testing.T) {
	m, _ := newTestManager(t, 64, 4)

	pid, err := m.CreateProcess("p1", []string{"ADD r1,r2", "STOP"})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	if pid != 1 {
		t.Fatalf("pid = %d, want 1", pid)
	}

	views := m.Snapshot()
	if len(views) != 1 || views[0].State != Ready {
		t.Fatalf("snapshot = %+v, want one READY process", views)
	}
}

func TestScheduleNextRunsReadyProcess(t *testing.T) {
	m, _ := newTestManager(t, 64, 4)
	pid, err := m.CreateProcess("p1", []string{"STOP"})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}

	pc, _, ok := m.ScheduleNext()
	if !ok {
		t.Fatalf("ScheduleNext: expected ok")
	}
	if pc != 0 {
		t.Errorf("pc = %d, want 0", pc)
	}
	if m.CurrentPID() != pid {
		t.Errorf("CurrentPID = %d, want %d", m.CurrentPID(), pid)
	}
}

func TestScheduleNextShutsDownWhenNoWork(t *testing.T) {
	m, posted := newTestManager(t, 64, 4)

	_, _, ok := m.ScheduleNext()
	if ok {
		t.Fatalf("ScheduleNext: expected !ok with no processes")
	}
	if len(*posted) != 1 || (*posted)[0].Kind != interrupt.EShutdown {
		t.Fatalf("posted = %+v, want one EShutdown", *posted)
	}
}

func TestCPUScheduleNextBlocksAndUnblocks(t *testing.T) {
	m, _ := newTestManager(t, 64, 4)
	pidA, _ := m.CreateProcess("a", []string{"STOP"})
	_, _ = m.CreateProcess("b", []string{"STOP"})

	// Run a first.
	if _, _, ok := m.ScheduleNext(); !ok {
		t.Fatalf("ScheduleNext: expected ok")
	}
	if m.CurrentPID() != pidA {
		t.Fatalf("CurrentPID = %d, want %d", m.CurrentPID(), pidA)
	}

	// a blocks on IO; b should run next.
	var regs [10]int
	_, _, ok := m.CPUScheduleNext(0, regs, true, true)
	if !ok {
		t.Fatalf("CPUScheduleNext: expected ok")
	}
	if m.CurrentPID() == pidA {
		t.Fatalf("blocked process resumed immediately")
	}

	// Unblocking a should put it back on the ready queue.
	m.Unblock(pidA)
	views := m.Snapshot()
	var found bool
	for _, v := range views {
		if v.PID == pidA {
			found = true
			if v.State != Ready {
				t.Errorf("pid %d state = %v, want READY after unblock", pidA, v.State)
			}
		}
	}
	if !found {
		t.Fatalf("pid %d missing from snapshot", pidA)
	}
}

func TestEndBlockedEndsOnlyTheNamedProcessAndLeavesCurrentAlone(t *testing.T) {
	m, _ := newTestManager(t, 64, 4)
	pidA, _ := m.CreateProcess("a", []string{"STOP"})
	pidB, _ := m.CreateProcess("b", []string{"STOP"})

	var regs [10]int

	// a runs first; put it back on ready so b can become current.
	if _, _, ok := m.ScheduleNext(); !ok {
		t.Fatalf("ScheduleNext: expected ok")
	}
	if m.CurrentPID() != pidA {
		t.Fatalf("CurrentPID = %d, want %d", m.CurrentPID(), pidA)
	}
	if _, _, ok := m.CPUScheduleNext(0, regs, false, false); !ok {
		t.Fatalf("CPUScheduleNext: expected ok")
	}
	if m.CurrentPID() != pidB {
		t.Fatalf("CurrentPID = %d, want %d", m.CurrentPID(), pidB)
	}

	// b blocks on IO; a (now back on ready) should run next.
	if _, _, ok := m.CPUScheduleNext(0, regs, true, true); !ok {
		t.Fatalf("CPUScheduleNext: expected ok")
	}
	if m.CurrentPID() != pidA {
		t.Fatalf("CurrentPID = %d, want %d after b blocks", m.CurrentPID(), pidA)
	}

	m.EndBlocked(pidB)

	if m.CurrentPID() != pidA {
		t.Fatalf("CurrentPID changed to %d after ending blocked pid %d", m.CurrentPID(), pidB)
	}

	views := m.Snapshot()
	var sawEnded bool
	for _, v := range views {
		if v.PID == pidB {
			sawEnded = true
			if v.State != Ended {
				t.Errorf("pid %d state = %v, want Ended", pidB, v.State)
			}
		}
		if v.PID == pidA && v.State != Running {
			t.Errorf("pid %d (current) state = %v, want Running, unaffected by EndBlocked", pidA, v.State)
		}
	}
	if !sawEnded {
		t.Fatalf("pid %d missing from snapshot after EndBlocked", pidB)
	}
}

func TestEndBlockedIgnoresUnknownPID(t *testing.T) {
	m, _ := newTestManager(t, 64, 4)
	pid, _ := m.CreateProcess("a", []string{"STOP"})
	if _, _, ok := m.ScheduleNext(); !ok {
		t.Fatalf("ScheduleNext: expected ok")
	}

	m.EndBlocked(999) // no such PID; must be a silent no-op

	if m.CurrentPID() != pid {
		t.Fatalf("CurrentPID = %d, want %d unaffected", m.CurrentPID(), pid)
	}
}

func TestScheduleNextSpinsIdleProcessWhileBlocked(t *testing.T) {
	m, _ := newTestManager(t, 64, 4)
	_, _ = m.CreateProcess("a", []string{"STOP"})

	if _, _, ok := m.ScheduleNext(); !ok {
		t.Fatalf("ScheduleNext: expected ok")
	}

	var regs [10]int
	_, _, ok := m.CPUScheduleNext(0, regs, true, true)
	if !ok {
		t.Fatalf("CPUScheduleNext: expected an idle process to be scheduled, got shutdown")
	}

	views := m.Snapshot()
	var sawIdle bool
	for _, v := range views {
		if v.Name == "idle" {
			sawIdle = true
		}
	}
	if !sawIdle {
		t.Fatalf("snapshot %+v: expected a synthetic idle process", views)
	}
}

func TestEndCurrentDeallocatesFrames(t *testing.T) {
	m, _ := newTestManager(t, 64, 4)
	pid, _ := m.CreateProcess("a", []string{"STOP"})

	if _, _, ok := m.ScheduleNext(); !ok {
		t.Fatalf("ScheduleNext: expected ok")
	}
	if m.CurrentPID() != pid {
		t.Fatalf("CurrentPID = %d, want %d", m.CurrentPID(), pid)
	}

	if _, _, ok := m.EndCurrent(); ok {
		t.Fatalf("EndCurrent: expected no further work, got ok")
	}

	views := m.Snapshot()
	if len(views) != 1 || views[0].State != Ended {
		t.Fatalf("snapshot = %+v, want one ENDED process", views)
	}

	for _, idx := range m.table[pid].Frames {
		if !m.mem.Frame(idx).Free {
			t.Errorf("frame %d still allocated after EndCurrent", idx)
		}
	}
}

func TestAccessAndSaveAddressBoundary(t *testing.T) {
	m, _ := newTestManager(t, 64, 4)
	_, _ = m.CreateProcess("a", []string{"ADD r1,r2"})
	if _, _, ok := m.ScheduleNext(); !ok {
		t.Fatalf("ScheduleNext: expected ok")
	}

	// Address 0 was allocated at creation.
	if _, err := m.Access(0); err != nil {
		t.Fatalf("Access(0): %v", err)
	}

	// One past the single allocated frame (pageSize=4) is out of range for
	// a plain read.
	if _, err := m.Access(4); err == nil {
		t.Fatalf("Access(4): expected ErrInvalidAddress, got nil")
	}

	// Save at the same address grows the process by one frame instead of
	// failing.
	if err := m.Save(4, word.Instruction{Op: word.OpStop}); err != nil {
		t.Fatalf("Save(4): %v", err)
	}
	if _, err := m.Access(4); err != nil {
		t.Fatalf("Access(4) after growth: %v", err)
	}
}

func TestCreateProcessRejectsInvalidSource(t *testing.T) {
	m, _ := newTestManager(t, 64, 4)
	if _, err := m.CreateProcess("bad", []string{"FROBNICATE r1"}); err == nil {
		t.Fatalf("CreateProcess: expected error for unknown opcode")
	}
}
