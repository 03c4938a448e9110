package vm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func asmPath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("..", "..", "testdata", "asm", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("fixture %s not found: %v", name, err)
	}
	return path
}

func TestFibonacciEndToEnd(t *testing.T) {
	v := New(Config{})
	pid, err := v.LoadFile(asmPath(t, "fibonacci.asm"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	v.RunToHalt()

	want := map[int]int{50: 0, 51: 1, 58: 21, 59: 34}
	for addr, wantV := range want {
		got, err := v.Access(pid, addr)
		if err != nil {
			t.Fatalf("Access(%d): %v", addr, err)
		}
		if got != wantV {
			t.Errorf("cell %d = %d, want %d", addr, got, wantV)
		}
	}
}

func TestParameterizedFibonacciEndToEnd(t *testing.T) {
	v := New(Config{})
	pid, err := v.LoadFile(asmPath(t, "p2.asm"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	v.RunToHalt()

	const n, base = 5, 70
	fib := []int{0, 1, 1, 2, 3}

	got, err := v.Access(pid, base)
	if err != nil {
		t.Fatalf("Access(base): %v", err)
	}
	if got != n {
		t.Errorf("access(base) = %d, want %d", got, n)
	}

	for i := 0; i < n; i++ {
		got, err := v.Access(pid, base+1+i)
		if err != nil {
			t.Fatalf("Access(base+1+%d): %v", i, err)
		}
		if got != fib[i] {
			t.Errorf("F(%d) = %d, want %d", i, got, fib[i])
		}
	}
}

func TestFactorialEndToEnd(t *testing.T) {
	v := New(Config{})
	pid, err := v.LoadFile(asmPath(t, "p3.asm"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	v.RunToHalt()

	got, err := v.Access(pid, 50)
	if err != nil {
		t.Fatalf("Access: %v", err)
	}
	if got != 120 {
		t.Errorf("5! = %d, want 120", got)
	}
}

// TestFactorialTrapsMultipleProcesses loads five instances of the
// trap-driven factorial program against a shared input stream, mirroring
// the concurrent-instances scenario: each process should read a distinct
// value off the stream and land on a distinct factorial.
func TestFactorialTrapsMultipleProcesses(t *testing.T) {
	in := strings.NewReader("5\n4\n3\n2\n1\n")
	v := New(Config{In: in})

	pids := make([]int, 5)
	for i := range pids {
		pid, err := v.LoadFile(asmPath(t, "p3_traps.asm"))
		if err != nil {
			t.Fatalf("LoadFile #%d: %v", i, err)
		}
		pids[i] = pid
	}
	v.RunToHalt()

	want := map[int]bool{120: true, 24: true, 6: true, 2: true, 1: true}
	seen := make(map[int]int)
	for _, pid := range pids {
		got, err := v.Access(pid, 50)
		if err != nil {
			t.Fatalf("Access(pid %d): %v", pid, err)
		}
		if !want[got] {
			t.Errorf("pid %d result %d not in expected set {120,24,6,2,1}", pid, got)
		}
		seen[got]++
	}
	for v, count := range seen {
		if count != 1 {
			t.Errorf("result %d produced by %d processes, want exactly 1", v, count)
		}
	}
	if len(seen) != 5 {
		t.Errorf("got %d distinct results, want 5", len(seen))
	}
}

func TestBubbleSortEndToEnd(t *testing.T) {
	v := New(Config{})
	pid, err := v.LoadFile(asmPath(t, "p4.asm"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	v.RunToHalt()

	unsorted := []int{
		73, 29, 8, 82, 199, 62, 164, 182, 29, 197,
		38, 2, 186, 192, 35, 18, 122, 138, 181, 195,
		86, 174, 75, 135, 7, 12, 33, 67, 62, 133,
		55, 104, 78, 84, 91, 121, 73, 178, 117, 109,
		4, 163, 11, 182, 54, 77, 107, 197, 81, 100,
	}
	want := append([]int(nil), unsorted...)
	sort.Ints(want)

	for i, w := range want {
		got, err := v.Access(pid, 300+i)
		if err != nil {
			t.Fatalf("Access(%d): %v", 300+i, err)
		}
		if got != w {
			t.Fatalf("cell %d = %d, want %d (sorted index %d)", 300+i, got, w, i)
		}
	}
}

// TestMultipleInstancesIndependent loads three instances of the same
// unparameterized fibonacci program and checks each ends up with its own
// correct, non-interfering results -- the independent-address-space
// property every scenario above already exercises once, exercised here
// explicitly across concurrently-scheduled processes.
func TestMultipleInstancesIndependent(t *testing.T) {
	v := New(Config{})
	pids := make([]int, 3)
	for i := range pids {
		pid, err := v.Load(fmt.Sprintf("fib%d", i), mustReadLines(t, asmPath(t, "fibonacci.asm")))
		if err != nil {
			t.Fatalf("Load #%d: %v", i, err)
		}
		pids[i] = pid
	}
	v.RunToHalt()

	for _, pid := range pids {
		got, err := v.Access(pid, 59)
		if err != nil {
			t.Fatalf("Access(pid %d, 59): %v", pid, err)
		}
		if got != 34 {
			t.Errorf("pid %d: cell 59 = %d, want 34", pid, got)
		}
	}
}

func mustReadLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return strings.Split(strings.TrimRight(string(b), "\n"), "\n")
}

// TestPreemptionFairness runs three long-lived processes under a small
// quantum and checks that none of them ever gets more than quantum+1
// consecutive instructions before another ready process gets a turn.
func TestPreemptionFairness(t *testing.T) {
	const quantum = 5
	v := New(Config{Quantum: quantum})

	looper := []string{
		"LDI r1,0",
		"ADDI r1,1",
		"JMP 1",
	}
	for i := 0; i < 3; i++ {
		if _, err := v.Load(fmt.Sprintf("looper%d", i), looper); err != nil {
			t.Fatalf("Load #%d: %v", i, err)
		}
	}
	v.ensurePrimed()

	lastPID := -1
	run := 0
	maxRun := 0
	for step := 0; step < 500; step++ {
		cur := v.proc.CurrentPID()
		if cur == lastPID {
			run++
		} else {
			run = 1
			lastPID = cur
		}
		if run > maxRun {
			maxRun = run
		}
		v.cpu.Step()
	}

	if maxRun > quantum+1 {
		t.Errorf("a process ran %d consecutive instructions, want at most %d", maxRun, quantum+1)
	}
}
