package ioworker

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eduvm/corevm/internal/interrupt"
)

var errFakeInvalidAddress = errors.New("fake: invalid address")

type fakeTranslator struct {
	mu      sync.Mutex
	cells   map[int]map[int]int // pid -> relAddr -> value
	failAll bool
}

func newFakeTranslator() *fakeTranslator {
	return &fakeTranslator{cells: make(map[int]map[int]int)}
}

func (f *fakeTranslator) AccessFor(pid, relAddr int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return 0, errFakeInvalidAddress
	}
	return f.cells[pid][relAddr], nil
}

func (f *fakeTranslator) SaveFor(pid, relAddr, value int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errFakeInvalidAddress
	}
	if f.cells[pid] == nil {
		f.cells[pid] = make(map[int]int)
	}
	f.cells[pid][relAddr] = value
	return nil
}

func runWorker(t *testing.T, trans *fakeTranslator, in string, out *bytes.Buffer) (*Worker, chan interrupt.Interrupt, func()) {
	t.Helper()
	posted := make(chan interrupt.Interrupt, 8)
	w := New(trans, strings.NewReader(in), out, func(i interrupt.Interrupt) {
		posted <- i
	})
	done := make(chan struct{})
	go w.Run(done)
	return w, posted, func() { close(done) }
}

func TestWorkerHandlesOut(t *testing.T) {
	trans := newFakeTranslator()
	trans.SaveFor(1, 5, 42)
	var out bytes.Buffer

	w, posted, stop := runWorker(t, trans, "", &out)
	defer stop()

	w.Submit(Request{PID: 1, Syscall: SyscallOut, Addr: 5})

	select {
	case i := <-posted:
		if i.Kind != interrupt.EIOOperationComplete || i.Err != nil {
			t.Fatalf("posted = %+v", i)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}

	if strings.TrimSpace(out.String()) != "42" {
		t.Errorf("out = %q, want 42", out.String())
	}
}

func TestWorkerHandlesIn(t *testing.T) {
	trans := newFakeTranslator()
	var out bytes.Buffer

	w, posted, stop := runWorker(t, trans, "7\n", &out)
	defer stop()

	w.Submit(Request{PID: 2, Syscall: SyscallIn, Addr: 9})

	select {
	case i := <-posted:
		if i.Kind != interrupt.EIOOperationComplete || i.Err != nil {
			t.Fatalf("posted = %+v", i)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}

	v, _ := trans.AccessFor(2, 9)
	if v != 7 {
		t.Errorf("saved value = %d, want 7", v)
	}
}

func TestWorkerRejectsBadSyscall(t *testing.T) {
	trans := newFakeTranslator()
	var out bytes.Buffer

	w, posted, stop := runWorker(t, trans, "", &out)
	defer stop()

	w.Submit(Request{PID: 3, Syscall: 99})

	select {
	case i := <-posted:
		if i.Err == nil {
			t.Fatalf("posted = %+v, want error", i)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestWorkerRejectsNonIntegerInput(t *testing.T) {
	trans := newFakeTranslator()
	var out bytes.Buffer

	w, posted, stop := runWorker(t, trans, "not-a-number\n", &out)
	defer stop()

	w.Submit(Request{PID: 4, Syscall: SyscallIn, Addr: 0})

	select {
	case i := <-posted:
		if i.Err == nil {
			t.Fatalf("posted = %+v, want error", i)
		}
		if !errors.Is(i.Err, ErrBadSyscall) {
			t.Errorf("err = %v, want ErrBadSyscall", i.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestWorkerWrapsSaveFailureAsBadAddress(t *testing.T) {
	trans := newFakeTranslator()
	trans.failAll = true
	var out bytes.Buffer

	w, posted, stop := runWorker(t, trans, "7\n", &out)
	defer stop()

	w.Submit(Request{PID: 5, Syscall: SyscallIn, Addr: 0})

	select {
	case i := <-posted:
		if !errors.Is(i.Err, ErrBadAddress) {
			t.Fatalf("err = %v, want ErrBadAddress", i.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestWorkerWrapsAccessFailureAsBadAddress(t *testing.T) {
	trans := newFakeTranslator()
	trans.failAll = true
	var out bytes.Buffer

	w, posted, stop := runWorker(t, trans, "", &out)
	defer stop()

	w.Submit(Request{PID: 6, Syscall: SyscallOut, Addr: 0})

	select {
	case i := <-posted:
		if !errors.Is(i.Err, ErrBadAddress) {
			t.Fatalf("err = %v, want ErrBadAddress", i.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestRequestQueueFIFOAndUnbounded(t *testing.T) {
	var q reqQueue

	const n = 5000
	for i := 0; i < n; i++ {
		q.push(Request{PID: i})
	}

	for i := 0; i < n; i++ {
		r, ok := q.pop()
		if !ok {
			t.Fatalf("pop %d: queue closed early", i)
		}
		if r.PID != i {
			t.Fatalf("pop %d: PID = %d, want %d", i, r.PID, i)
		}
	}

	q.close()
	if _, ok := q.pop(); ok {
		t.Error("pop after close on empty queue should report ok=false")
	}
}

func TestRequestQueuePopBlocksUntilPush(t *testing.T) {
	var q reqQueue
	done := make(chan Request, 1)
	go func() {
		r, ok := q.pop()
		if ok {
			done <- r
		}
	}()

	select {
	case <-done:
		t.Fatal("pop returned before any push")
	case <-time.After(50 * time.Millisecond):
	}

	q.push(Request{PID: 42})

	select {
	case r := <-done:
		if r.PID != 42 {
			t.Errorf("PID = %d, want 42", r.PID)
		}
	case <-time.After(time.Second):
		t.Fatal("pop never woke up after push")
	}
}
