package memory

import (
	"errors"
	"testing"

	"github.com/eduvm/corevm/internal/word"
)

func TestAllocateZeroesFrames(t *testing.T) {
	m := NewManager(64, 16)

	frames, err := m.Allocate(20, 1)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames for 20 words at page size 16, got %d", len(frames))
	}

	for _, idx := range frames {
		f := m.Frame(idx)
		if f.Free {
			t.Errorf("frame %d should be marked allocated", idx)
		}
		if f.Owner != 1 {
			t.Errorf("frame %d owner = %d, want 1", idx, f.Owner)
		}
		for a := f.Start; a < f.Start+f.Length; a++ {
			cell, err := m.AccessAbsolute(a)
			if err != nil {
				t.Fatalf("AccessAbsolute(%d): %v", a, err)
			}
			if cell.Instr.Op != word.OpEmpty {
				t.Errorf("cell %d not zeroed, got %v", a, cell.Instr)
			}
		}
	}
}

func TestAllocateOutOfMemoryRollsBack(t *testing.T) {
	m := NewManager(32, 16) // 2 frames total

	if _, err := m.Allocate(48, 1); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}

	for i := 0; i < m.NumFrames(); i++ {
		if !m.Frame(i).Free {
			t.Errorf("frame %d should remain free after failed allocation", i)
		}
	}
}

func TestDeallocatePreservesOwnerTag(t *testing.T) {
	m := NewManager(32, 16)

	frames, err := m.Allocate(16, 7)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	m.Deallocate(frames)

	for _, idx := range frames {
		f := m.Frame(idx)
		if !f.Free {
			t.Errorf("frame %d should be free after deallocate", idx)
		}
		if f.Owner != 7 {
			t.Errorf("frame %d owner tag lost: got %d, want 7", idx, f.Owner)
		}
	}
}

func TestAccessSaveBounds(t *testing.T) {
	m := NewManager(16, 16)

	if err := m.SaveAbsolute(15, word.Data(42)); err != nil {
		t.Fatalf("SaveAbsolute at last valid address: %v", err)
	}
	cell, err := m.AccessAbsolute(15)
	if err != nil {
		t.Fatalf("AccessAbsolute at last valid address: %v", err)
	}
	if cell.Instr.DataValue() != 42 {
		t.Errorf("got %d, want 42", cell.Instr.DataValue())
	}

	if _, err := m.AccessAbsolute(16); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress one past the end, got %v", err)
	}
	if err := m.SaveAbsolute(16, word.Data(1)); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress saving one past the end, got %v", err)
	}
}
