// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gaussvol

import (
	"errors"
	"testing"
)

func TestDeviceContextBindsOneEngine(t *testing.T) {
	dc := NewDeviceContext()
	atoms := []Atom{{Radius: 0.15, Gamma: 0.1}}

	e1, err := New(atoms, WithBackend("cpu"), WithDeviceContext(dc))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	if _, err := New(atoms, WithBackend("cpu"), WithDeviceContext(dc)); !errors.Is(err, ErrContextBound) {
		t.Fatalf("second New on bound context = %v, want ErrContextBound", err)
	}

	if err := e1.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	// Closing the engine released the context for the next one.
	e2, err := New(atoms, WithBackend("cpu"), WithDeviceContext(dc))
	if err != nil {
		t.Fatalf("New after release = %v", err)
	}
	e2.Close()

	if err := dc.Close(); err != nil {
		t.Fatalf("context Close() = %v", err)
	}
}

func TestDeviceContextCloseWhileBound(t *testing.T) {
	dc := NewDeviceContext()
	atoms := []Atom{{Radius: 0.15, Gamma: 0.1}}

	eng, err := New(atoms, WithBackend("cpu"), WithDeviceContext(dc))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	if err := dc.Close(); !errors.Is(err, ErrContextBound) {
		t.Fatalf("Close on bound context = %v, want ErrContextBound", err)
	}

	eng.Close()
	if err := dc.Close(); err != nil {
		t.Fatalf("Close after engine release = %v", err)
	}
}

func TestDeviceContextClosedRejectsBinding(t *testing.T) {
	dc := NewDeviceContext()
	if err := dc.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	_, err := New([]Atom{{Radius: 0.15, Gamma: 0.1}}, WithBackend("cpu"), WithDeviceContext(dc))
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("New on closed context = %v, want ErrClosed", err)
	}
}

func TestDeviceContextCloseIdempotent(t *testing.T) {
	dc := NewDeviceContext()
	for i := 0; i < 3; i++ {
		if err := dc.Close(); err != nil {
			t.Fatalf("Close #%d = %v", i+1, err)
		}
	}
}

func TestDeviceContextProvider(t *testing.T) {
	dc := NewDeviceContext()
	defer dc.Close()

	if p := dc.Provider(); p != nil {
		t.Errorf("Provider() = %v on fresh context, want nil", p)
	}

	type fakeDevice struct{ id int }
	dev := &fakeDevice{id: 7}
	dc.SetProvider(dev)

	got, ok := dc.Provider().(*fakeDevice)
	if !ok || got.id != 7 {
		t.Errorf("Provider() = %v, want the attached device", dc.Provider())
	}
}

func TestDeviceContextPlanCache(t *testing.T) {
	dc := NewDeviceContext()
	defer dc.Close()

	p1, err := dc.FFTPlan(8, 8, 8)
	if err != nil {
		t.Fatalf("FFTPlan() = %v", err)
	}
	p2, err := dc.FFTPlan(8, 8, 8)
	if err != nil {
		t.Fatalf("FFTPlan() = %v", err)
	}
	if p1 != p2 {
		t.Error("same grid should return the cached plan")
	}

	p3, err := dc.FFTPlan(8, 8, 4)
	if err != nil {
		t.Fatalf("FFTPlan() = %v", err)
	}
	if p3 == p1 {
		t.Error("different grid should create a distinct plan")
	}

	// Plans are per-context, not global.
	other := NewDeviceContext()
	defer other.Close()
	p4, err := other.FFTPlan(8, 8, 8)
	if err != nil {
		t.Fatalf("FFTPlan() = %v", err)
	}
	if p4 == p1 {
		t.Error("sibling contexts must not share plan instances")
	}
}

func TestDeviceContextPlanValidation(t *testing.T) {
	dc := NewDeviceContext()
	defer dc.Close()

	for _, grid := range [][3]int{{0, 4, 4}, {4, 0, 4}, {4, 4, 0}, {-1, 2, 2}} {
		if _, err := dc.FFTPlan(grid[0], grid[1], grid[2]); err == nil {
			t.Errorf("FFTPlan(%v) should reject a degenerate grid", grid)
		}
	}
}

func TestDeviceContextCloseDestroysPlans(t *testing.T) {
	dc := NewDeviceContext()

	plan, err := dc.FFTPlan(4, 4, 4)
	if err != nil {
		t.Fatalf("FFTPlan() = %v", err)
	}
	if err := dc.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	data := make([]complex128, plan.Size())
	if err := plan.Forward(data); !errors.Is(err, ErrPlanDestroyed) {
		t.Errorf("Forward on destroyed plan = %v, want ErrPlanDestroyed", err)
	}

	if _, err := dc.FFTPlan(4, 4, 4); !errors.Is(err, ErrClosed) {
		t.Errorf("FFTPlan on closed context = %v, want ErrClosed", err)
	}
}
