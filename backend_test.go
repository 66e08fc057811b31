// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gaussvol

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

// fakeBackend is a scriptable Backend used to exercise engine orchestration
// without real geometry. Step pops results from script; the last entry
// repeats once the script is exhausted.
type fakeBackend struct {
	name      string
	available bool
	ctorErr   error

	mu      sync.Mutex
	setups  int
	resizes int
	steps   int
	updates int
	closes  int
	layout  *TreeLayout
	script  []StepResult
}

func (f *fakeBackend) Name() string    { return f.name }
func (f *fakeBackend) Available() bool { return f.available }

func (f *fakeBackend) Setup(sys *System, layout *TreeLayout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setups++
	f.layout = layout
	return nil
}

func (f *fakeBackend) Step(pos []Vec3, want Want) (StepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps++
	if len(f.script) == 0 {
		return StepResult{}, errors.New("fake backend: empty step script")
	}
	res := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return res, nil
}

func (f *fakeBackend) Resize(layout *TreeLayout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes++
	f.layout = layout
	return nil
}

func (f *fakeBackend) UpdateGammas(gamma1, gamma2 []float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	return nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

// registerFake installs a fake backend constructor and downgrades the name
// to an unavailable stub on cleanup, so auto-selection in later tests still
// falls through to the CPU backend.
func registerFake(t *testing.T, name string, f *fakeBackend) {
	t.Helper()
	ctor := func(dc *DeviceContext) (Backend, error) {
		if f.ctorErr != nil {
			return nil, f.ctorErr
		}
		return f, nil
	}
	if err := RegisterBackend(name, ctor); err != nil {
		t.Fatalf("RegisterBackend(%q) = %v", name, err)
	}
	t.Cleanup(func() {
		RegisterBackend(name, func(dc *DeviceContext) (Backend, error) {
			return &fakeBackend{name: name, available: false}, nil
		})
	})
}

func TestRegisterBackendValidation(t *testing.T) {
	if err := RegisterBackend("", func(dc *DeviceContext) (Backend, error) { return nil, nil }); err == nil {
		t.Error("empty backend name should be rejected")
	}
	if err := RegisterBackend("test-nilctor", nil); err == nil {
		t.Error("nil constructor should be rejected")
	}
}

func TestBackendsListsCPUFirst(t *testing.T) {
	names := Backends()
	if len(names) == 0 || names[0] != "cpu" {
		t.Fatalf("Backends() = %v, want cpu first", names)
	}

	registerFake(t, "test-listed", &fakeBackend{name: "test-listed"})
	found := false
	for _, n := range Backends() {
		if n == "test-listed" {
			found = true
		}
	}
	if !found {
		t.Errorf("Backends() = %v, missing registered test-listed", Backends())
	}
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New([]Atom{{Radius: 0.15, Gamma: 0.1}}, WithBackend("test-no-such"))
	if err == nil || !strings.Contains(err.Error(), "unknown backend") {
		t.Fatalf("New with unknown backend = %v, want unknown backend error", err)
	}
}

func TestNewUnavailableBackend(t *testing.T) {
	registerFake(t, "test-unavail", &fakeBackend{name: "test-unavail", available: false})

	_, err := New([]Atom{{Radius: 0.15, Gamma: 0.1}}, WithBackend("test-unavail"))
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("New with unavailable backend = %v, want ErrBackendUnavailable", err)
	}
}

func TestNewBackendConstructorError(t *testing.T) {
	ctorErr := errors.New("device init failed")
	registerFake(t, "test-ctorerr", &fakeBackend{name: "test-ctorerr", ctorErr: ctorErr})

	_, err := New([]Atom{{Radius: 0.15, Gamma: 0.1}}, WithBackend("test-ctorerr"))
	if !errors.Is(err, ctorErr) {
		t.Fatalf("New = %v, want constructor error", err)
	}
}

func TestEngineExplicitBackend(t *testing.T) {
	fake := &fakeBackend{
		name:      "test-stub",
		available: true,
		script: []StepResult{{
			Energy: 3.25,
			Volume: 1.5,
			Forces: []Vec3{{X: 0.1}},
			Stats:  Stats{Sections: 1, Capacity: 64, Used: 1},
		}},
	}
	registerFake(t, "test-stub", fake)

	eng, err := New([]Atom{{Radius: 0.15, Gamma: 0.1}}, WithBackend("test-stub"))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if eng.BackendName() != "test-stub" {
		t.Fatalf("BackendName() = %q, want test-stub", eng.BackendName())
	}

	res, err := eng.Compute([]Vec3{{}}, WantEnergy|WantForces)
	if err != nil {
		t.Fatalf("Compute() = %v", err)
	}
	if res.Energy != 3.25 || res.Volume != 1.5 {
		t.Errorf("Result = %+v, want scripted energy 3.25, volume 1.5", res)
	}
	if len(res.Forces) != 1 || res.Forces[0].X != 0.1 {
		t.Errorf("Forces = %v, want scripted forces", res.Forces)
	}
	// SurfaceArea derives from the common gamma.
	if want := 3.25 / 0.1; res.SurfaceArea != want {
		t.Errorf("SurfaceArea = %v, want %v", res.SurfaceArea, want)
	}
	if fake.setups != 1 {
		t.Errorf("setups = %d, want 1 (lazy, on first Compute)", fake.setups)
	}

	// Second step reuses the allocated state.
	if _, err := eng.Compute([]Vec3{{}}, WantEnergy); err != nil {
		t.Fatalf("second Compute() = %v", err)
	}
	if fake.setups != 1 || fake.steps != 2 {
		t.Errorf("setups=%d steps=%d, want setup once and step twice", fake.setups, fake.steps)
	}

	if err := eng.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if fake.closes != 1 {
		t.Errorf("closes = %d, want 1", fake.closes)
	}
}

func TestEngineEnergyOnlySkipsForces(t *testing.T) {
	fake := &fakeBackend{
		name:      "test-wantmask",
		available: true,
		script: []StepResult{{
			Energy: 1.0,
			Forces: []Vec3{{X: 0.5}},
		}},
	}
	registerFake(t, "test-wantmask", fake)

	eng, err := New([]Atom{{Radius: 0.15, Gamma: 0.1}}, WithBackend("test-wantmask"))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	defer eng.Close()

	res, err := eng.Compute([]Vec3{{}}, WantEnergy)
	if err != nil {
		t.Fatalf("Compute() = %v", err)
	}
	if res.Forces != nil {
		t.Errorf("Forces = %v, want nil when only energy requested", res.Forces)
	}

	// A zero want mask defaults to energy.
	res, err = eng.Compute([]Vec3{{}}, 0)
	if err != nil {
		t.Fatalf("Compute(want=0) = %v", err)
	}
	if res.Forces != nil {
		t.Errorf("Forces = %v, want nil for default want", res.Forces)
	}
}

func TestEngineRegrowOrchestration(t *testing.T) {
	fake := &fakeBackend{
		name:      "test-regrow",
		available: true,
		script: []StepResult{
			{Overflow: true, Counts: []int{5}},
			{Energy: 2.0, Stats: Stats{Sections: 1, Capacity: 128, Used: 7}},
		},
	}
	registerFake(t, "test-regrow", fake)

	eng, err := New([]Atom{{Radius: 0.15, Gamma: 0.1}}, WithBackend("test-regrow"))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	defer eng.Close()

	pos := []Vec3{{}}
	_, err = eng.Compute(pos, WantEnergy)
	if !errors.Is(err, ErrTreeRegrown) {
		t.Fatalf("overflowed Compute = %v, want ErrTreeRegrown", err)
	}
	if fake.resizes != 1 {
		t.Fatalf("resizes = %d, want 1 after overflow", fake.resizes)
	}

	res, err := eng.Compute(pos, WantEnergy)
	if err != nil {
		t.Fatalf("retry Compute = %v", err)
	}
	if res.Energy != 2.0 {
		t.Errorf("retry Energy = %v, want 2.0", res.Energy)
	}
	if got := eng.Stats().Regrows; got != 1 {
		t.Errorf("Stats().Regrows = %d, want 1", got)
	}
}

func TestEngineRepeatedOverflow(t *testing.T) {
	fake := &fakeBackend{
		name:      "test-overflow-loop",
		available: true,
		script:    []StepResult{{Overflow: true, Counts: []int{3}}},
	}
	registerFake(t, "test-overflow-loop", fake)

	eng, err := New([]Atom{{Radius: 0.15, Gamma: 0.1}}, WithBackend("test-overflow-loop"))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	defer eng.Close()

	pos := []Vec3{{}}
	for i := 0; i < 2; i++ {
		if _, err := eng.Compute(pos, WantEnergy); !errors.Is(err, ErrTreeRegrown) {
			t.Fatalf("Compute %d = %v, want ErrTreeRegrown", i+1, err)
		}
	}
	if _, err := eng.Compute(pos, WantEnergy); !errors.Is(err, ErrRepeatedOverflow) {
		t.Fatalf("third overflowed Compute = %v, want ErrRepeatedOverflow", err)
	}
	if fake.resizes != 2 {
		t.Errorf("resizes = %d, want 2 (no regrow once the retry bound trips)", fake.resizes)
	}
}

func TestEngineUpdateGammasReachesBackend(t *testing.T) {
	fake := &fakeBackend{
		name:      "test-gammas",
		available: true,
		script:    []StepResult{{Energy: 1.0}},
	}
	registerFake(t, "test-gammas", fake)

	atoms := []Atom{{Radius: 0.15, Gamma: 0.1}}
	eng, err := New(atoms, WithBackend("test-gammas"))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	defer eng.Close()

	// Before the first Compute nothing is allocated; the update must not
	// touch the backend.
	if err := eng.UpdateParameters([]Atom{{Radius: 0.15, Gamma: 0.2}}); err != nil {
		t.Fatalf("UpdateParameters() = %v", err)
	}
	if fake.updates != 0 {
		t.Errorf("updates = %d before first Compute, want 0", fake.updates)
	}

	if _, err := eng.Compute([]Vec3{{}}, WantEnergy); err != nil {
		t.Fatalf("Compute() = %v", err)
	}
	if err := eng.UpdateParameters([]Atom{{Radius: 0.15, Gamma: 0.3}}); err != nil {
		t.Fatalf("UpdateParameters() = %v", err)
	}
	if fake.updates != 1 {
		t.Errorf("updates = %d after Compute, want 1", fake.updates)
	}
}

func TestAutoSelectFallsBackToCPU(t *testing.T) {
	// All registered fakes are unavailable by the time this runs, so
	// auto-selection must land on the built-in CPU backend.
	eng, err := New([]Atom{{Radius: 0.15, Gamma: 0.1}})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	defer eng.Close()
	if eng.BackendName() != "cpu" {
		t.Errorf("BackendName() = %q, want cpu", eng.BackendName())
	}
}
