// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gaussvol

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DeviceContext owns per-device shared state: an optional native device
// provider consumed by GPU backends and the cache of FFT plans shared by
// sibling force terms in one simulation.
//
// A context drives at most one engine at a time; binding a busy context
// fails with ErrContextBound. The context outlives the engines it serves
// and is closed exactly once by whoever created it, which keeps every
// resource single-owned.
type DeviceContext struct {
	inUse atomic.Bool

	mu       sync.Mutex
	closed   bool
	provider any
	plans    map[[3]int]*FFTPlan
}

// NewDeviceContext creates an empty context. Without a provider, GPU
// backends bound through it open their own device.
func NewDeviceContext() *DeviceContext {
	return &DeviceContext{plans: make(map[[3]int]*FFTPlan)}
}

// SetProvider attaches an externally owned native device. GPU backends
// consume it by duck typing; the context never closes an external device.
func (dc *DeviceContext) SetProvider(p any) {
	dc.mu.Lock()
	dc.provider = p
	dc.mu.Unlock()
}

// Provider returns the attached native device, or nil.
func (dc *DeviceContext) Provider() any {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.provider
}

// FFTPlan returns the cached plan for an nx×ny×nz grid, creating it on
// first use.
func (dc *DeviceContext) FFTPlan(nx, ny, nz int) (*FFTPlan, error) {
	if nx < 1 || ny < 1 || nz < 1 {
		return nil, fmt.Errorf("gaussvol: invalid fft grid %dx%dx%d", nx, ny, nz)
	}
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.closed {
		return nil, ErrClosed
	}
	key := [3]int{nx, ny, nz}
	if p, ok := dc.plans[key]; ok {
		return p, nil
	}
	p := newFFTPlan(nx, ny, nz)
	dc.plans[key] = p
	return p, nil
}

// acquire claims the context for one engine.
func (dc *DeviceContext) acquire() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.closed {
		return ErrClosed
	}
	if !dc.inUse.CompareAndSwap(false, true) {
		return ErrContextBound
	}
	return nil
}

// release returns the context to the unbound state.
func (dc *DeviceContext) release() {
	dc.inUse.Store(false)
}

// Close destroys every cached FFT plan and marks the context unusable.
// Close is idempotent. Closing a context still bound to an engine fails
// with ErrContextBound; close the engine first.
func (dc *DeviceContext) Close() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.closed {
		return nil
	}
	if dc.inUse.Load() {
		return ErrContextBound
	}
	for _, p := range dc.plans {
		p.Destroy()
	}
	dc.plans = nil
	dc.provider = nil
	dc.closed = true
	return nil
}
