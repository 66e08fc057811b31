// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

// Package gpu registers the wgpu compute backend for GPU-accelerated
// overlap trees.
//
// Import this package to make the "wgpu" backend selectable; engines
// created without an explicit backend name then prefer it whenever a
// Vulkan device is available:
//
//	import _ "github.com/gogpu/gaussvol/gpu"
//
// If no usable adapter exists the backend reports unavailable at engine
// creation and the engine falls back to the CPU pipeline.
//
// To share a GPU device with the rest of an application instead of
// opening a dedicated one, attach the host's device handle to a device
// context before creating the engine:
//
//	dc := gaussvol.NewDeviceContext()
//	gpu.ShareDevice(dc, app.GPUContextProvider())
//	eng, err := gaussvol.New(atoms, gaussvol.WithDeviceContext(dc))
//
// Builds tagged nogpu drop the backend and every device dependency.
package gpu

import (
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/gaussvol"
	gpuimpl "github.com/gogpu/gaussvol/internal/gpu"
)

// DeviceHandle provides GPU device access from a host application.
//
// The host owns the device; the backend receives it and never destroys
// it. Handles that additionally expose direct HAL access through
// HalDevice() and HalQueue() methods let the backend dispatch on the
// shared device; a handle without HAL access falls back to a standalone
// device.
//
// DeviceHandle is an alias for gpucontext.DeviceProvider, giving the
// interface a package-local name while staying compatible with the
// gpucontext ecosystem.
type DeviceHandle = gpucontext.DeviceProvider

// ShareDevice attaches a host device handle to a device context. Engines
// created with the context pick the shared device up during backend
// setup. Call it before the first Compute.
func ShareDevice(dc *gaussvol.DeviceContext, h DeviceHandle) {
	dc.SetProvider(h)
}

func init() {
	err := gaussvol.RegisterBackend(gpuimpl.BackendName,
		func(dc *gaussvol.DeviceContext) (gaussvol.Backend, error) {
			return gpuimpl.New(dc)
		})
	if err != nil {
		gaussvol.Logger().Warn("wgpu backend not registered", "err", err)
	}
}
