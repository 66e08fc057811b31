// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package gpu

import (
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/gaussvol"
)

// hostHandle is a minimal host-side device handle.
type hostHandle struct{}

func (hostHandle) Device() gpucontext.Device   { return nil }
func (hostHandle) Queue() gpucontext.Queue     { return nil }
func (hostHandle) Adapter() gpucontext.Adapter { return nil }
func (hostHandle) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatBGRA8Unorm
}

// Ensure hostHandle implements DeviceHandle.
var _ DeviceHandle = hostHandle{}

func TestImportRegistersWgpuBackend(t *testing.T) {
	for _, name := range gaussvol.Backends() {
		if name == "wgpu" {
			return
		}
	}
	t.Fatalf("Backends() = %v, want to include wgpu", gaussvol.Backends())
}

func TestShareDevice(t *testing.T) {
	dc := gaussvol.NewDeviceContext()
	defer dc.Close()

	h := hostHandle{}
	ShareDevice(dc, h)

	got, ok := dc.Provider().(DeviceHandle)
	if !ok {
		t.Fatalf("Provider() = %T, want DeviceHandle", dc.Provider())
	}
	if got != DeviceHandle(h) {
		t.Fatalf("Provider() = %v, want the shared handle", got)
	}
}
