// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gaussvol

import "errors"

// ErrTreeRegrown indicates the overlap tree overflowed mid-step. The step
// produced no energy and no forces; capacity has already been raised, so
// the next Compute call on the same positions succeeds. Callers should
// treat the step as skipped, not failed.
var ErrTreeRegrown = errors.New("gaussvol: overlap tree overflowed; capacity regrown, retry the step")

// ErrClosed is returned when using an engine or device context after
// Close.
var ErrClosed = errors.New("gaussvol: closed")

// ErrContextBound is returned when binding a DeviceContext that already
// drives another engine.
var ErrContextBound = errors.New("gaussvol: device context already bound to an engine")

// ErrBackendUnavailable is returned when the requested backend cannot run
// on this host.
var ErrBackendUnavailable = errors.New("gaussvol: backend unavailable")

// ErrPrecisionUnsupported is returned when a backend cannot honor the
// requested precision.
var ErrPrecisionUnsupported = errors.New("gaussvol: precision unsupported by backend")

// ErrPlanDestroyed is returned when transforming with a destroyed FFTPlan.
var ErrPlanDestroyed = errors.New("gaussvol: fft plan destroyed")

// ErrRepeatedOverflow is returned when the overlap tree overflows on too
// many consecutive steps despite regrowing. The system is denser than the
// configured limits can represent.
var ErrRepeatedOverflow = errors.New("gaussvol: overlap tree overflowed on consecutive steps after regrowing")
