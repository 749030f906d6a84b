//go:build !gpu

package device

import "unsafe"

// Runtime is a placeholder when GPU support is not compiled.
type Runtime struct {
	Platform PlatformInfo
	Device   DeviceInfo
}

// Open returns ErrNotBuilt when GPU support is not compiled in.
func Open(Selection) (*Runtime, error) {
	return nil, ErrNotBuilt
}

// ContextPtr is nil without GPU support.
func (r *Runtime) ContextPtr() unsafe.Pointer { return nil }

// QueuePtr is nil without GPU support.
func (r *Runtime) QueuePtr() unsafe.Pointer { return nil }

// DevicePtr is nil without GPU support.
func (r *Runtime) DevicePtr() unsafe.Pointer { return nil }

// Close is a no-op without GPU support.
func (r *Runtime) Close() {}

// EnumeratePlatforms returns ErrNotBuilt when GPU support is not compiled in.
func EnumeratePlatforms() ([]PlatformInfo, error) {
	return nil, ErrNotBuilt
}

// Built reports whether OpenCL support is compiled in.
func Built() bool { return false }
