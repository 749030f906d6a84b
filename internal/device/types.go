// Package device describes compute devices and their capabilities, and
// enumerates OpenCL platforms when built with the gpu tag.
package device

import "fmt"

// DeviceType describes the class of an OpenCL device.
type DeviceType string

const (
	DeviceTypeGPU         DeviceType = "GPU"
	DeviceTypeCPU         DeviceType = "CPU"
	DeviceTypeAccelerator DeviceType = "Accelerator"
	DeviceTypeDefault     DeviceType = "Default"
	DeviceTypeUnknown     DeviceType = "Unknown"
)

// Capability holds the limits that drive buffer sizing and sweeps. It is
// queried once per device and never changes afterwards.
type Capability struct {
	MaxAllocBytes    uint64 `json:"maxAllocBytes"`
	TotalMemoryBytes uint64 `json:"totalMemoryBytes"`
	CacheLineBytes   uint64 `json:"cacheLineBytes"`
	ComputeUnits     uint64 `json:"computeUnits"`
	MaxWorkGroupSize uint64 `json:"maxWorkGroupSize"`
	DoublePrecision  bool   `json:"doublePrecision"`
}

// DeviceInfo captures metadata about a device.
type DeviceInfo struct {
	Name       string     `json:"name"`
	Vendor     string     `json:"vendor"`
	Version    string     `json:"version"`
	Type       DeviceType `json:"type"`
	Capability Capability `json:"capability"`
}

// String returns "Name (Vendor)".
func (d DeviceInfo) String() string {
	if d.Vendor == "" {
		return d.Name
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.Vendor)
}

// PlatformInfo captures metadata about a platform and its devices.
type PlatformInfo struct {
	Name    string       `json:"name"`
	Vendor  string       `json:"vendor"`
	Version string       `json:"version"`
	Devices []DeviceInfo `json:"devices"`
}
