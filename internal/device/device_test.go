package device

import (
	"errors"
	"testing"
)

func platforms() []PlatformInfo {
	return []PlatformInfo{
		{Name: "empty"},
		{
			Name: "cpu-only",
			Devices: []DeviceInfo{
				{Name: "accel", Type: DeviceTypeAccelerator},
				{Name: "cpu", Type: DeviceTypeCPU},
			},
		},
		{
			Name: "mixed",
			Devices: []DeviceInfo{
				{Name: "cpu2", Type: DeviceTypeCPU},
				{Name: "gpu", Type: DeviceTypeGPU},
			},
		},
	}
}

func TestSelectAutoPrefersGPU(t *testing.T) {
	p, d, err := Select(platforms(), AutoSelection())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if p != 2 || d != 1 {
		t.Errorf("Expected platform 2 device 1, got %d/%d", p, d)
	}
}

func TestSelectAutoFallsBackToCPU(t *testing.T) {
	ps := platforms()[:2]
	p, d, err := Select(ps, AutoSelection())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if p != 1 || d != 1 {
		t.Errorf("Expected platform 1 device 1, got %d/%d", p, d)
	}
}

func TestSelectAutoFallsBackToFirstDevice(t *testing.T) {
	ps := []PlatformInfo{
		{Name: "none"},
		{Devices: []DeviceInfo{{Name: "fpga", Type: DeviceTypeAccelerator}}},
	}
	p, d, err := Select(ps, AutoSelection())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if p != 1 || d != 0 {
		t.Errorf("Expected platform 1 device 0, got %d/%d", p, d)
	}
}

func TestSelectExplicit(t *testing.T) {
	p, d, err := Select(platforms(), Selection{Platform: 2, Device: 0})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if p != 2 || d != 0 {
		t.Errorf("Expected platform 2 device 0, got %d/%d", p, d)
	}

	// Platform given, device left to the preference order.
	_, d, err = Select(platforms(), Selection{Platform: 1, Device: Auto})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if d != 1 {
		t.Errorf("Expected the CPU at index 1, got %d", d)
	}
}

func TestSelectErrors(t *testing.T) {
	tests := []struct {
		name      string
		platforms []PlatformInfo
		sel       Selection
		want      error
	}{
		{"no platforms", nil, AutoSelection(), ErrNoDevices},
		{"no devices anywhere", []PlatformInfo{{Name: "empty"}}, AutoSelection(), ErrNoDevices},
		{"platform out of range", platforms(), Selection{Platform: 3, Device: 0}, ErrInvalidSelection},
		{"negative platform", platforms(), Selection{Platform: -2, Device: 0}, ErrInvalidSelection},
		{"device out of range", platforms(), Selection{Platform: 1, Device: 2}, ErrInvalidSelection},
		{"platform without devices", platforms(), Selection{Platform: 0, Device: 0}, ErrInvalidSelection},
		{"device without platform", platforms(), Selection{Platform: Auto, Device: 1}, ErrInvalidSelection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Select(tt.platforms, tt.sel)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestStatusErrorNames(t *testing.T) {
	err := NewStatusError("clEnqueueNDRangeKernel", CLInvalidWorkGroupSize)
	want := "clEnqueueNDRangeKernel: CL_INVALID_WORK_GROUP_SIZE (-54)"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}

	if got := StatusName(-1001); got != "CL_PLATFORM_NOT_FOUND_KHR" {
		t.Errorf("Expected CL_PLATFORM_NOT_FOUND_KHR, got %s", got)
	}
	if got := StatusName(-999); got != "CL_UNKNOWN_ERROR" {
		t.Errorf("Expected CL_UNKNOWN_ERROR, got %s", got)
	}
}

func TestStatusErrorIs(t *testing.T) {
	var err error = NewStatusError("clFinish", CLOutOfResources)

	if !errors.Is(err, &StatusError{Code: CLOutOfResources}) {
		t.Error("Expected match on code alone")
	}
	if errors.Is(err, &StatusError{Code: CLInvalidValue}) {
		t.Error("Expected no match on a different code")
	}
	if errors.Is(err, &StatusError{Call: "clFlush", Code: CLOutOfResources}) {
		t.Error("Expected no match on a different call")
	}
}

func TestSelectionString(t *testing.T) {
	if got := AutoSelection().String(); got != "platform auto, device auto" {
		t.Errorf("Unexpected string %q", got)
	}
	if got := (Selection{Platform: 1, Device: 0}).String(); got != "platform 1, device 0" {
		t.Errorf("Unexpected string %q", got)
	}
}

func TestTrimNull(t *testing.T) {
	if got := trimNull([]byte("gfx908\x00")); got != "gfx908" {
		t.Errorf("Expected gfx908, got %q", got)
	}
	if got := trimNull(nil); got != "" {
		t.Errorf("Expected empty string, got %q", got)
	}
}
