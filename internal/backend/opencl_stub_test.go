//go:build !gpu

package backend

import (
	"errors"
	"testing"

	"github.com/cwbudde/gpumembench/internal/device"
)

func TestOpenCLUnavailableWithoutGPUTag(t *testing.T) {
	_, err := Open("opencl", Options{Logger: quiet})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Expected ErrBackendUnavailable, got %v", err)
	}

	_, err = Platforms("gpu", Options{})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Expected ErrBackendUnavailable from Platforms, got %v", err)
	}
	if errors.Is(err, device.ErrNoDevices) {
		t.Error("Did not expect ErrNoDevices")
	}
}
