//go:build !gpu

package backend

import (
	"fmt"

	"github.com/cwbudde/gpumembench/internal/device"
)

func newOpenCLDevice(Options) (Device, error) {
	return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, device.ErrNotBuilt)
}
