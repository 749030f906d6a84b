package device

import "fmt"

// Auto is the Selection index that lets Select choose.
const Auto = -1

// Selection names a platform and device by index. Auto on either field
// defers the choice to Select.
type Selection struct {
	Platform int `json:"platform" yaml:"platform"`
	Device   int `json:"device" yaml:"device"`
}

// AutoSelection prefers a GPU, then a CPU, then the first device found.
func AutoSelection() Selection {
	return Selection{Platform: Auto, Device: Auto}
}

// IsAuto reports whether any part of the selection is left to Select.
func (s Selection) IsAuto() bool {
	return s.Platform == Auto || s.Device == Auto
}

func (s Selection) String() string {
	index := func(i int) string {
		if i == Auto {
			return "auto"
		}
		return fmt.Sprint(i)
	}
	return fmt.Sprintf("platform %s, device %s", index(s.Platform), index(s.Device))
}

// Select resolves sel against platforms and returns the chosen indices.
//
// With both indices given they are validated. With only the platform
// given, the platform's devices are searched. Otherwise every platform is
// searched for a GPU, then a CPU, then any device.
func Select(platforms []PlatformInfo, sel Selection) (int, int, error) {
	if len(platforms) == 0 {
		return 0, 0, ErrNoDevices
	}

	if sel.Platform != Auto {
		if sel.Platform < 0 || sel.Platform >= len(platforms) {
			return 0, 0, fmt.Errorf("%w: platform %d of %d", ErrInvalidSelection, sel.Platform, len(platforms))
		}
		devices := platforms[sel.Platform].Devices
		if len(devices) == 0 {
			return 0, 0, fmt.Errorf("%w: platform %d has no devices", ErrInvalidSelection, sel.Platform)
		}
		if sel.Device == Auto {
			return sel.Platform, preferred(devices), nil
		}
		if sel.Device < 0 || sel.Device >= len(devices) {
			return 0, 0, fmt.Errorf("%w: device %d of %d on platform %d",
				ErrInvalidSelection, sel.Device, len(devices), sel.Platform)
		}
		return sel.Platform, sel.Device, nil
	}

	if sel.Device != Auto {
		return 0, 0, fmt.Errorf("%w: device %d given without a platform", ErrInvalidSelection, sel.Device)
	}

	for _, want := range []DeviceType{DeviceTypeGPU, DeviceTypeCPU} {
		for p, platform := range platforms {
			for d, dev := range platform.Devices {
				if dev.Type == want {
					return p, d, nil
				}
			}
		}
	}

	for p, platform := range platforms {
		if len(platform.Devices) > 0 {
			return p, 0, nil
		}
	}
	return 0, 0, ErrNoDevices
}

func preferred(devices []DeviceInfo) int {
	for _, want := range []DeviceType{DeviceTypeGPU, DeviceTypeCPU} {
		for i, dev := range devices {
			if dev.Type == want {
				return i
			}
		}
	}
	return 0
}
