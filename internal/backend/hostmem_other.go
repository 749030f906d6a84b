//go:build !linux

package backend

func physicalMemory() uint64 {
	return 0
}
