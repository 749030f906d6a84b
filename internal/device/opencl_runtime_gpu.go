//go:build gpu

package device

/*
#cgo LDFLAGS: -lOpenCL
#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS
#include <CL/cl.h>

static cl_command_queue gpumembench_create_queue(cl_context ctx, cl_device_id device, cl_int *status) {
	return clCreateCommandQueue(ctx, device, 0, status);
}
*/
import "C"

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"unsafe"
)

var disableBinaryCache sync.Once

// Runtime owns the OpenCL context and command queue of one device.
type Runtime struct {
	platformID C.cl_platform_id
	deviceID   C.cl_device_id
	context    C.cl_context
	queue      C.cl_command_queue
	Platform   PlatformInfo
	Device     DeviceInfo
}

// Open resolves sel and creates a context and an in-order queue on the
// chosen device.
func Open(sel Selection) (*Runtime, error) {
	records, err := enumeratePlatformRecords()
	if err != nil {
		return nil, err
	}

	infos := make([]PlatformInfo, len(records))
	for i, rec := range records {
		infos[i] = rec.info
	}
	p, d, err := Select(infos, sel)
	if err != nil {
		return nil, err
	}
	platform := records[p]
	dev := platform.devices[d]

	slog.Info("Selected OpenCL device",
		"platform", p,
		"platform_vendor", platform.info.Vendor,
		"device", d,
		"name", dev.info.Name,
		"auto", sel.IsAuto(),
	)

	var status C.cl_int
	context := C.clCreateContext(nil, 1, &dev.id, nil, nil, &status)
	if status != C.CL_SUCCESS {
		return nil, statusError("clCreateContext", status)
	}

	queue := C.gpumembench_create_queue(context, dev.id, &status)
	if status != C.CL_SUCCESS {
		C.clReleaseContext(context)
		return nil, statusError("clCreateCommandQueue", status)
	}

	return &Runtime{
		platformID: platform.id,
		deviceID:   dev.id,
		context:    context,
		queue:      queue,
		Platform:   platform.info,
		Device:     dev.info,
	}, nil
}

// ContextPtr exposes the cl_context to packages with their own cgo preamble.
func (r *Runtime) ContextPtr() unsafe.Pointer { return unsafe.Pointer(r.context) }

// QueuePtr exposes the cl_command_queue.
func (r *Runtime) QueuePtr() unsafe.Pointer { return unsafe.Pointer(r.queue) }

// DevicePtr exposes the cl_device_id.
func (r *Runtime) DevicePtr() unsafe.Pointer { return unsafe.Pointer(r.deviceID) }

// Close releases OpenCL resources.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.queue != nil {
		C.clReleaseCommandQueue(r.queue)
		r.queue = nil
	}
	if r.context != nil {
		C.clReleaseContext(r.context)
		r.context = nil
	}
}

// Built reports whether OpenCL support is compiled in.
func Built() bool { return true }

// EnumeratePlatforms returns discovered platforms with their devices.
func EnumeratePlatforms() ([]PlatformInfo, error) {
	records, err := enumeratePlatformRecords()
	if err != nil {
		return nil, err
	}

	out := make([]PlatformInfo, len(records))
	for i, platform := range records {
		out[i] = platform.info
	}
	return out, nil
}

type platformRecord struct {
	id      C.cl_platform_id
	info    PlatformInfo
	devices []deviceRecord
}

type deviceRecord struct {
	id   C.cl_device_id
	info DeviceInfo
}

func enumeratePlatformRecords() ([]platformRecord, error) {
	// The NVIDIA implementation would otherwise serve cached binaries.
	disableBinaryCache.Do(func() {
		os.Setenv("CUDA_CACHE_DISABLE", "1")
	})

	var count C.cl_uint
	status := C.clGetPlatformIDs(0, nil, &count)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetPlatformIDs(count)", status)
	}
	if count == 0 {
		return nil, nil
	}

	platformIDs := make([]C.cl_platform_id, int(count))
	status = C.clGetPlatformIDs(count, &platformIDs[0], nil)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetPlatformIDs(list)", status)
	}

	records := make([]platformRecord, 0, int(count))
	for _, pid := range platformIDs {
		name, err := getPlatformString(pid, C.CL_PLATFORM_NAME)
		if err != nil {
			return nil, err
		}
		vendor, err := getPlatformString(pid, C.CL_PLATFORM_VENDOR)
		if err != nil {
			return nil, err
		}
		version, err := getPlatformString(pid, C.CL_PLATFORM_VERSION)
		if err != nil {
			return nil, err
		}

		rec := platformRecord{
			id:   pid,
			info: PlatformInfo{Name: name, Vendor: vendor, Version: version},
		}

		devices, err := enumerateDevices(pid)
		if err != nil && !errors.Is(err, ErrNoDevices) {
			return nil, err
		}

		rec.devices = devices
		rec.info.Devices = make([]DeviceInfo, len(devices))
		for i, device := range devices {
			rec.info.Devices[i] = device.info
		}
		records = append(records, rec)
	}

	return records, nil
}

func enumerateDevices(platform C.cl_platform_id) ([]deviceRecord, error) {
	var count C.cl_uint
	status := C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_ALL, 0, nil, &count)
	if status == C.CL_DEVICE_NOT_FOUND {
		return nil, ErrNoDevices
	}
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetDeviceIDs(count)", status)
	}
	if count == 0 {
		return nil, ErrNoDevices
	}

	deviceIDs := make([]C.cl_device_id, int(count))
	status = C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_ALL, count, &deviceIDs[0], nil)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetDeviceIDs(list)", status)
	}

	devices := make([]deviceRecord, 0, int(count))
	for _, id := range deviceIDs {
		info, err := buildDeviceInfo(id)
		if err != nil {
			return nil, err
		}
		devices = append(devices, deviceRecord{id: id, info: info})
	}

	return devices, nil
}

func buildDeviceInfo(id C.cl_device_id) (DeviceInfo, error) {
	name, err := getDeviceString(id, C.CL_DEVICE_NAME)
	if err != nil {
		return DeviceInfo{}, err
	}
	vendor, err := getDeviceString(id, C.CL_DEVICE_VENDOR)
	if err != nil {
		return DeviceInfo{}, err
	}
	version, err := getDeviceString(id, C.CL_DEVICE_VERSION)
	if err != nil {
		return DeviceInfo{}, err
	}

	var rawType C.cl_device_type
	if err := getDeviceValue(id, C.CL_DEVICE_TYPE, "type", unsafe.Pointer(&rawType), unsafe.Sizeof(rawType)); err != nil {
		return DeviceInfo{}, err
	}

	var (
		computeUnits  C.cl_uint
		cacheLine     C.cl_uint
		maxAlloc      C.cl_ulong
		globalMem     C.cl_ulong
		workGroupSize C.size_t
		fp64          C.cl_device_fp_config
	)
	if err := getDeviceValue(id, C.CL_DEVICE_MAX_COMPUTE_UNITS, "computeUnits", unsafe.Pointer(&computeUnits), unsafe.Sizeof(computeUnits)); err != nil {
		return DeviceInfo{}, err
	}
	if err := getDeviceValue(id, C.CL_DEVICE_GLOBAL_MEM_CACHELINE_SIZE, "cacheLine", unsafe.Pointer(&cacheLine), unsafe.Sizeof(cacheLine)); err != nil {
		return DeviceInfo{}, err
	}
	if err := getDeviceValue(id, C.CL_DEVICE_MAX_MEM_ALLOC_SIZE, "maxAlloc", unsafe.Pointer(&maxAlloc), unsafe.Sizeof(maxAlloc)); err != nil {
		return DeviceInfo{}, err
	}
	if err := getDeviceValue(id, C.CL_DEVICE_GLOBAL_MEM_SIZE, "globalMem", unsafe.Pointer(&globalMem), unsafe.Sizeof(globalMem)); err != nil {
		return DeviceInfo{}, err
	}
	if err := getDeviceValue(id, C.CL_DEVICE_MAX_WORK_GROUP_SIZE, "workGroupSize", unsafe.Pointer(&workGroupSize), unsafe.Sizeof(workGroupSize)); err != nil {
		return DeviceInfo{}, err
	}
	// Devices without fp64 may report an error instead of zero.
	if err := getDeviceValue(id, C.CL_DEVICE_DOUBLE_FP_CONFIG, "doubleFP", unsafe.Pointer(&fp64), unsafe.Sizeof(fp64)); err != nil {
		fp64 = 0
	}

	return DeviceInfo{
		Name:    name,
		Vendor:  vendor,
		Version: version,
		Type:    mapDeviceType(rawType),
		Capability: Capability{
			MaxAllocBytes:    uint64(maxAlloc),
			TotalMemoryBytes: uint64(globalMem),
			CacheLineBytes:   uint64(cacheLine),
			ComputeUnits:     uint64(computeUnits),
			MaxWorkGroupSize: uint64(workGroupSize),
			DoublePrecision:  fp64 != 0,
		},
	}, nil
}

func getDeviceValue(id C.cl_device_id, param C.cl_device_info, what string, ptr unsafe.Pointer, size uintptr) error {
	status := C.clGetDeviceInfo(id, param, C.size_t(size), ptr, nil)
	if status != C.CL_SUCCESS {
		return statusError("clGetDeviceInfo("+what+")", status)
	}
	return nil
}

func getPlatformString(id C.cl_platform_id, param C.cl_platform_info) (string, error) {
	var size C.size_t
	status := C.clGetPlatformInfo(id, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetPlatformInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, int(size))
	status = C.clGetPlatformInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetPlatformInfo(value)", status)
	}

	return trimNull(buf), nil
}

func getDeviceString(id C.cl_device_id, param C.cl_device_info) (string, error) {
	var size C.size_t
	status := C.clGetDeviceInfo(id, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetDeviceInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, int(size))
	status = C.clGetDeviceInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetDeviceInfo(value)", status)
	}

	return trimNull(buf), nil
}

func mapDeviceType(dt C.cl_device_type) DeviceType {
	switch {
	case dt&C.CL_DEVICE_TYPE_GPU != 0:
		return DeviceTypeGPU
	case dt&C.CL_DEVICE_TYPE_CPU != 0:
		return DeviceTypeCPU
	case dt&C.CL_DEVICE_TYPE_ACCELERATOR != 0:
		return DeviceTypeAccelerator
	case dt&C.CL_DEVICE_TYPE_DEFAULT != 0:
		return DeviceTypeDefault
	default:
		return DeviceTypeUnknown
	}
}

func statusError(call string, status C.cl_int) error {
	return NewStatusError(call, int32(status))
}
