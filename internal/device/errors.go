package device

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDevices indicates that no usable devices were found.
	ErrNoDevices = errors.New("no OpenCL devices found")
	// ErrNotBuilt indicates the binary was built without GPU support.
	ErrNotBuilt = errors.New("opencl support requires building with '-tags gpu'")
	// ErrInvalidSelection is returned when a platform or device index is out of range.
	ErrInvalidSelection = errors.New("invalid device selection")
)

// StatusError is a failed OpenCL call.
type StatusError struct {
	Call string
	Code int32
}

// NewStatusError wraps an OpenCL status code returned by call.
func NewStatusError(call string, code int32) *StatusError {
	return &StatusError{Call: call, Code: code}
}

// Name returns the symbolic name of the status code.
func (e *StatusError) Name() string {
	return StatusName(e.Code)
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Call, e.Name(), e.Code)
}

// Is matches another StatusError with the same code, so callers can test
// errors.Is(err, &StatusError{Code: CLInvalidWorkGroupSize}).
func (e *StatusError) Is(target error) bool {
	t, ok := target.(*StatusError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Call == "" || t.Call == e.Call)
}

// OpenCL status codes referenced outside the cgo runtime.
const (
	CLSuccess                    int32 = 0
	CLDeviceNotFound             int32 = -1
	CLMemObjectAllocationFailure int32 = -4
	CLOutOfResources             int32 = -5
	CLBuildProgramFailure        int32 = -11
	CLInvalidValue               int32 = -30
	CLInvalidDevice              int32 = -33
	CLInvalidMemObject           int32 = -38
	CLInvalidKernelName          int32 = -46
	CLInvalidArgIndex            int32 = -49
	CLInvalidArgValue            int32 = -50
	CLInvalidKernelArgs          int32 = -52
	CLInvalidWorkGroupSize       int32 = -54
	CLInvalidBufferSize          int32 = -61
	CLInvalidGlobalWorkSize      int32 = -63
)

var statusNames = map[int32]string{
	0:     "CL_SUCCESS",
	-1:    "CL_DEVICE_NOT_FOUND",
	-2:    "CL_DEVICE_NOT_AVAILABLE",
	-3:    "CL_COMPILER_NOT_AVAILABLE",
	-4:    "CL_MEM_OBJECT_ALLOCATION_FAILURE",
	-5:    "CL_OUT_OF_RESOURCES",
	-6:    "CL_OUT_OF_HOST_MEMORY",
	-7:    "CL_PROFILING_INFO_NOT_AVAILABLE",
	-8:    "CL_MEM_COPY_OVERLAP",
	-9:    "CL_IMAGE_FORMAT_MISMATCH",
	-10:   "CL_IMAGE_FORMAT_NOT_SUPPORTED",
	-11:   "CL_BUILD_PROGRAM_FAILURE",
	-12:   "CL_MAP_FAILURE",
	-13:   "CL_MISALIGNED_SUB_BUFFER_OFFSET",
	-14:   "CL_EXEC_STATUS_ERROR_FOR_EVENTS_IN_WAIT_LIST",
	-15:   "CL_COMPILE_PROGRAM_FAILURE",
	-16:   "CL_LINKER_NOT_AVAILABLE",
	-17:   "CL_LINK_PROGRAM_FAILURE",
	-18:   "CL_DEVICE_PARTITION_FAILED",
	-19:   "CL_KERNEL_ARG_INFO_NOT_AVAILABLE",
	-30:   "CL_INVALID_VALUE",
	-31:   "CL_INVALID_DEVICE_TYPE",
	-32:   "CL_INVALID_PLATFORM",
	-33:   "CL_INVALID_DEVICE",
	-34:   "CL_INVALID_CONTEXT",
	-35:   "CL_INVALID_QUEUE_PROPERTIES",
	-36:   "CL_INVALID_COMMAND_QUEUE",
	-37:   "CL_INVALID_HOST_PTR",
	-38:   "CL_INVALID_MEM_OBJECT",
	-39:   "CL_INVALID_IMAGE_FORMAT_DESCRIPTOR",
	-40:   "CL_INVALID_IMAGE_SIZE",
	-41:   "CL_INVALID_SAMPLER",
	-42:   "CL_INVALID_BINARY",
	-43:   "CL_INVALID_BUILD_OPTIONS",
	-44:   "CL_INVALID_PROGRAM",
	-45:   "CL_INVALID_PROGRAM_EXECUTABLE",
	-46:   "CL_INVALID_KERNEL_NAME",
	-47:   "CL_INVALID_KERNEL_DEFINITION",
	-48:   "CL_INVALID_KERNEL",
	-49:   "CL_INVALID_ARG_INDEX",
	-50:   "CL_INVALID_ARG_VALUE",
	-51:   "CL_INVALID_ARG_SIZE",
	-52:   "CL_INVALID_KERNEL_ARGS",
	-53:   "CL_INVALID_WORK_DIMENSION",
	-54:   "CL_INVALID_WORK_GROUP_SIZE",
	-55:   "CL_INVALID_WORK_ITEM_SIZE",
	-56:   "CL_INVALID_GLOBAL_OFFSET",
	-57:   "CL_INVALID_EVENT_WAIT_LIST",
	-58:   "CL_INVALID_EVENT",
	-59:   "CL_INVALID_OPERATION",
	-60:   "CL_INVALID_GL_OBJECT",
	-61:   "CL_INVALID_BUFFER_SIZE",
	-62:   "CL_INVALID_MIP_LEVEL",
	-63:   "CL_INVALID_GLOBAL_WORK_SIZE",
	-64:   "CL_INVALID_PROPERTY",
	-65:   "CL_INVALID_IMAGE_DESCRIPTOR",
	-66:   "CL_INVALID_COMPILER_OPTIONS",
	-67:   "CL_INVALID_LINKER_OPTIONS",
	-68:   "CL_INVALID_DEVICE_PARTITION_COUNT",
	-1000: "CL_INVALID_GL_SHAREGROUP_REFERENCE_KHR",
	-1001: "CL_PLATFORM_NOT_FOUND_KHR",
	-1002: "CL_INVALID_D3D10_DEVICE_KHR",
	-1003: "CL_INVALID_D3D10_RESOURCE_KHR",
	-1004: "CL_D3D10_RESOURCE_ALREADY_ACQUIRED_KHR",
	-1005: "CL_D3D10_RESOURCE_NOT_ACQUIRED_KHR",
}

// StatusName maps an OpenCL status code to its symbolic name.
func StatusName(code int32) string {
	if name, ok := statusNames[code]; ok {
		return name
	}
	return "CL_UNKNOWN_ERROR"
}
