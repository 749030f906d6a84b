//go:build gpu

package backend

/*
#cgo LDFLAGS: -lOpenCL
#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS
#include <CL/cl.h>
#include <stdlib.h>
*/
import "C"

import (
	"errors"
	"fmt"
	"log/slog"
	"unsafe"

	"go.uber.org/multierr"

	"github.com/cwbudde/gpumembench/internal/device"
	"github.com/cwbudde/gpumembench/internal/kernels"
)

type openCLBuffers struct {
	elements uint64
	mem      map[string]C.cl_mem
}

type openCLDevice struct {
	runtime *device.Runtime
	log     *slog.Logger

	context C.cl_context
	queue   C.cl_command_queue
	device  C.cl_device_id
	program C.cl_program

	buffers map[kernels.Precision]*openCLBuffers
}

func newOpenCLDevice(opts Options) (Device, error) {
	rt, err := device.Open(opts.Selection)
	if err != nil {
		if errors.Is(err, device.ErrNotBuilt) {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return nil, err
	}

	d := &openCLDevice{
		runtime: rt,
		log:     opts.Logger,
		context: C.cl_context(rt.ContextPtr()),
		queue:   C.cl_command_queue(rt.QueuePtr()),
		device:  C.cl_device_id(rt.DevicePtr()),
		buffers: make(map[kernels.Precision]*openCLBuffers),
	}

	if err := d.build(); err != nil {
		return nil, multierr.Append(err, d.Close())
	}

	d.log.Info("OpenCL backend initialised",
		"device", rt.Device.Name,
		"vendor", rt.Device.Vendor,
		"compute_units", rt.Device.Capability.ComputeUnits,
		"double_precision", rt.Device.Capability.DoublePrecision,
	)
	return d, nil
}

func (d *openCLDevice) build() error {
	source := C.CString(kernels.Source())
	defer C.free(unsafe.Pointer(source))

	var status C.cl_int
	d.program = C.clCreateProgramWithSource(d.context, 1, &source, nil, &status)
	if status != C.CL_SUCCESS {
		return clError("clCreateProgramWithSource", status)
	}

	status = C.clBuildProgram(d.program, 1, &d.device, nil, nil, nil)
	if status != C.CL_SUCCESS {
		d.dumpBuildLog()
		return clError("clBuildProgram", status)
	}
	return nil
}

func (d *openCLDevice) dumpBuildLog() {
	var logSize C.size_t
	if status := C.clGetProgramBuildInfo(d.program, d.device, C.CL_PROGRAM_BUILD_LOG, 0, nil, &logSize); status != C.CL_SUCCESS {
		d.log.Error("OpenCL: failed to fetch build log size", "err", clError("clGetProgramBuildInfo", status))
		return
	}
	if logSize == 0 {
		return
	}

	buf := make([]byte, int(logSize))
	if status := C.clGetProgramBuildInfo(d.program, d.device, C.CL_PROGRAM_BUILD_LOG, logSize, unsafe.Pointer(&buf[0]), nil); status != C.CL_SUCCESS {
		d.log.Error("OpenCL: failed to fetch build log", "err", clError("clGetProgramBuildInfo", status))
		return
	}

	d.log.Error("OpenCL build log", "log", string(buf))
}

func (d *openCLDevice) Info() device.DeviceInfo { return d.runtime.Device }

func (d *openCLDevice) Capability() device.Capability { return d.runtime.Device.Capability }

func (d *openCLDevice) Allocate(p kernels.Precision, elements uint64) error {
	width := p.Width()
	if width == 0 {
		return fmt.Errorf("allocate: unsupported precision %q", p)
	}
	if old, ok := d.buffers[p]; ok {
		if err := releaseBuffers(old); err != nil {
			return err
		}
		delete(d.buffers, p)
	}

	bufs := &openCLBuffers{elements: elements, mem: make(map[string]C.cl_mem, 3)}
	for _, name := range []string{kernels.BufferA, kernels.BufferB, kernels.BufferC} {
		var status C.cl_int
		mem := C.clCreateBuffer(d.context, C.CL_MEM_READ_WRITE, C.size_t(elements*width), nil, &status)
		if status != C.CL_SUCCESS {
			return multierr.Append(clError("clCreateBuffer("+p.BufferName()+"."+name+")", status), releaseBuffers(bufs))
		}
		bufs.mem[name] = mem
	}
	d.buffers[p] = bufs
	return nil
}

func (d *openCLDevice) Initialise(p kernels.Precision) error {
	k, err := d.Load(kernels.Initialiser(p))
	if err != nil {
		return err
	}
	defer k.Release()

	if err := k.Enqueue(d.buffers[p].elements, kernels.InitLocalSize); err != nil {
		return err
	}
	return k.Finish()
}

func (d *openCLDevice) Load(desc kernels.Descriptor) (Kernel, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	bufs, ok := d.buffers[desc.Precision]
	if !ok {
		return nil, fmt.Errorf("%w: %s needs %s", ErrNotAllocated, desc.Name, desc.Precision.BufferName())
	}

	entry := C.CString(desc.Entry)
	defer C.free(unsafe.Pointer(entry))

	var status C.cl_int
	handle := C.clCreateKernel(d.program, entry, &status)
	if status != C.CL_SUCCESS {
		return nil, clError("clCreateKernel("+desc.Entry+")", status)
	}

	k := &openCLKernel{dev: d, desc: desc, kernel: handle}
	for slot, arg := range desc.Args {
		if arg.Kind != kernels.ArgBuffer {
			continue
		}
		mem := bufs.mem[arg.Name]
		status = C.clSetKernelArg(handle, C.cl_uint(slot), C.size_t(unsafe.Sizeof(mem)), unsafe.Pointer(&mem))
		if status != C.CL_SUCCESS {
			return nil, multierr.Append(clError("clSetKernelArg("+arg.Name+")", status), k.Release())
		}
	}
	if desc.LengthArg != "" {
		if err := k.Bind(desc.LengthArg, bufs.elements); err != nil {
			return nil, multierr.Append(err, k.Release())
		}
	}
	return k, nil
}

func (d *openCLDevice) Verify(desc kernels.Descriptor) error {
	bufs, ok := d.buffers[desc.Precision]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAllocated, desc.Name)
	}

	switch desc.Precision {
	case kernels.Double:
		a, b, c, err := readBuffers[float64](d, bufs, desc.Op)
		if err != nil {
			return err
		}
		return check(desc, a, b, c)
	case kernels.Float:
		a, b, c, err := readBuffers[float32](d, bufs, desc.Op)
		if err != nil {
			return err
		}
		return check(desc, a, b, c)
	default:
		return fmt.Errorf("verify: unsupported precision %q", desc.Precision)
	}
}

func readBuffers[T float32 | float64](d *openCLDevice, bufs *openCLBuffers, op kernels.Op) (a, b, c []T, err error) {
	read := func(name string) ([]T, error) {
		out := make([]T, bufs.elements)
		var zero T
		size := C.size_t(bufs.elements * uint64(unsafe.Sizeof(zero)))
		status := C.clEnqueueReadBuffer(d.queue, bufs.mem[name], C.CL_TRUE, 0, size, unsafe.Pointer(&out[0]), 0, nil, nil)
		if status != C.CL_SUCCESS {
			return nil, clError("clEnqueueReadBuffer("+name+")", status)
		}
		return out, nil
	}

	if a, err = read(kernels.BufferA); err != nil {
		return nil, nil, nil, err
	}
	if op == kernels.OpMultiply {
		if b, err = read(kernels.BufferB); err != nil {
			return nil, nil, nil, err
		}
	}
	if c, err = read(kernels.BufferC); err != nil {
		return nil, nil, nil, err
	}
	return a, b, c, nil
}

func (d *openCLDevice) Close() error {
	var err error
	for p, bufs := range d.buffers {
		err = multierr.Append(err, releaseBuffers(bufs))
		delete(d.buffers, p)
	}
	if d.program != nil {
		err = multierr.Append(err, releaseStatus("clReleaseProgram", C.clReleaseProgram(d.program)))
		d.program = nil
	}
	if d.runtime != nil {
		d.runtime.Close()
		d.runtime = nil
	}
	return err
}

func releaseBuffers(bufs *openCLBuffers) error {
	var err error
	for name, mem := range bufs.mem {
		err = multierr.Append(err, releaseStatus("clReleaseMemObject("+name+")", C.clReleaseMemObject(mem)))
		delete(bufs.mem, name)
	}
	return err
}

type openCLKernel struct {
	dev    *openCLDevice
	desc   kernels.Descriptor
	kernel C.cl_kernel
}

func (k *openCLKernel) Descriptor() kernels.Descriptor { return k.desc }

func (k *openCLKernel) Bind(arg string, value uint64) error {
	slot, err := k.desc.Index(arg)
	if err != nil {
		return err
	}
	if k.desc.Args[slot].Kind != kernels.ArgScalar {
		return device.NewStatusError("clSetKernelArg("+arg+")", device.CLInvalidArgValue)
	}

	v := C.cl_ulong(value)
	status := C.clSetKernelArg(k.kernel, C.cl_uint(slot), C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v))
	if status != C.CL_SUCCESS {
		return clError("clSetKernelArg("+arg+")", status)
	}
	return nil
}

func (k *openCLKernel) Enqueue(global, local uint64) error {
	g := C.size_t(global)
	l := C.size_t(local)
	status := C.clEnqueueNDRangeKernel(k.dev.queue, k.kernel, 1, nil, &g, &l, 0, nil, nil)
	if status != C.CL_SUCCESS {
		return clError("clEnqueueNDRangeKernel", status)
	}
	return nil
}

func (k *openCLKernel) Finish() error {
	if status := C.clFinish(k.dev.queue); status != C.CL_SUCCESS {
		return clError("clFinish", status)
	}
	return nil
}

func (k *openCLKernel) Release() error {
	if k.kernel == nil {
		return nil
	}
	err := releaseStatus("clReleaseKernel", C.clReleaseKernel(k.kernel))
	k.kernel = nil
	return err
}

func releaseStatus(call string, status C.cl_int) error {
	if status != C.CL_SUCCESS {
		return clError(call, status)
	}
	return nil
}

func clError(call string, status C.cl_int) error {
	return device.NewStatusError(call, int32(status))
}
