package backend

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/gpumembench/internal/device"
	"github.com/cwbudde/gpumembench/internal/kernels"
)

var errDeviceClosed = device.NewStatusError("host", device.CLInvalidDevice)

// workItems executes the work-items [lo, hi) of one dispatch.
type workItems func(lo, hi, stride, length uint64)

type hostKernel struct {
	dev      *HostDevice
	desc     kernels.Descriptor
	body     workItems
	elements uint64

	mu      sync.Mutex
	scalars map[string]uint64
}

func (k *hostKernel) Descriptor() kernels.Descriptor { return k.desc }

func (k *hostKernel) Release() error { return nil }

// Bind sets a scalar argument. The value is captured by later enqueues.
func (k *hostKernel) Bind(arg string, value uint64) error {
	slot, err := k.desc.Index(arg)
	if err != nil {
		return err
	}
	if k.desc.Args[slot].Kind != kernels.ArgScalar {
		return fmt.Errorf("%w: %s", device.NewStatusError("clSetKernelArg("+arg+")", device.CLInvalidArgValue),
			"buffers are bound at load")
	}

	k.mu.Lock()
	k.scalars[arg] = value
	k.mu.Unlock()
	return nil
}

// Enqueue validates the launch like clEnqueueNDRangeKernel and queues it.
func (k *hostKernel) Enqueue(global, local uint64) error {
	const call = "clEnqueueNDRangeKernel"

	if k.dev.isClosed() {
		return device.NewStatusError(call, device.CLInvalidDevice)
	}
	if global == 0 {
		return device.NewStatusError(call, device.CLInvalidGlobalWorkSize)
	}
	if local == 0 || local > hostMaxWorkGroupSize || global%local != 0 {
		return device.NewStatusError(call, device.CLInvalidWorkGroupSize)
	}

	k.mu.Lock()
	stride := k.scalars[k.desc.StrideArg]
	length := k.scalars[k.desc.LengthArg]
	k.mu.Unlock()

	if k.desc.Strided() {
		if stride == 0 || length > k.elements {
			return device.NewStatusError(call, device.CLInvalidKernelArgs)
		}
	} else if global > k.elements {
		return device.NewStatusError(call, device.CLInvalidGlobalWorkSize)
	}

	k.dev.queue.submit(func() error {
		return k.dev.run(global, local, func(lo, hi uint64) {
			k.body(lo, hi, stride, length)
		})
	})
	return nil
}

// Finish blocks until every queued dispatch has completed.
func (k *hostKernel) Finish() error {
	return k.dev.queue.finish()
}

// run executes global work-items in chunks of whole work-groups.
func (d *HostDevice) run(global, local uint64, items func(lo, hi uint64)) error {
	groups := global / local
	chunks := uint64(d.workers) * 4
	if chunks > groups {
		chunks = groups
	}
	per := (groups + chunks - 1) / chunks

	var g errgroup.Group
	g.SetLimit(d.workers)
	for first := uint64(0); first < groups; first += per {
		lo := first * local
		hi := min(first+per, groups) * local
		g.Go(func() error {
			items(lo, hi)
			return nil
		})
	}
	return g.Wait()
}

func program[T float32 | float64](d kernels.Descriptor, bufs *hostBuffers[T]) workItems {
	a, b, c := bufs.a, bufs.b, bufs.c

	switch {
	case d.Op == kernels.OpInitialise:
		return func(lo, hi, _, _ uint64) {
			for i := lo; i < hi; i++ {
				a[i] = 1 + T(i%16)*0.5
				b[i] = 2 - T(i%8)*0.125
				c[i] = 0
			}
		}
	case d.Op == kernels.OpMultiply && d.Strided():
		return func(lo, hi, stride, length uint64) {
			for gid := lo; gid < hi; gid++ {
				for i := gid; i < length; i += stride {
					c[i] = a[i] * b[i]
				}
			}
		}
	case d.Op == kernels.OpMultiply:
		return func(lo, hi, _, _ uint64) {
			for i := lo; i < hi; i++ {
				c[i] = a[i] * b[i]
			}
		}
	case d.Strided():
		return func(lo, hi, stride, length uint64) {
			for gid := lo; gid < hi; gid++ {
				for i := gid; i < length; i += stride {
					c[i] = a[i]
				}
			}
		}
	default:
		return func(lo, hi, _, _ uint64) {
			copy(c[lo:hi], a[lo:hi])
		}
	}
}
