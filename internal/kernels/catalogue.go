package kernels

import (
	_ "embed"
	"fmt"

	"github.com/cwbudde/gpumembench/internal/bench"
)

//go:embed kernels.cl
var source string

// Source returns the OpenCL C program holding every catalogue entry.
func Source() string {
	return source
}

// InitLocalSize is the work-group size used by the initialisation kernels.
const InitLocalSize = 64

var (
	multiplyCost = bench.Cost{MemOps: 3, Flops: 1}
	copyCost     = bench.Cost{MemOps: 2, Flops: 0}
)

func buffers(names ...string) []Arg {
	args := make([]Arg, len(names))
	for i, name := range names {
		args[i] = Arg{Name: name, Kind: ArgBuffer}
	}
	return args
}

func stridedArgs(names ...string) []Arg {
	return append(buffers(names...),
		Arg{Name: "stride", Kind: ArgScalar},
		Arg{Name: "vector_length", Kind: ArgScalar},
	)
}

func multiply(name, entry string, p Precision, strided bool) Descriptor {
	d := Descriptor{Name: name, Entry: entry, Precision: p, Op: OpMultiply, Cost: multiplyCost}
	if strided {
		d.Args = stridedArgs(BufferA, BufferB, BufferC)
		d.StrideArg, d.LengthArg = "stride", "vector_length"
	} else {
		d.Args = buffers(BufferA, BufferB, BufferC)
	}
	return d
}

func copyKernel(name, entry string, p Precision, strided bool) Descriptor {
	d := Descriptor{Name: name, Entry: entry, Precision: p, Op: OpCopy, Cost: copyCost}
	if strided {
		d.Args = stridedArgs(BufferA, BufferC)
		d.StrideArg, d.LengthArg = "stride", "vector_length"
	} else {
		d.Args = buffers(BufferA, BufferC)
	}
	return d
}

// Catalogue returns the sweep kernels in report order. Consecutive pairs
// differ only in precision.
func Catalogue() []Descriptor {
	return []Descriptor{
		multiply("elementwiseDS", "elementwiseDoubleStride", Double, true),
		multiply("elementwiseFS", "elementwiseFloatStride", Float, true),
		multiply("elementwiseD", "elementwiseDouble", Double, false),
		multiply("elementwiseF", "elementwiseFloat", Float, false),
		copyKernel("elementwiseCopyDS", "elementwiseCopyDoubleStride", Double, true),
		copyKernel("elementwiseCopyFS", "elementwiseCopyFloatStride", Float, true),
		copyKernel("elementwiseCopyD", "elementwiseCopyDouble", Double, false),
		copyKernel("elementwiseCopyF", "elementwiseCopyFloat", Float, false),
	}
}

// Initialiser returns the kernel filling the buffers of precision p.
func Initialiser(p Precision) Descriptor {
	entry := "initialiseFloatArraysKernel"
	if p == Double {
		entry = "initialiseDoubleArraysKernel"
	}
	return Descriptor{
		Name:      "init" + string(p),
		Entry:     entry,
		Precision: p,
		Op:        OpInitialise,
		Args:      buffers(BufferA, BufferB, BufferC),
	}
}

// Lookup finds a catalogue kernel by name.
func Lookup(name string) (Descriptor, error) {
	for _, d := range Catalogue() {
		if d.Name == name {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownKernel, name)
}

// Select returns the named kernels in catalogue order, or the whole
// catalogue when names is empty.
func Select(names []string) ([]Descriptor, error) {
	if len(names) == 0 {
		return Catalogue(), nil
	}

	want := make(map[string]bool, len(names))
	for _, name := range names {
		if _, err := Lookup(name); err != nil {
			return nil, err
		}
		want[name] = true
	}

	var out []Descriptor
	for _, d := range Catalogue() {
		if want[d.Name] {
			out = append(out, d)
		}
	}
	return out, nil
}

// Names lists the catalogue kernel names.
func Names() []string {
	cat := Catalogue()
	names := make([]string, len(cat))
	for i, d := range cat {
		names[i] = d.Name
	}
	return names
}
