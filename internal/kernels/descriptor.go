// Package kernels holds the kernel catalogue: typed descriptors with named
// arguments and a cost model, and the OpenCL C source they come from.
package kernels

import (
	"errors"
	"fmt"

	"github.com/cwbudde/gpumembench/internal/bench"
)

var (
	// ErrUnknownKernel is returned when a name is not in the catalogue.
	ErrUnknownKernel = errors.New("unknown kernel")
	// ErrUnknownArgument is returned when binding an argument the kernel does not declare.
	ErrUnknownArgument = errors.New("unknown kernel argument")
)

// Precision is the element type a kernel operates on.
type Precision string

const (
	Double Precision = "double"
	Float  Precision = "float"
)

// Width returns the element size in bytes, 0 for an unknown precision.
func (p Precision) Width() uint64 {
	switch p {
	case Double:
		return 8
	case Float:
		return 4
	default:
		return 0
	}
}

// BufferName is the name Sanitize and the report use for the buffer type.
func (p Precision) BufferName() string {
	return string(p) + "s"
}

// Precisions lists the supported precisions in run order.
func Precisions() []Precision {
	return []Precision{Double, Float}
}

// Op is what a kernel computes per element.
type Op string

const (
	OpMultiply   Op = "multiply"   // c = a * b
	OpCopy       Op = "copy"       // c = a
	OpInitialise Op = "initialise" // a, b = pattern; c = 0
)

// ArgKind tells buffers apart from scalars.
type ArgKind int

const (
	ArgBuffer ArgKind = iota
	ArgScalar
)

// Buffer argument names. Each refers to one of the three co-resident
// buffers of the kernel's precision.
const (
	BufferA = "a"
	BufferB = "b"
	BufferC = "c"
)

// Arg is a formal kernel parameter, in declaration order.
type Arg struct {
	Name string
	Kind ArgKind
}

// Descriptor describes one kernel of the catalogue.
type Descriptor struct {
	// Name is the short name used in reports and on the command line.
	Name string
	// Entry is the __kernel function in the program source.
	Entry     string
	Precision Precision
	Op        Op
	Cost      bench.Cost
	Args      []Arg

	// StrideArg receives the global size of a strided kernel; LengthArg
	// the element count it loops up to. Both empty for one-lane-per-element
	// kernels.
	StrideArg string
	LengthArg string
}

// Strided reports whether the kernel loops with a fixed lane count.
func (d Descriptor) Strided() bool {
	return d.StrideArg != ""
}

// Index resolves an argument name to its slot.
func (d Descriptor) Index(name string) (int, error) {
	for i, arg := range d.Args {
		if arg.Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s has no argument %q", ErrUnknownArgument, d.Name, name)
}

// Variant returns the sweep description of d over elements elements.
func (d Descriptor) Variant(elements uint64) bench.Variant {
	return bench.Variant{
		Name:        d.Name,
		Cost:        d.Cost,
		ElementSize: d.Precision.Width(),
		Elements:    elements,
		StrideArg:   d.StrideArg,
	}
}

// Validate checks the descriptor is internally consistent. Backends call
// it once at load time so later binds by name cannot miss.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return &ValidationError{Kernel: d.Name, Field: "Name", Reason: "cannot be empty"}
	}
	if d.Entry == "" {
		return &ValidationError{Kernel: d.Name, Field: "Entry", Reason: "cannot be empty"}
	}
	if d.Precision.Width() == 0 {
		return &ValidationError{Kernel: d.Name, Field: "Precision", Reason: fmt.Sprintf("unsupported %q", d.Precision)}
	}

	seen := make(map[string]ArgKind, len(d.Args))
	for _, arg := range d.Args {
		if _, dup := seen[arg.Name]; dup {
			return &ValidationError{Kernel: d.Name, Field: "Args", Reason: fmt.Sprintf("duplicate argument %q", arg.Name)}
		}
		if arg.Kind == ArgBuffer && arg.Name != BufferA && arg.Name != BufferB && arg.Name != BufferC {
			return &ValidationError{Kernel: d.Name, Field: "Args", Reason: fmt.Sprintf("buffer argument %q is not a, b or c", arg.Name)}
		}
		seen[arg.Name] = arg.Kind
	}

	var required []string
	switch d.Op {
	case OpMultiply, OpInitialise:
		required = []string{BufferA, BufferB, BufferC}
	case OpCopy:
		required = []string{BufferA, BufferC}
	default:
		return &ValidationError{Kernel: d.Name, Field: "Op", Reason: fmt.Sprintf("unsupported %q", d.Op)}
	}
	for _, name := range required {
		if kind, ok := seen[name]; !ok || kind != ArgBuffer {
			return &ValidationError{Kernel: d.Name, Field: "Args", Reason: fmt.Sprintf("missing buffer %q", name)}
		}
	}

	for field, name := range map[string]string{"StrideArg": d.StrideArg, "LengthArg": d.LengthArg} {
		if name == "" {
			continue
		}
		kind, ok := seen[name]
		if !ok {
			return &ValidationError{Kernel: d.Name, Field: field, Reason: fmt.Sprintf("names undeclared argument %q", name)}
		}
		if kind != ArgScalar {
			return &ValidationError{Kernel: d.Name, Field: field, Reason: fmt.Sprintf("%q is not a scalar", name)}
		}
	}
	if d.Strided() != (d.LengthArg != "") {
		return &ValidationError{Kernel: d.Name, Field: "LengthArg", Reason: "strided kernels need both stride and length arguments"}
	}
	return nil
}

// ValidationError is an inconsistent kernel descriptor.
type ValidationError struct {
	Kernel string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "kernel " + e.Kernel + ": invalid " + e.Field + ": " + e.Reason
}
