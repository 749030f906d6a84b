package backend

import (
	"fmt"

	"github.com/cwbudde/gpumembench/internal/kernels"
)

// MismatchError is the first output element that disagrees with the host
// computation.
type MismatchError struct {
	Kernel string
	Index  uint64
	Got    float64
	Want   float64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: c[%d] = %g, want %g", e.Kernel, e.Index, e.Got, e.Want)
}

func check[T float32 | float64](d kernels.Descriptor, a, b, c []T) error {
	for i := range c {
		want := a[i]
		if d.Op == kernels.OpMultiply {
			want = a[i] * b[i]
		}
		if c[i] != want {
			return &MismatchError{Kernel: d.Name, Index: uint64(i), Got: float64(c[i]), Want: float64(want)}
		}
	}
	return nil
}
