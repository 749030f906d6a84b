//go:build gpu

package backend

import (
	"testing"

	"github.com/cwbudde/gpumembench/internal/device"
	"github.com/cwbudde/gpumembench/internal/kernels"
)

func TestOpenCLMatchesHost(t *testing.T) {
	d, err := Open("opencl", Options{Selection: device.AutoSelection(), Logger: quiet})
	if err != nil {
		t.Skipf("OpenCL backend unavailable: %v", err)
	}
	defer d.Close()

	for _, p := range kernels.Precisions() {
		if p == kernels.Double && !d.Capability().DoublePrecision {
			continue
		}
		if err := d.Allocate(p, testElements); err != nil {
			t.Fatalf("Allocate(%s) failed: %v", p, err)
		}
	}

	for _, desc := range kernels.Catalogue() {
		if desc.Precision == kernels.Double && !d.Capability().DoublePrecision {
			continue
		}
		if err := d.Initialise(desc.Precision); err != nil {
			t.Fatalf("Initialise failed: %v", err)
		}
		k, err := d.Load(desc)
		if err != nil {
			t.Fatalf("Load(%s) failed: %v", desc.Name, err)
		}

		global := uint64(testElements)
		if desc.Strided() {
			global = 256
			if err := k.Bind(desc.StrideArg, global); err != nil {
				t.Fatalf("Bind failed: %v", err)
			}
		}
		if err := k.Enqueue(global, 64); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		if err := k.Finish(); err != nil {
			t.Fatalf("Finish failed: %v", err)
		}
		if err := d.Verify(desc); err != nil {
			t.Errorf("%s: %v", desc.Name, err)
		}
		k.Release()
	}
}
