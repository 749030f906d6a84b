package tune

import (
	"context"
	"testing"

	"github.com/cwbudde/gpumembench/internal/backend"
	"github.com/cwbudde/gpumembench/internal/kernels"
)

func TestTuneHostKernel(t *testing.T) {
	dev, err := backend.Open("host", backend.Options{MemoryLimit: 64 << 20, Workers: 2, Logger: quiet})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer dev.Close()

	const elements = 1 << 12
	if err := dev.Allocate(kernels.Float, elements); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := dev.Initialise(kernels.Float); err != nil {
		t.Fatalf("Initialise failed: %v", err)
	}

	desc, err := kernels.Lookup("elementwiseFS")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	k, err := dev.Load(desc)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer k.Release()

	measure, err := KernelMeasure(k, desc.Variant(elements), 2, 1)
	if err != nil {
		t.Fatalf("KernelMeasure failed: %v", err)
	}

	res, err := Tune(context.Background(), measure, Options{
		Iterations:       2,
		MaxWavefrontPool: 4,
		Seed:             1,
		Logger:           quiet,
	})
	if err != nil {
		t.Fatalf("Tune failed: %v", err)
	}

	if res.Best.Elapsed <= 0 || res.Best.Bandwidth <= 0 {
		t.Errorf("Expected a timed best point, got %+v", res.Best)
	}
	if res.Best.WavefrontPool < 1 || res.Best.WavefrontPool > 4 {
		t.Errorf("Wavefront pool %d outside 1..4", res.Best.WavefrontPool)
	}
	if err := dev.Verify(desc); err != nil {
		t.Errorf("Kernel output wrong after tuning: %v", err)
	}
}
