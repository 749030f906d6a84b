package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"

	"github.com/cwbudde/gpumembench/internal/backend"
	"github.com/cwbudde/gpumembench/internal/config"
	"github.com/cwbudde/gpumembench/internal/device"
	"github.com/cwbudde/gpumembench/internal/store"
)

var quiet = slog.New(slog.DiscardHandler)

func parseRunFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addRunFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return fs
}

func TestApplyRunFlags_OnlyChangedFlags(t *testing.T) {
	cfg := config.Default()
	cfg.Repeats = 7 // as if read from a config file

	fs := parseRunFlags(t, "--backend", "cl", "--device", "1", "--kernels", "elementwiseF,elementwiseCopyF", "--host-memory", "2GiB")
	if err := applyRunFlags(fs, &cfg); err != nil {
		t.Fatalf("applyRunFlags failed: %v", err)
	}

	if cfg.Backend != "cl" {
		t.Errorf("Expected backend cl, got %s", cfg.Backend)
	}
	if cfg.Selection.Device != 1 || cfg.Selection.Platform != device.Auto {
		t.Errorf("Unexpected selection %+v", cfg.Selection)
	}
	if diff := cmp.Diff([]string{"elementwiseF", "elementwiseCopyF"}, cfg.Kernels); diff != "" {
		t.Errorf("Kernels mismatch (-want +got):\n%s", diff)
	}
	if cfg.HostMemory != 2<<30 {
		t.Errorf("Expected 2 GiB host memory, got %d", cfg.HostMemory)
	}
	if cfg.Repeats != 7 {
		t.Errorf("Unset flag overrode config value: repeats %d", cfg.Repeats)
	}
}

func TestApplyRunFlags_InvalidHostMemory(t *testing.T) {
	cfg := config.Default()
	fs := parseRunFlags(t, "--host-memory", "lots")

	err := applyRunFlags(fs, &cfg)
	if err == nil || !strings.Contains(err.Error(), "--host-memory") {
		t.Errorf("Expected host-memory error, got %v", err)
	}
}

func TestWriteConfig_RoundTrip(t *testing.T) {
	cfg := config.Default()
	fs := parseRunFlags(t, "--kernels", "elementwiseFS", "--repeats", "5", "--host-memory", "512MiB")
	if err := applyRunFlags(fs, &cfg); err != nil {
		t.Fatalf("applyRunFlags failed: %v", err)
	}

	var buf bytes.Buffer
	if err := writeConfig(&buf, cfg); err != nil {
		t.Fatalf("writeConfig failed: %v", err)
	}

	got, err := config.Decode(&buf)
	if err != nil {
		t.Fatalf("Printed config does not load: %v\n%s", err, buf.String())
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("Config mismatch (-want +got):\n%s", diff)
	}
}

func TestBenchmark_HostSave(t *testing.T) {
	cfg := config.Default()
	cfg.Elements = 4096
	cfg.Repeats = 2
	cfg.ComputeUnits = 2
	cfg.WavefrontPool = 2
	cfg.Kernels = []string{"elementwiseDS", "elementwiseCopyF"}
	cfg.HostMemory = 64 << 20
	cfg.Save = true
	cfg.DataDir = t.TempDir()

	report, err := benchmark(context.Background(), cfg, quiet)
	if err != nil {
		t.Fatalf("benchmark failed: %v", err)
	}
	if report.Failed() {
		t.Fatalf("Expected all kernels to pass: %v", report.Err())
	}

	st, err := store.NewFSStore(cfg.DataDir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	saved, err := st.LoadReport(report.ID)
	if err != nil {
		t.Fatalf("Report not saved: %v", err)
	}
	if len(saved.Results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(saved.Results))
	}

	reader, err := store.NewTraceReader(cfg.DataDir, report.ID)
	if err != nil {
		t.Fatalf("Trace not written: %v", err)
	}
	defer reader.Close()
	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(entries) != 18 {
		t.Errorf("Expected 18 trace entries, got %d", len(entries))
	}

	var buf bytes.Buffer
	if err := printReport(&buf, report); err != nil {
		t.Fatalf("printReport failed: %v", err)
	}
	for _, name := range cfg.Kernels {
		if !strings.Contains(buf.String(), name) {
			t.Errorf("Table is missing %s:\n%s", name, buf.String())
		}
	}
}

func TestBenchmark_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "cuda"

	_, err := benchmark(context.Background(), cfg, quiet)
	if !errors.Is(err, backend.ErrUnknownBackend) {
		t.Errorf("Expected ErrUnknownBackend, got %v", err)
	}
}

func TestWriteDevices_Host(t *testing.T) {
	platforms, err := backend.Platforms("host", backend.Options{MemoryLimit: 1 << 30})
	if err != nil {
		t.Fatalf("Platforms failed: %v", err)
	}

	var buf bytes.Buffer
	if err := writeDevices(&buf, platforms); err != nil {
		t.Fatalf("writeDevices failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Platform 0: Go host", "* Device 0: Go host emulator", "1.0 GiB", "Double precision:  yes"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteDevices_NoFP64Warning(t *testing.T) {
	platforms := []device.PlatformInfo{{
		Name: "Test",
		Devices: []device.DeviceInfo{{
			Name:       "tiny",
			Type:       device.DeviceTypeGPU,
			Capability: device.Capability{TotalMemoryBytes: 1 << 20, MaxAllocBytes: 1 << 18},
		}},
	}}

	var buf bytes.Buffer
	if err := writeDevices(&buf, platforms); err != nil {
		t.Fatalf("writeDevices failed: %v", err)
	}
	if !strings.Contains(buf.String(), "double kernels will be skipped") {
		t.Errorf("Expected double precision warning:\n%s", buf.String())
	}
}

func TestSelectReportsForDeletion_ByAge(t *testing.T) {
	now := time.Now()
	infos := []store.ReportInfo{
		{RunID: "run1", CreatedAt: now.AddDate(0, 0, -10)},
		{RunID: "run2", CreatedAt: now.AddDate(0, 0, -5)},
		{RunID: "run3", CreatedAt: now.AddDate(0, 0, -1)},
		{RunID: "run4", CreatedAt: now.AddDate(0, 0, -30)},
	}

	toDelete := selectReportsForDeletion(infos, 0, 7, now)

	if diff := cmp.Diff([]string{"run4", "run1"}, runIDs(toDelete)); diff != "" {
		t.Errorf("Selection mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectReportsForDeletion_ByCount(t *testing.T) {
	now := time.Now()
	infos := []store.ReportInfo{
		{RunID: "run1", CreatedAt: now.AddDate(0, 0, -10)},
		{RunID: "run2", CreatedAt: now.AddDate(0, 0, -5)},
		{RunID: "run3", CreatedAt: now.AddDate(0, 0, -1)},
		{RunID: "run4", CreatedAt: now.AddDate(0, 0, -30)},
	}

	toDelete := selectReportsForDeletion(infos, 2, 0, now)

	if diff := cmp.Diff([]string{"run4", "run1"}, runIDs(toDelete)); diff != "" {
		t.Errorf("Selection mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectReportsForDeletion_Combined(t *testing.T) {
	now := time.Now()
	infos := []store.ReportInfo{
		{RunID: "run1", CreatedAt: now.AddDate(0, 0, -10)},
		{RunID: "run2", CreatedAt: now.AddDate(0, 0, -5)},
		{RunID: "run3", CreatedAt: now.AddDate(0, 0, -1)},
	}

	// Age removes run1; count keeps the newest two, which also drops run1.
	toDelete := selectReportsForDeletion(infos, 2, 7, now)

	if diff := cmp.Diff([]string{"run1"}, runIDs(toDelete)); diff != "" {
		t.Errorf("Selection mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectReportsForDeletion_NothingToDelete(t *testing.T) {
	now := time.Now()
	infos := []store.ReportInfo{{RunID: "run1", CreatedAt: now}}

	if toDelete := selectReportsForDeletion(infos, 5, 30, now); len(toDelete) != 0 {
		t.Errorf("Expected nothing to delete, got %v", runIDs(toDelete))
	}
}

func TestWriteResultList(t *testing.T) {
	var buf bytes.Buffer
	infos := []store.ReportInfo{{
		RunID:         "0123456789abcdef",
		CreatedAt:     time.Now().Add(-time.Hour),
		Backend:       "host",
		Device:        "Go host emulator",
		BufferBytes:   1 << 20,
		BestKernel:    "elementwiseCopyF",
		BestBandwidth: 12.5,
		Failed:        true,
	}}

	if err := writeResultList(&buf, t.TempDir(), infos); err != nil {
		t.Fatalf("writeResultList failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"0123456789ab...", "1.0 MiB", "12.500", "FAILED", "Total runs: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}
}

func runIDs(infos []store.ReportInfo) []string {
	var ids []string
	for _, info := range infos {
		ids = append(ids, info.RunID)
	}
	return ids
}
