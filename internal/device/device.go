// Package device selects the compute device used for training and sizes
// the worker pool for parallel tensor math and image decoding.
package device

import (
	"fmt"
	"runtime"
	"slices"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/v3/mem"
)

// KindCPU is the only backend of the pure-Go models.
const KindCPU = "cpu"

// maxWorkers caps the worker count; beyond this the per-row math in a
// batch is too small for more goroutines to help.
const maxWorkers = 16

// Device describes where training runs.
type Device struct {
	Kind     string   // backend kind, "cpu"
	Name     string   // cpu brand name
	Features []string // SIMD features relevant to float math
	Workers  int      // goroutines used for parallel work
	MemoryMB uint64   // total system memory, 0 when unknown
}

// String renders a one-line summary for logs.
func (d Device) String() string {
	return fmt.Sprintf("%s (%s, %d workers, %d MB, %s)",
		d.Kind, d.Name, d.Workers, d.MemoryMB, strings.Join(d.Features, " "))
}

// Select inspects the host and returns the device to train on. workers
// overrides the computed worker count when positive.
func Select(workers int) Device {
	d := Device{
		Kind:     KindCPU,
		Name:     strings.TrimSpace(cpuid.CPU.BrandName),
		Features: simdFeatures(),
		Workers:  workers,
	}
	if d.Name == "" {
		d.Name = runtime.GOARCH
	}

	if d.Workers <= 0 {
		d.Workers = OptimalWorkers(d.Name)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		d.MemoryMB = vm.Total / (1024 * 1024)
	}

	return d
}

// OptimalWorkers returns the recommended goroutine count for brandName.
// Hybrid CPUs use their performance cores only, other CPUs use physical
// cores, and the result never exceeds the cores Go can schedule on.
func OptimalWorkers(brandName string) int {
	available := runtime.NumCPU()

	n := performanceCores(brandName)
	if n == 0 {
		n = cpuid.CPU.PhysicalCores
	}
	if n <= 0 {
		n = available
	}

	return clampWorkers(n, available)
}

func clampWorkers(n, available int) int {
	n = min(n, available, maxWorkers)
	return max(n, 1)
}

func simdFeatures() []string {
	var out []string
	for _, f := range []cpuid.FeatureID{cpuid.SSE4, cpuid.AVX, cpuid.AVX2, cpuid.FMA3, cpuid.AVX512F, cpuid.ASIMD} {
		if cpuid.CPU.Supports(f) {
			out = append(out, strings.ToLower(f.String()))
		}
	}
	slices.Sort(out)
	return out
}
