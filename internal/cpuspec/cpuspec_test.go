package cpuspec

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPerformanceCoresKnownParts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		brand string
		want  int
	}{
		{"intel i9 13th gen", "13th Gen Intel(R) Core(TM) i9-13900K", 8},
		{"intel i7 12th gen", "12th Gen Intel(R) Core(TM) i7-12700", 8},
		{"intel i5 lowercase", "intel core i5-12600k", 6},
		{"intel i5 14th gen", "Intel(R) Core(TM) i5-14400F", 6},
		{"intel i3 12th gen", "12th Gen Intel(R) Core(TM) i3-12100", 4},
		{"intel 11th gen stays unknown", "11th Gen Intel(R) Core(TM) i7-1165G7", 0},
		{"apple m1 pro", "Apple M1 Pro", 8},
		{"apple m1 max", "Apple M1 Max", 8},
		{"apple m2 max", "Apple M2 Max", 12},
		{"apple m1 ultra", "Apple M1 Ultra", 16},
		{"apple m2 ultra", "Apple M2 Ultra", 24},
		{"apple m3 base", "Apple M3", 4},
		{"apple m4 base", "Apple M4", 6},
		{"amd part stays unknown", "AMD Ryzen 9 5950X 16-Core Processor", 0},
		{"empty brand", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, performanceCores(tt.brand))
		})
	}
}

func TestInferenceThreadsNeverExceedsScheduler(t *testing.T) {
	t.Parallel()

	available := runtime.NumCPU()

	huge := Spec{BrandName: "Apple M2 Ultra", PerformanceCores: 1 << 16}
	assert.Equal(t, available, huge.InferenceThreads(),
		"claimed performance cores are capped at what the scheduler exposes")

	single := Spec{PerformanceCores: 1}
	assert.Equal(t, 1, single.InferenceThreads())

	unknown := Spec{}
	assert.Equal(t, available, unknown.InferenceThreads(),
		"a blank spec falls back to all schedulable cores")
}

func TestInferenceThreadsPrefersPerformanceCores(t *testing.T) {
	t.Parallel()

	spec := Spec{LogicalCores: 1, PerformanceCores: 1}
	assert.Equal(t, 1, spec.InferenceThreads(),
		"performance cores win over the logical count on hybrid parts")

	logicalOnly := Spec{LogicalCores: 1}
	assert.Equal(t, 1, logicalOnly.InferenceThreads())
}

func TestAllocatableCoresHoldsBackControlPlane(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, Spec{PerformanceCores: 1}.AllocatableCores(),
		"tiny hosts keep every core allocatable")

	for _, cores := range []int{1, 2, 3, 4, 8, 64} {
		spec := Spec{PerformanceCores: cores}
		threads := spec.InferenceThreads()
		want := threads
		if threads > 2 {
			want = threads - 1
		}
		assert.Equal(t, want, spec.AllocatableCores(),
			"one core is held back once more than two threads are in play")
	}
}

func TestDetectYieldsUsableSizing(t *testing.T) {
	t.Parallel()

	spec := Detect()

	threads := spec.InferenceThreads()
	assert.GreaterOrEqual(t, threads, 1)
	assert.LessOrEqual(t, threads, runtime.NumCPU())
	assert.GreaterOrEqual(t, spec.AllocatableCores(), 1)
}
