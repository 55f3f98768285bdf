// Package cpuspec inspects the host CPU to size inference thread counts
// and the pool's allocatable core capacity. On hybrid parts the efficiency
// cores are poor fits for model inference, so sizing prefers performance
// cores when the brand string reveals them.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Spec describes the detected CPU.
type Spec struct {
	BrandName        string
	LogicalCores     int
	PerformanceCores int
}

// Detect reads the host CPU identification.
func Detect() Spec {
	brand := cpuid.CPU.BrandName
	return Spec{
		BrandName:        brand,
		LogicalCores:     cpuid.CPU.LogicalCores,
		PerformanceCores: performanceCores(brand),
	}
}

// InferenceThreads returns the thread count to hand to an inference
// backend. Performance cores win on hybrid parts, otherwise all logical
// cores, never more than the scheduler actually exposes.
func (s Spec) InferenceThreads() int {
	available := runtime.NumCPU()

	if s.PerformanceCores > 0 {
		if s.PerformanceCores > available {
			return available
		}
		return s.PerformanceCores
	}

	if s.LogicalCores > 0 && s.LogicalCores < available {
		return s.LogicalCores
	}
	return available
}

// AllocatableCores returns the core capacity the resource pool should
// offer. One core is held back for the control plane when more than two
// are present.
func (s Spec) AllocatableCores() int {
	threads := s.InferenceThreads()
	if threads > 2 {
		return threads - 1
	}
	return threads
}

var (
	intelHybridRegex = regexp.MustCompile(`intel.*core.*i[3579]-(1[234]\d)00`)
	appleRegex       = regexp.MustCompile(`(?i)apple\s+(m[1234]\s*(?:pro|max|ultra)?)\s*`)
)

// performanceCores maps known hybrid brand strings to their P-core count.
// Unknown parts return 0 and sizing falls back to logical cores.
func performanceCores(brandName string) int {
	brand := strings.ToLower(brandName)

	// Intel 12th-14th gen desktop hybrid parts
	if matches := intelHybridRegex.FindStringSubmatch(brand); len(matches) > 1 {
		generation := matches[1]
		model := brand[strings.Index(brand, generation):]
		switch {
		case strings.Contains(model, "900"), strings.Contains(model, "700"):
			return 8
		case strings.Contains(model, "600"), strings.Contains(model, "500"), strings.Contains(model, "400"):
			return 6
		case strings.Contains(model, "100"):
			return 4
		}
	}

	// Apple Silicon
	if matches := appleRegex.FindStringSubmatch(brand); len(matches) > 1 {
		chip := strings.ToLower(strings.Join(strings.Fields(matches[1]), " "))
		switch {
		case strings.HasSuffix(chip, "ultra"):
			if strings.HasPrefix(chip, "m1") {
				return 16
			}
			return 24
		case strings.HasSuffix(chip, "max"):
			if strings.HasPrefix(chip, "m1") {
				return 8
			}
			return 12
		case strings.HasSuffix(chip, "pro"):
			return 8
		case chip == "m4":
			return 6
		default:
			return 4
		}
	}

	return 0
}
