package device

import (
	"regexp"
	"strings"
)

var (
	intelHybridRegex = regexp.MustCompile(`intel.*core.*i([3579])-1[234]\d{3}`)
	coreUltraRegex   = regexp.MustCompile(`intel.*core.*ultra\s+([579])\s+(?:processor\s+)?(\d{3})`)
	appleRegex       = regexp.MustCompile(`apple\s+(m[1-4])\s*(pro|max|ultra)?`)
)

// Performance cores by Intel desktop tier. 12th to 14th gen share the layout.
var intelHybridPCores = map[string]int{
	"9": 8,
	"7": 8,
	"5": 6,
	"3": 4,
}

var coreUltraPCores = map[string]int{
	"9": 8,
	"7": 8,
	"5": 6,
}

// Performance cores of Apple silicon; the binned Pro parts use the higher value.
var applePCores = map[string]int{
	"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
	"m2": 4, "m2 pro": 8, "m2 max": 12, "m2 ultra": 24,
	"m3": 4, "m3 pro": 6, "m3 max": 12, "m3 ultra": 24,
	"m4": 4, "m4 pro": 10, "m4 max": 12,
}

// performanceCores returns the P-core count of known hybrid CPUs, or 0.
func performanceCores(brandName string) int {
	brand := strings.ToLower(brandName)

	if m := intelHybridRegex.FindStringSubmatch(brand); m != nil {
		return intelHybridPCores[m[1]]
	}

	if m := coreUltraRegex.FindStringSubmatch(brand); m != nil {
		return coreUltraPCores[m[1]]
	}

	if m := appleRegex.FindStringSubmatch(brand); m != nil {
		chip := m[1]
		if m[2] != "" {
			chip += " " + m[2]
		}
		return applePCores[chip]
	}

	return 0
}
