package device

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPerformanceCores(t *testing.T) {
	tests := []struct {
		brand string
		want  int
	}{
		{"12th Gen Intel(R) Core(TM) i9-12900K", 8},
		{"13th Gen Intel(R) Core(TM) i5-13600K", 6},
		{"Intel(R) Core(TM) i3-14100", 4},
		{"Intel(R) Core(TM) Ultra 7 265K", 8},
		{"Intel(R) Core(TM) Ultra 5 processor 225", 6},
		{"Apple M1", 4},
		{"Apple M2 Max", 12},
		{"Apple M4 Pro", 10},
		{"Intel(R) Core(TM) i7-9700K CPU @ 3.60GHz", 0},
		{"AMD Ryzen 9 5950X 16-Core Processor", 0},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(tt.brand, func(t *testing.T) {
			assert.Equal(t, tt.want, performanceCores(tt.brand))
		})
	}
}

func TestClampWorkers(t *testing.T) {
	assert.Equal(t, 4, clampWorkers(8, 4))
	assert.Equal(t, maxWorkers, clampWorkers(64, 128))
	assert.Equal(t, 1, clampWorkers(0, 4))
	assert.Equal(t, 3, clampWorkers(3, 8))
}

func TestSelect(t *testing.T) {
	d := Select(0)
	assert.Equal(t, KindCPU, d.Kind)
	assert.NotEmpty(t, d.Name)
	assert.GreaterOrEqual(t, d.Workers, 1)
	assert.LessOrEqual(t, d.Workers, runtime.NumCPU())
	assert.Contains(t, d.String(), KindCPU)

	assert.Equal(t, 3, Select(3).Workers)
}
