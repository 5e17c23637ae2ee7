package trainer

import (
	"fmt"
	"strings"

	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/errors"
)

// Optimizer reset policies applied at a learning rate decay.
const (
	// ResetOptimizer rebuilds the optimizer, dropping its moment estimates.
	ResetOptimizer = "reset"
	// PreserveOptimizer keeps optimizer state and only changes the rate.
	PreserveOptimizer = "preserve"
)

// Config is the immutable configuration of a training run.
type Config struct {
	TrainPath      string
	TestPath       string
	CheckpointPath string
	ImageSize      int
	BatchSize      int
	LearningRate   float64
	DecayFactor    float64
	ReTrain        bool
	BestLoss       float64
	OptimizerReset string
	Seed           uint64
	Workers        int    // 0 selects from the device
	DiagnosticsDir string // output of Test with diagnostics
}

// DefaultConfig returns the defaults of a training run without dataset paths.
func DefaultConfig() Config {
	return Config{
		CheckpointPath: "model/carnet.ckpt",
		ImageSize:      224,
		BatchSize:      32,
		LearningRate:   1e-3,
		DecayFactor:    0.1,
		BestLoss:       0.3,
		OptimizerReset: ResetOptimizer,
		Seed:           1,
		DiagnosticsDir: "diagnostics",
	}
}

// ConfigFromSettings maps the train section of the settings file.
func ConfigFromSettings(s *conf.TrainSettings) Config {
	return Config{
		TrainPath:      s.TrainPath,
		TestPath:       s.TestPath,
		CheckpointPath: s.Checkpoint,
		ImageSize:      s.ImageSize,
		BatchSize:      s.BatchSize,
		LearningRate:   s.LearningRate,
		DecayFactor:    s.DecayFactor,
		ReTrain:        s.ReTrain,
		BestLoss:       s.BestLoss,
		OptimizerReset: strings.ToLower(s.OptimizerReset),
		Seed:           s.Seed,
		Workers:        s.Workers,
		DiagnosticsDir: s.DiagnosticsDir,
	}
}

// Validate checks the configuration. Dataset paths are checked when the
// datasets are opened.
func (c *Config) Validate() error {
	var problems []string

	if c.CheckpointPath == "" {
		problems = append(problems, "checkpoint path is required")
	}
	if c.ImageSize <= 0 {
		problems = append(problems, fmt.Sprintf("image size must be positive, got %d", c.ImageSize))
	}
	if c.BatchSize <= 0 {
		problems = append(problems, fmt.Sprintf("batch size must be positive, got %d", c.BatchSize))
	}
	if c.LearningRate <= 0 {
		problems = append(problems, fmt.Sprintf("learning rate must be positive, got %g", c.LearningRate))
	}
	if c.DecayFactor <= 0 {
		problems = append(problems, fmt.Sprintf("decay factor must be positive, got %g", c.DecayFactor))
	}
	switch c.OptimizerReset {
	case ResetOptimizer, PreserveOptimizer:
	case "":
		c.OptimizerReset = ResetOptimizer
	default:
		problems = append(problems, fmt.Sprintf("unknown optimizer reset policy %q", c.OptimizerReset))
	}

	if len(problems) > 0 {
		return errors.Newf("invalid training config: %s", strings.Join(problems, "; ")).
			Component("trainer").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// BestCheckpointPath derives the best-snapshot path from the primary
// checkpoint path: "_best" goes at the end of the second to last
// dot-separated segment, so "model/net.ckpt" becomes "model/net_best.ckpt"
// and "a.b.c" becomes "a.b_best.c". A path without a dot gets "_best"
// appended.
func BestCheckpointPath(p string) string {
	i := strings.LastIndexByte(p, '.')
	if i < 0 {
		return p + "_best"
	}
	return p[:i] + "_best" + p[i:]
}
