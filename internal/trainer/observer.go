package trainer

import (
	"context"
	"time"
)

// Run statuses reported in RunSummary.
const (
	StatusRunning  = "RUNNING"
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
	StatusKilled   = "KILLED"
)

// EpochRecord is the outcome of one epoch.
type EpochRecord struct {
	RunID          string        `json:"run_id"`
	Epoch          int           `json:"epoch"`
	FirstBatchLoss float64       `json:"first_batch_loss"` // first batch loss divided by batch size, as logged
	TestLoss       float64       `json:"test_loss"`
	BestLoss       float64       `json:"best_loss"`
	LearningRate   float64       `json:"learning_rate"`
	Improved       bool          `json:"improved"` // a best snapshot was written
	Decayed        bool          `json:"decayed"`  // the learning rate decayed at the start of this epoch
	Batches        int           `json:"batches"`
	Duration       time.Duration `json:"duration"`
}

// RunInfo describes a run as it starts.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	Model     string    `json:"model"`
	Loss      string    `json:"loss"`
	Epochs    int       `json:"epochs"`
	Config    Config    `json:"config"`
	Device    string    `json:"device"`
	StartedAt time.Time `json:"started_at"`
}

// RunSummary is the final outcome of a run.
type RunSummary struct {
	RunID          string        `json:"run_id"`
	Status         string        `json:"status"`
	Epochs         int           `json:"epochs"` // epochs completed
	BestLoss       float64       `json:"best_loss"`
	FinalTestLoss  float64       `json:"final_test_loss"`
	LearningRate   float64       `json:"learning_rate"`
	Improvements   int           `json:"improvements"`
	CheckpointPath string        `json:"checkpoint_path"`
	BestPath       string        `json:"best_path,omitempty"` // empty when no best snapshot was written
	Duration       time.Duration `json:"duration"`
	Err            error         `json:"-"`
}

// Observer receives training progress. Errors are logged and never stop
// training.
type Observer interface {
	OnEpoch(ctx context.Context, rec EpochRecord) error
	OnRunComplete(ctx context.Context, summary RunSummary) error
}

// StartObserver is implemented by observers that need to know when a run
// begins.
type StartObserver interface {
	OnRunStart(ctx context.Context, info RunInfo) error
}

// BatchObserver is implemented by observers that track per-batch timing.
type BatchObserver interface {
	OnBatch(epoch, batch int, loss float64, elapsed time.Duration)
}

// CheckpointObserver is implemented by observers that count snapshot writes.
// kind is "best" or "final".
type CheckpointObserver interface {
	OnCheckpoint(kind, path string)
}

// Checkpoint kinds passed to CheckpointObserver.
const (
	CheckpointBest  = "best"
	CheckpointFinal = "final"
)
