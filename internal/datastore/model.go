package datastore

import "time"

// LabelRecord is one attempted rename by the labelling agent.
type LabelRecord struct {
	ID           uint   `gorm:"primaryKey"`
	RunID        string `gorm:"index;size:36"`
	OriginalPath string `gorm:"size:1024"`
	NewPath      string `gorm:"size:1024"`
	Status       string `gorm:"index;size:32"`
	Kind         string `gorm:"size:32"`
	FirstLabel   string `gorm:"size:255"`
	FirstScore   float64
	FirstYear    string `gorm:"size:32"`
	SecondLabel  string `gorm:"size:255"`
	SecondScore  float64
	SecondYear   string `gorm:"size:32"`
	TokenIndex   int
	Attempts     int
	DryRun       bool
	Error        string    `gorm:"size:1024"`
	CreatedAt    time.Time `gorm:"index"`
}

// TrainingRun is one invocation of the training orchestrator.
type TrainingRun struct {
	ID              uint   `gorm:"primaryKey"`
	RunID           string `gorm:"uniqueIndex;size:36"`
	Model           string `gorm:"size:255"`
	Loss            string `gorm:"size:64"`
	Device          string `gorm:"size:255"`
	Config          string `gorm:"type:text"` // JSON snapshot of the run configuration
	Status          string `gorm:"index;size:16"`
	PlannedEpochs   int
	EpochsCompleted int
	BestLoss        float64
	FinalTestLoss   float64
	LearningRate    float64
	Improvements    int
	CheckpointPath  string `gorm:"size:1024"`
	BestPath        string `gorm:"size:1024"`
	Error           string `gorm:"size:1024"`
	StartedAt       time.Time
	FinishedAt      *time.Time
	EpochRecords    []EpochRecord `gorm:"foreignKey:RunID;references:RunID"`
}

// EpochRecord is the outcome of one training epoch.
type EpochRecord struct {
	ID             uint   `gorm:"primaryKey"`
	RunID          string `gorm:"index;size:36"`
	Epoch          int
	FirstBatchLoss float64
	TestLoss       float64
	BestLoss       float64
	LearningRate   float64
	Improved       bool
	Decayed        bool
	Batches        int
	DurationMs     int64
	CreatedAt      time.Time
}
