// Package datastore persists label records and training runs through gorm,
// on SQLite or MySQL.
package datastore

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/labeler"
	"github.com/tphakala/carnet-go/internal/logger"
	"github.com/tphakala/carnet-go/internal/trainer"
)

// DefaultSlowQueryThreshold is the duration above which statements are
// logged as slow.
const DefaultSlowQueryThreshold = 200 * time.Millisecond

// Interface abstracts the underlying database implementation.
type Interface interface {
	Open() error
	Close() error

	SaveLabel(ctx context.Context, rec labeler.LabelRecord) error
	ListLabels(ctx context.Context, limit int) ([]LabelRecord, error)

	StartRun(ctx context.Context, info trainer.RunInfo) error
	SaveEpoch(ctx context.Context, rec trainer.EpochRecord) error
	FinishRun(ctx context.Context, summary trainer.RunSummary) error
	ListRuns(ctx context.Context, limit int) ([]TrainingRun, error)
	GetRun(ctx context.Context, runID string) (TrainingRun, error)
}

// DataStore implements Interface on a gorm database.
type DataStore struct {
	DB *gorm.DB
}

// New returns the store selected by the output settings, or nil when no
// output is enabled.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

func createGormLogger() gormlogger.Interface {
	return logger.NewGormLoggerAdapter(GetLogger(), DefaultSlowQueryThreshold)
}

func performAutoMigration(db *gorm.DB, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&LabelRecord{}, &TrainingRun{}, &EpochRecord{}); err != nil {
		return dbError(err, "auto_migrate").
			Context("db_type", dbType).
			Build()
	}

	GetLogger().Info("database initialized",
		logger.String("db_type", dbType),
		logger.String("connection", connectionInfo))
	return nil
}

func dbError(err error, operation string) *errors.ErrorBuilder {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)
}

func (ds *DataStore) ready() error {
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Build()
	}
	return nil
}

// SaveLabel stores one label record.
func (ds *DataStore) SaveLabel(ctx context.Context, rec labeler.LabelRecord) error {
	if err := ds.ready(); err != nil {
		return err
	}
	row := LabelRecord{
		RunID:        rec.RunID,
		OriginalPath: rec.OriginalPath,
		NewPath:      rec.NewPath,
		Status:       rec.Status,
		Kind:         rec.Kind,
		FirstLabel:   rec.First.Name,
		FirstScore:   rec.First.Score,
		FirstYear:    rec.First.Year.String(),
		SecondLabel:  rec.Second.Name,
		SecondScore:  rec.Second.Score,
		SecondYear:   rec.Second.Year.String(),
		TokenIndex:   rec.TokenIndex,
		Attempts:     rec.Attempts,
		DryRun:       rec.DryRun,
		Error:        truncate(rec.Error, 1024),
		CreatedAt:    rec.CreatedAt,
	}
	if err := ds.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return dbError(err, "save_label").Context("path", rec.OriginalPath).Build()
	}
	return nil
}

// ListLabels returns the most recent label records, newest first. A
// non-positive limit returns every record.
func (ds *DataStore) ListLabels(ctx context.Context, limit int) ([]LabelRecord, error) {
	if err := ds.ready(); err != nil {
		return nil, err
	}
	var rows []LabelRecord
	q := ds.DB.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, dbError(err, "list_labels").Build()
	}
	return rows, nil
}

// StartRun records a run in the RUNNING state.
func (ds *DataStore) StartRun(ctx context.Context, info trainer.RunInfo) error {
	if err := ds.ready(); err != nil {
		return err
	}
	snapshot, err := json.Marshal(info.Config)
	if err != nil {
		return dbError(err, "start_run").Category(errors.CategoryValidation).Build()
	}
	run := TrainingRun{
		RunID:          info.RunID,
		Model:          info.Model,
		Loss:           info.Loss,
		Device:         info.Device,
		Config:         string(snapshot),
		Status:         trainer.StatusRunning,
		PlannedEpochs:  info.Epochs,
		BestLoss:       info.Config.BestLoss,
		LearningRate:   info.Config.LearningRate,
		CheckpointPath: info.Config.CheckpointPath,
		StartedAt:      info.StartedAt,
	}
	if err := ds.DB.WithContext(ctx).Create(&run).Error; err != nil {
		return dbError(err, "start_run").Context("run_id", info.RunID).Build()
	}
	return nil
}

// SaveEpoch stores one epoch record.
func (ds *DataStore) SaveEpoch(ctx context.Context, rec trainer.EpochRecord) error {
	if err := ds.ready(); err != nil {
		return err
	}
	row := EpochRecord{
		RunID:          rec.RunID,
		Epoch:          rec.Epoch,
		FirstBatchLoss: rec.FirstBatchLoss,
		TestLoss:       rec.TestLoss,
		BestLoss:       rec.BestLoss,
		LearningRate:   rec.LearningRate,
		Improved:       rec.Improved,
		Decayed:        rec.Decayed,
		Batches:        rec.Batches,
		DurationMs:     rec.Duration.Milliseconds(),
	}
	if err := ds.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return dbError(err, "save_epoch").Context("run_id", rec.RunID).Context("epoch", rec.Epoch).Build()
	}
	return nil
}

// FinishRun stores the final state of a run. A run that was never started
// is created.
func (ds *DataStore) FinishRun(ctx context.Context, summary trainer.RunSummary) error {
	if err := ds.ready(); err != nil {
		return err
	}

	finished := time.Now()
	var run TrainingRun
	err := ds.DB.WithContext(ctx).Where("run_id = ?", summary.RunID).First(&run).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		run = TrainingRun{RunID: summary.RunID, StartedAt: finished.Add(-summary.Duration)}
	case err != nil:
		return dbError(err, "finish_run").Context("run_id", summary.RunID).Build()
	}

	run.Status = summary.Status
	run.EpochsCompleted = summary.Epochs
	run.BestLoss = summary.BestLoss
	run.FinalTestLoss = summary.FinalTestLoss
	run.LearningRate = summary.LearningRate
	run.Improvements = summary.Improvements
	run.CheckpointPath = summary.CheckpointPath
	run.BestPath = summary.BestPath
	run.FinishedAt = &finished
	if summary.Err != nil {
		run.Error = truncate(summary.Err.Error(), 1024)
	}

	if err := ds.DB.WithContext(ctx).Save(&run).Error; err != nil {
		return dbError(err, "finish_run").Context("run_id", summary.RunID).Build()
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (ds *DataStore) ListRuns(ctx context.Context, limit int) ([]TrainingRun, error) {
	if err := ds.ready(); err != nil {
		return nil, err
	}
	var runs []TrainingRun
	q := ds.DB.WithContext(ctx).Order("started_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, dbError(err, "list_runs").Build()
	}
	return runs, nil
}

// GetRun returns one run with its epoch records in epoch order.
func (ds *DataStore) GetRun(ctx context.Context, runID string) (TrainingRun, error) {
	if err := ds.ready(); err != nil {
		return TrainingRun{}, err
	}
	var run TrainingRun
	err := ds.DB.WithContext(ctx).
		Preload("EpochRecords", func(db *gorm.DB) *gorm.DB { return db.Order("epoch ASC") }).
		Where("run_id = ?", runID).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TrainingRun{}, dbError(err, "get_run").Category(errors.CategoryNotFound).Context("run_id", runID).Build()
	}
	if err != nil {
		return TrainingRun{}, dbError(err, "get_run").Context("run_id", runID).Build()
	}
	return run, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var (
	_ Interface           = (*SQLiteStore)(nil)
	_ Interface           = (*MySQLStore)(nil)
	_ labeler.RecordStore = (*DataStore)(nil)
)
