package datastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/carnet-go/internal/classify"
	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/labeler"
	"github.com/tphakala/carnet-go/internal/trainer"
)

// createDatabase opens a fresh SQLite store in a temp dir.
func createDatabase(t *testing.T) Interface {
	t.Helper()

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "db", "carnet.db")

	ds := New(settings)
	require.NotNil(t, ds)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { assert.NoError(t, ds.Close()) })
	return ds
}

func TestNewSelectsBackend(t *testing.T) {
	settings := &conf.Settings{}
	assert.Nil(t, New(settings))

	settings.Output.MySQL.Enabled = true
	assert.IsType(t, &MySQLStore{}, New(settings))

	settings.Output.SQLite.Enabled = true
	assert.IsType(t, &SQLiteStore{}, New(settings))
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn := BuildMySQLDSN(&conf.MySQLSettings{
		Username: "carnet",
		Password: "p@ss:word",
		Host:     "db.local",
		Port:     "3306",
		Database: "carnet",
	})

	parsed, err := mysqldriver.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "carnet", parsed.User)
	assert.Equal(t, "p@ss:word", parsed.Passwd)
	assert.Equal(t, "tcp", parsed.Net)
	assert.Equal(t, "db.local:3306", parsed.Addr)
	assert.Equal(t, "carnet", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestSaveAndListLabels(t *testing.T) {
	ds := createDatabase(t)
	ctx := t.Context()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, ds.SaveLabel(ctx, labeler.LabelRecord{
		RunID:        "run-1",
		OriginalPath: "/data/a.jpg",
		NewPath:      "/data/a_baidu_Toyota_0.9_2015_Honda_0.1_2016款.jpg",
		Status:       labeler.StatusLabeled,
		Kind:         "ok",
		First:        classify.Choice{Name: "Toyota", Score: 0.9, Year: classify.IntYear(2015)},
		Second:       classify.Choice{Name: "Honda", Score: 0.1, Year: classify.TextYear("2016款")},
		Attempts:     1,
		CreatedAt:    created,
	}))
	require.NoError(t, ds.SaveLabel(ctx, labeler.LabelRecord{
		RunID:        "run-1",
		OriginalPath: "/data/b.jpg",
		Status:       labeler.StatusSkippedQuota,
		TokenIndex:   1,
		Attempts:     2,
		Error:        "quota exhausted",
		CreatedAt:    created.Add(time.Second),
	}))

	rows, err := ds.ListLabels(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "/data/b.jpg", rows[0].OriginalPath, "newest first")
	assert.Equal(t, labeler.StatusSkippedQuota, rows[0].Status)
	assert.Equal(t, 1, rows[0].TokenIndex)

	assert.Equal(t, "Toyota", rows[1].FirstLabel)
	assert.InDelta(t, 0.9, rows[1].FirstScore, 1e-12)
	assert.Equal(t, "2015", rows[1].FirstYear)
	assert.Equal(t, "2016款", rows[1].SecondYear)

	limited, err := ds.ListLabels(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRunRecorderLifecycle(t *testing.T) {
	ds := createDatabase(t)
	ctx := t.Context()
	rec := NewRunRecorder(ds)

	cfg := trainer.DefaultConfig()
	cfg.CheckpointPath = "model.ckpt"
	require.NoError(t, rec.OnRunStart(ctx, trainer.RunInfo{
		RunID:     "run-42",
		Model:     "mlp-6-5-4-3",
		Loss:      "smooth_l1",
		Epochs:    2,
		Config:    cfg,
		Device:    "cpu",
		StartedAt: time.Now(),
	}))

	running, err := ds.GetRun(ctx, "run-42")
	require.NoError(t, err)
	assert.Equal(t, trainer.StatusRunning, running.Status)
	assert.Contains(t, running.Config, `"CheckpointPath":"model.ckpt"`)

	for epoch, loss := range []float64{0.5, 0.4} {
		require.NoError(t, rec.OnEpoch(ctx, trainer.EpochRecord{
			RunID:    "run-42",
			Epoch:    epoch + 1,
			TestLoss: loss,
			Improved: true,
			Duration: 1500 * time.Millisecond,
		}))
	}

	require.NoError(t, rec.OnRunComplete(ctx, trainer.RunSummary{
		RunID:          "run-42",
		Status:         trainer.StatusFinished,
		Epochs:         2,
		BestLoss:       0.4,
		FinalTestLoss:  0.4,
		Improvements:   2,
		CheckpointPath: "model.ckpt",
		BestPath:       "model_best.ckpt",
	}))

	run, err := ds.GetRun(ctx, "run-42")
	require.NoError(t, err)
	assert.Equal(t, trainer.StatusFinished, run.Status)
	assert.Equal(t, 2, run.EpochsCompleted)
	assert.Equal(t, 2, run.PlannedEpochs)
	assert.Equal(t, "model_best.ckpt", run.BestPath)
	require.NotNil(t, run.FinishedAt)
	require.Len(t, run.EpochRecords, 2)
	assert.Equal(t, 1, run.EpochRecords[0].Epoch)
	assert.Equal(t, int64(1500), run.EpochRecords[0].DurationMs)

	runs, err := ds.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestFinishRunWithoutStart(t *testing.T) {
	ds := createDatabase(t)
	ctx := t.Context()

	require.NoError(t, ds.FinishRun(ctx, trainer.RunSummary{
		RunID:  "orphan",
		Status: trainer.StatusFailed,
		Err:    errors.NewStd("dataset missing"),
	}))

	run, err := ds.GetRun(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, trainer.StatusFailed, run.Status)
	assert.Equal(t, "dataset missing", run.Error)
}

func TestGetRunNotFound(t *testing.T) {
	ds := createDatabase(t)

	_, err := ds.GetRun(t.Context(), "missing")

	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestUnopenedStore(t *testing.T) {
	store := &SQLiteStore{Settings: &conf.Settings{}}

	err := store.SaveLabel(context.Background(), labeler.LabelRecord{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
	assert.NoError(t, store.Close())
}
