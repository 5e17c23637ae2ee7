//go:build integration

package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/labeler"
	"github.com/tphakala/carnet-go/internal/trainer"
)

func TestMySQLStoreRoundTrip(t *testing.T) {
	ctx := t.Context()

	ctr, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("carnet"),
		tcmysql.WithUsername("carnet"),
		tcmysql.WithPassword("carnet-secret"),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	settings := &conf.Settings{}
	settings.Output.MySQL = conf.MySQLSettings{
		Enabled:  true,
		Username: "carnet",
		Password: "carnet-secret",
		Host:     host,
		Port:     port.Port(),
		Database: "carnet",
	}

	ds := New(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { assert.NoError(t, ds.Close()) })

	require.NoError(t, ds.SaveLabel(ctx, labeler.LabelRecord{
		RunID:        "run-1",
		OriginalPath: "/data/a.jpg",
		Status:       labeler.StatusFailed,
		CreatedAt:    time.Now(),
	}))
	labels, err := ds.ListLabels(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, labels, 1)

	require.NoError(t, ds.StartRun(ctx, trainer.RunInfo{RunID: "run-1", Config: trainer.DefaultConfig(), StartedAt: time.Now()}))
	require.NoError(t, ds.SaveEpoch(ctx, trainer.EpochRecord{RunID: "run-1", Epoch: 1, TestLoss: 0.3}))
	require.NoError(t, ds.FinishRun(ctx, trainer.RunSummary{RunID: "run-1", Status: trainer.StatusFinished, Epochs: 1}))

	run, err := ds.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, trainer.StatusFinished, run.Status)
	assert.Len(t, run.EpochRecords, 1)
}
