package artifact

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/trainer"
)

type fakeTarget struct {
	name string
	err  error

	mu     sync.Mutex
	stored []string
}

func (f *fakeTarget) Name() string { return f.name }

func (f *fakeTarget) Store(_ context.Context, localPath, remote string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, localPath+"->"+remote)
	return f.err
}

func (f *fakeTarget) Validate(context.Context) error { return f.err }

type fakeNotifier struct {
	calls []string
}

func (n *fakeNotifier) NotifyArtifactFailure(_ context.Context, target, path string, _ error) error {
	n.calls = append(n.calls, target+":"+path)
	return nil
}

func TestLocalTargetStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/runs/model.ckpt", []byte("weights"), 0o644))

	target, err := NewLocalTarget("/archive/cars", fs)
	require.NoError(t, err)
	require.NoError(t, target.Validate(t.Context()))

	require.NoError(t, target.Store(t.Context(), "/runs/model.ckpt", "model.ckpt"))

	data, err := afero.ReadFile(fs, "/archive/cars/model.ckpt")
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	entries, err := afero.ReadDir(fs, "/archive/cars")
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
	assert.Equal(t, "local:/archive/cars", target.Name())
}

func TestLocalTargetErrors(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := NewLocalTarget(" ", fs)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	target, err := NewLocalTarget("/archive", fs)
	require.NoError(t, err)

	err = target.Store(t.Context(), "/missing.ckpt", "missing.ckpt")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))

	err = target.Store(t.Context(), "/missing.ckpt", "../escape.ckpt")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestRemoteName(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"model.ckpt", "model.ckpt", true},
		{"./model_best.ckpt", "model_best.ckpt", true},
		{"", "", false},
		{".", "", false},
		{"..", "", false},
		{"a/b.ckpt", "", false},
		{"../b.ckpt", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := remoteName(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewTarget(t *testing.T) {
	fs := afero.NewMemMapFs()

	tgt, err := NewTarget(conf.ArtifactTarget{Type: "LOCAL", Path: "/out"}, fs)
	require.NoError(t, err)
	assert.IsType(t, &LocalTarget{}, tgt)

	tgt, err = NewTarget(conf.ArtifactTarget{Type: "sftp", Host: "nas", Password: "pw"}, fs)
	require.NoError(t, err)
	assert.Equal(t, "sftp:nas", tgt.Name())

	tgt, err = NewTarget(conf.ArtifactTarget{Type: "ftp", Host: "nas"}, fs)
	require.NoError(t, err)
	assert.Equal(t, "ftp:nas", tgt.Name())

	_, err = NewTarget(conf.ArtifactTarget{Type: "sftp", Host: "nas"}, fs)
	assert.Error(t, err, "sftp needs a password or key")

	_, err = NewTarget(conf.ArtifactTarget{Type: "s3"}, fs)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestUploaderOnRunComplete(t *testing.T) {
	good := &fakeTarget{name: "good"}
	bad := &fakeTarget{name: "bad", err: errors.NewStd("disk full")}
	notifier := &fakeNotifier{}

	u, err := NewUploader(&conf.ArtifactSettings{}, afero.NewMemMapFs(), WithTargets(good, bad), WithNotifier(notifier))
	require.NoError(t, err)
	require.Len(t, u.Targets(), 2)

	require.NoError(t, u.OnRunComplete(t.Context(), trainer.RunSummary{
		Status:         trainer.StatusFinished,
		CheckpointPath: "/runs/model.ckpt",
		BestPath:       "/runs/model_best.ckpt",
	}))

	assert.Equal(t, []string{
		"/runs/model.ckpt->model.ckpt",
		"/runs/model_best.ckpt->model_best.ckpt",
	}, good.stored)
	assert.Len(t, bad.stored, 2)
	assert.Equal(t, []string{"bad:/runs/model.ckpt", "bad:/runs/model_best.ckpt"}, notifier.calls)
}

func TestUploaderSkipsUnfinishedRuns(t *testing.T) {
	target := &fakeTarget{name: "t"}
	u, err := NewUploader(nil, nil, WithTargets(target))
	require.NoError(t, err)

	require.NoError(t, u.OnRunComplete(t.Context(), trainer.RunSummary{Status: trainer.StatusKilled, CheckpointPath: "x.ckpt"}))
	require.NoError(t, u.OnRunComplete(t.Context(), trainer.RunSummary{Status: trainer.StatusFinished, CheckpointPath: "x.ckpt"}))

	assert.Equal(t, []string{"x.ckpt->x.ckpt"}, target.stored, "empty best path is skipped")
}

func TestUploaderFromSettings(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/runs/m.ckpt", []byte("w"), 0o644))

	u, err := NewUploader(&conf.ArtifactSettings{
		Enabled: true,
		Targets: []conf.ArtifactTarget{{Type: "local", Path: "/copy"}},
	}, fs)
	require.NoError(t, err)

	results := u.Upload(t.Context(), "/runs/m.ckpt")
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	ok, err := afero.Exists(fs, "/copy/m.ckpt")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = NewUploader(&conf.ArtifactSettings{
		Enabled: true,
		Targets: []conf.ArtifactTarget{{Type: "gopher"}},
	}, fs)
	assert.Error(t, err)
}

func TestIsTransientError(t *testing.T) {
	assert.False(t, IsTransientError(nil))
	assert.True(t, IsTransientError(errors.NewStd("dial tcp: connection refused")))
	assert.True(t, IsTransientError(errors.NewStd("unexpected EOF")))
	assert.False(t, IsTransientError(errors.NewStd("530 login incorrect")))
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := withRetry(t.Context(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.NewStd("connection reset by peer")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = withRetry(t.Context(), 3, time.Millisecond, func() error {
		calls++
		return errors.NewStd("permission denied")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors are not retried")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err = withRetry(ctx, 3, time.Millisecond, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

// closedPort returns a local port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestRemoteTargetsUnreachable(t *testing.T) {
	port := closedPort(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/m.ckpt", []byte("w"), 0o644))

	ftpTarget, err := NewFTPTarget(FTPConfig{
		Host:         "127.0.0.1",
		Port:         port,
		Timeout:      2 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}, fs)
	require.NoError(t, err)
	err = ftpTarget.Store(t.Context(), "/m.ckpt", "m.ckpt")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))

	sftpTarget, err := NewSFTPTarget(SFTPConfig{
		Host:         "127.0.0.1",
		Port:         port,
		Password:     "pw",
		Timeout:      2 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}, fs)
	require.NoError(t, err)
	err = sftpTarget.Store(t.Context(), "/m.ckpt", "m.ckpt")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "connection refused") || strings.Contains(err.Error(), "failed to connect"))
}
