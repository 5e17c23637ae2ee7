// Package artifact copies finished checkpoints to local directories and
// remote SFTP or FTP servers.
package artifact

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/logger"
	"github.com/tphakala/carnet-go/internal/trainer"
)

// Target is one upload destination.
type Target interface {
	// Name identifies the target in logs and notifications.
	Name() string
	// Store copies the file at localPath to remoteName under the target
	// directory. The file appears under its final name only when complete.
	Store(ctx context.Context, localPath, remoteName string) error
	// Validate checks that the target is reachable and writable.
	Validate(ctx context.Context) error
}

// FailureNotifier is told about uploads that did not reach their target.
type FailureNotifier interface {
	NotifyArtifactFailure(ctx context.Context, target, path string, cause error) error
}

// Result is the outcome of one file on one target.
type Result struct {
	Target   string
	Path     string
	Remote   string
	Duration time.Duration
	Err      error
}

// NewTarget builds a target from its settings. Source files are read
// from fs.
func NewTarget(s conf.ArtifactTarget, fs afero.Fs) (Target, error) {
	switch strings.ToLower(s.Type) {
	case "local":
		return NewLocalTarget(s.Path, fs)
	case "sftp":
		return NewSFTPTarget(SFTPConfig{
			Host:           s.Host,
			Port:           s.Port,
			Username:       s.Username,
			Password:       s.Password,
			KeyFile:        s.KeyFile,
			KnownHostsFile: s.KnownHostsFile,
			BasePath:       s.Path,
			Timeout:        s.Timeout,
		}, fs)
	case "ftp":
		return NewFTPTarget(FTPConfig{
			Host:     s.Host,
			Port:     s.Port,
			Username: s.Username,
			Password: s.Password,
			BasePath: s.Path,
			Timeout:  s.Timeout,
		}, fs)
	default:
		return nil, errors.Newf("unknown artifact target type %q", s.Type).
			Component("artifact").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// Uploader copies checkpoints to every configured target.
type Uploader struct {
	targets  []Target
	notifier FailureNotifier
	log      logger.Logger
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithNotifier reports failed uploads through n.
func WithNotifier(n FailureNotifier) Option {
	return func(u *Uploader) { u.notifier = n }
}

// WithTargets adds targets built elsewhere.
func WithTargets(targets ...Target) Option {
	return func(u *Uploader) { u.targets = append(u.targets, targets...) }
}

// NewUploader creates an uploader for the configured targets. A disabled
// section gives an uploader with no targets.
func NewUploader(settings *conf.ArtifactSettings, fs afero.Fs, opts ...Option) (*Uploader, error) {
	u := &Uploader{log: GetLogger()}
	if settings != nil && settings.Enabled {
		for i, ts := range settings.Targets {
			t, err := NewTarget(ts, fs)
			if err != nil {
				return nil, errors.New(err).
					Component("artifact").
					Category(errors.CategoryConfiguration).
					Context("target_index", i).
					Build()
			}
			u.targets = append(u.targets, t)
		}
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// Targets returns the configured targets.
func (u *Uploader) Targets() []Target { return u.targets }

// Upload stores every path on every target under its base name. Failures
// are logged and reported, never returned.
func (u *Uploader) Upload(ctx context.Context, paths ...string) []Result {
	var results []Result
	for _, t := range u.targets {
		for _, p := range paths {
			if p == "" {
				continue
			}
			name := filepath.Base(p)
			start := time.Now()
			err := t.Store(ctx, p, name)
			res := Result{Target: t.Name(), Path: p, Remote: name, Duration: time.Since(start), Err: err}
			results = append(results, res)

			if err != nil {
				u.log.Error("checkpoint upload failed",
					logger.String("target", t.Name()),
					logger.String("path", p),
					logger.Error(err))
				if u.notifier != nil {
					if nerr := u.notifier.NotifyArtifactFailure(context.WithoutCancel(ctx), t.Name(), p, err); nerr != nil {
						u.log.Warn("failed to report upload failure", logger.Error(nerr))
					}
				}
				continue
			}
			u.log.Info("checkpoint uploaded",
				logger.String("target", t.Name()),
				logger.String("path", p),
				logger.Duration("duration", res.Duration))
		}
	}
	return results
}

// OnEpoch implements trainer.Observer.
func (u *Uploader) OnEpoch(context.Context, trainer.EpochRecord) error { return nil }

// OnRunComplete uploads the primary and best checkpoints of a finished run.
func (u *Uploader) OnRunComplete(ctx context.Context, summary trainer.RunSummary) error {
	if summary.Status != trainer.StatusFinished || len(u.targets) == 0 {
		return nil
	}
	u.Upload(ctx, summary.CheckpointPath, summary.BestPath)
	return nil
}

var _ trainer.Observer = (*Uploader)(nil)
