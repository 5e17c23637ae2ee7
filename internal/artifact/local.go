package artifact

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/tphakala/carnet-go/internal/errors"
)

const (
	dirPermissions  = 0o755
	filePermissions = 0o644
)

// LocalTarget copies checkpoints into a directory.
type LocalTarget struct {
	dir string
	fs  afero.Fs
}

// NewLocalTarget creates a local target rooted at dir.
func NewLocalTarget(dir string, fs afero.Fs) (*LocalTarget, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.Newf("local target: path is required").
			Component("artifact").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &LocalTarget{dir: filepath.Clean(dir), fs: fs}, nil
}

// Name returns the name of this target.
func (t *LocalTarget) Name() string { return "local:" + t.dir }

// Store copies localPath into the target directory through a temp file
// and a rename.
func (t *LocalTarget) Store(ctx context.Context, localPath, remote string) error {
	name, err := remoteName(remote)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.fs.MkdirAll(t.dir, dirPermissions); err != nil {
		return t.ioError(err, "mkdir", localPath)
	}

	src, err := t.fs.Open(localPath)
	if err != nil {
		return t.ioError(err, "open_source", localPath)
	}
	defer src.Close()

	final := filepath.Join(t.dir, name)
	tmp := filepath.Join(t.dir, tempName(name))
	dst, err := t.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermissions)
	if err != nil {
		return t.ioError(err, "create_temp", localPath)
	}

	_, copyErr := io.Copy(dst, src)
	if copyErr == nil {
		copyErr = dst.Sync()
	}
	if closeErr := dst.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = t.fs.Remove(tmp)
		return t.ioError(copyErr, "copy", localPath)
	}

	if err := t.fs.Rename(tmp, final); err != nil {
		_ = t.fs.Remove(tmp)
		return t.ioError(err, "rename", localPath)
	}
	return nil
}

// Validate checks that the directory can be created and written.
func (t *LocalTarget) Validate(context.Context) error {
	if err := t.fs.MkdirAll(t.dir, dirPermissions); err != nil {
		return t.ioError(err, "mkdir", t.dir)
	}
	probe := filepath.Join(t.dir, tempPrefix+"probe")
	if err := afero.WriteFile(t.fs, probe, nil, filePermissions); err != nil {
		return t.ioError(err, "write_probe", t.dir)
	}
	return t.fs.Remove(probe)
}

func (t *LocalTarget) ioError(err error, operation, path string) error {
	return errors.New(err).
		Component("artifact").
		Category(errors.CategoryFileIO).
		Context("target", t.Name()).
		Context("operation", operation).
		Context("path", path).
		Build()
}
