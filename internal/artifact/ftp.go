package artifact

import (
	"context"
	"fmt"
	"net"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/spf13/afero"

	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/logger"
)

// FTPConfig configures an FTP target.
type FTPConfig struct {
	Host         string
	Port         int
	Username     string
	Password     string
	BasePath     string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// FTPTarget uploads over FTP.
type FTPTarget struct {
	config FTPConfig
	fs     afero.Fs
	log    logger.Logger
}

// NewFTPTarget creates an FTP target. Source files are read from fs.
func NewFTPTarget(config FTPConfig, fs afero.Fs) (*FTPTarget, error) {
	if config.Host == "" {
		return nil, errors.Newf("ftp: host is required").
			Component("artifact").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if config.Port == 0 {
		config.Port = defaultFTPPort
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = defaultBackoff
	}
	config.BasePath = strings.TrimRight(config.BasePath, "/")
	if config.BasePath == "" {
		config.BasePath = "checkpoints"
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FTPTarget{config: config, fs: fs, log: GetLogger().Module("ftp")}, nil
}

// Name returns the name of this target.
func (t *FTPTarget) Name() string { return "ftp:" + t.config.Host }

func (t *FTPTarget) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := net.JoinHostPort(t.config.Host, strconv.Itoa(t.config.Port))
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(t.config.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp: connection failed: %w", err)
	}
	if t.config.Username != "" {
		if err := conn.Login(t.config.Username, t.config.Password); err != nil {
			if quitErr := conn.Quit(); quitErr != nil {
				t.log.Debug("failed to quit after login error", logger.Error(quitErr))
			}
			return nil, fmt.Errorf("ftp: login failed: %w", err)
		}
	}
	return conn, nil
}

// Store uploads localPath to a temp name and renames it into place.
func (t *FTPTarget) Store(ctx context.Context, localPath, remote string) error {
	name, err := remoteName(remote)
	if err != nil {
		return err
	}

	err = withRetry(ctx, t.config.MaxRetries, t.config.RetryBackoff, func() error {
		conn, err := t.connect(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = conn.Quit() }()

		if err := t.createDirectory(conn, t.config.BasePath); err != nil {
			return err
		}

		final := path.Join(t.config.BasePath, name)
		tmp := path.Join(t.config.BasePath, tempName(name))
		if err := t.upload(conn, localPath, tmp); err != nil {
			_ = conn.Delete(tmp)
			return err
		}
		if err := conn.Rename(tmp, final); err != nil {
			_ = conn.Delete(tmp)
			return fmt.Errorf("ftp: failed to rename temporary file: %w", err)
		}
		return nil
	})
	if err != nil {
		return targetError(err, t.Name(), "store").Context("path", localPath).Build()
	}
	return nil
}

func (t *FTPTarget) upload(conn *ftp.ServerConn, localPath, remotePath string) error {
	src, err := t.fs.Open(localPath)
	if err != nil {
		return fmt.Errorf("ftp: failed to open local file: %w", err)
	}
	defer src.Close()

	if err := conn.Stor(remotePath, src); err != nil {
		return fmt.Errorf("ftp: failed to store file: %w", err)
	}
	return nil
}

// createDirectory creates each missing element of dir.
func (t *FTPTarget) createDirectory(conn *ftp.ServerConn, dir string) error {
	current := ""
	if strings.HasPrefix(dir, "/") {
		current = "/"
	}
	for part := range strings.SplitSeq(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		current = path.Join(current, part)
		if err := conn.MakeDir(current); err != nil && !dirExists(err) {
			return fmt.Errorf("ftp: failed to create directory %s: %w", current, err)
		}
	}
	return nil
}

func dirExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "file exists") ||
		strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "directory exists") ||
		strings.Contains(msg, "550")
}

// Validate connects, logs in and creates the base directory.
func (t *FTPTarget) Validate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	conn, err := t.connect(ctx)
	if err != nil {
		return targetError(err, t.Name(), "validate").Build()
	}
	defer func() { _ = conn.Quit() }()

	if err := t.createDirectory(conn, t.config.BasePath); err != nil {
		return targetError(err, t.Name(), "validate").Build()
	}
	return nil
}
