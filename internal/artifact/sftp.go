package artifact

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/logger"
)

// SFTPConfig configures an SFTP target.
type SFTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KeyFile        string
	KnownHostsFile string // empty disables host key verification
	BasePath       string
	Timeout        time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

// SFTPTarget uploads over SFTP.
type SFTPTarget struct {
	config SFTPConfig
	fs     afero.Fs
	log    logger.Logger
}

// NewSFTPTarget creates an SFTP target. Source files are read from fs.
func NewSFTPTarget(config SFTPConfig, fs afero.Fs) (*SFTPTarget, error) {
	if config.Host == "" {
		return nil, errors.Newf("sftp: host is required").
			Component("artifact").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if config.Password == "" && config.KeyFile == "" {
		return nil, errors.Newf("sftp: password or key file is required").
			Component("artifact").
			Category(errors.CategoryConfiguration).
			Context("host", config.Host).
			Build()
	}
	if config.Port == 0 {
		config.Port = defaultSFTPPort
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
	return &SFTPTarget{config: config, fs: fs, log: GetLogger().Module("sftp")}, nil
}

// Name returns the name of this target.
func (t *SFTPTarget) Name() string { return "sftp:" + t.config.Host }

func (t *SFTPTarget) clientConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:    t.config.Username,
		Timeout: t.config.Timeout,
	}

	if t.config.KnownHostsFile != "" {
		callback, err := knownhosts.New(t.config.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to load known hosts: %w", err)
		}
		config.HostKeyCallback = callback
	} else {
		t.log.Warn("host key verification disabled", logger.String("host", t.config.Host))
		config.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in when no known_hosts file is configured
	}

	switch {
	case t.config.KeyFile != "":
		key, err := os.ReadFile(t.config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to parse private key: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	default:
		config.Auth = []ssh.AuthMethod{ssh.Password(t.config.Password)}
	}
	return config, nil
}

// connect establishes an SFTP session, giving up when ctx is done.
func (t *SFTPTarget) connect(ctx context.Context) (*sftp.Client, error) {
	config, err := t.clientConfig()
	if err != nil {
		return nil, err
	}

	type connResult struct {
		client *sftp.Client
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		addr := net.JoinHostPort(t.config.Host, strconv.Itoa(t.config.Port))
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to connect: %w", err)}
			return
		}
		client, err := sftp.NewClient(sshConn)
		if err != nil {
			_ = sshConn.Close()
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to create client: %w", err)}
			return
		}
		resultChan <- connResult{client, nil}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-resultChan; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-resultChan:
		return r.client, r.err
	}
}

// Store uploads localPath to a temp name and renames it into place.
func (t *SFTPTarget) Store(ctx context.Context, localPath, remote string) error {
	name, err := remoteName(remote)
	if err != nil {
		return err
	}

	err = withRetry(ctx, t.config.MaxRetries, t.config.RetryBackoff, func() error {
		client, err := t.connect(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.MkdirAll(t.config.BasePath); err != nil {
			return fmt.Errorf("sftp: failed to create directory %s: %w", t.config.BasePath, err)
		}

		final := path.Join(t.config.BasePath, name)
		tmp := path.Join(t.config.BasePath, tempName(name))
		if err := t.upload(client, localPath, tmp); err != nil {
			_ = client.Remove(tmp)
			return err
		}
		if err := client.PosixRename(tmp, final); err != nil {
			_ = client.Remove(tmp)
			return fmt.Errorf("sftp: failed to rename %s: %w", tmp, err)
		}
		return nil
	})
	if err != nil {
		return targetError(err, t.Name(), "store").Context("path", localPath).Build()
	}
	return nil
}

func (t *SFTPTarget) upload(client *sftp.Client, localPath, remotePath string) error {
	src, err := t.fs.Open(localPath)
	if err != nil {
		return fmt.Errorf("sftp: failed to open local file: %w", err)
	}
	defer src.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("sftp: failed to create file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("sftp: failed to write file: %w", err)
	}
	return dst.Close()
}

// Validate connects and creates and removes a probe directory.
func (t *SFTPTarget) Validate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	client, err := t.connect(ctx)
	if err != nil {
		return targetError(err, t.Name(), "validate").Build()
	}
	defer client.Close()

	probe := path.Join(t.config.BasePath, ".write_test")
	if err := client.MkdirAll(probe); err != nil {
		return targetError(err, t.Name(), "validate").Build()
	}
	if err := client.RemoveDirectory(probe); err != nil {
		t.log.Warn("failed to remove probe directory", logger.String("path", probe), logger.Error(err))
	}
	return nil
}
