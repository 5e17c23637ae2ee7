package artifact

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/tphakala/carnet-go/internal/errors"
)

// startSFTPServer serves SFTP over SSH on a loopback port, rooted at dir,
// accepting user "carnet" with password "secret".
func startSFTPServer(t *testing.T, dir string) int {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "carnet" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, errors.NewStd("access denied")
		},
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(conn, config, dir)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func serveSSH(conn net.Conn, config *ssh.ServerConfig, dir string) {
	defer conn.Close()
	_, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			return
		}
		go func(in <-chan *ssh.Request) {
			for req := range in {
				ok := req.Type == "subsystem" && len(req.Payload) > 4 &&
					binary.BigEndian.Uint32(req.Payload) == 4 && string(req.Payload[4:]) == "sftp"
				_ = req.Reply(ok, nil)
			}
		}(requests)

		server, err := sftp.NewServer(channel, sftp.WithServerWorkingDirectory(dir))
		if err != nil {
			_ = channel.Close()
			continue
		}
		_ = server.Serve()
		_ = server.Close()
	}
}

func TestSFTPTargetStore(t *testing.T) {
	remoteDir := t.TempDir()
	port := startSFTPServer(t, remoteDir)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/runs/model_best.ckpt", []byte("best weights"), 0o644))

	target, err := NewSFTPTarget(SFTPConfig{
		Host:         "127.0.0.1",
		Port:         port,
		Username:     "carnet",
		Password:     "secret",
		BasePath:     "checkpoints/cars",
		Timeout:      5 * time.Second,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	}, fs)
	require.NoError(t, err)

	require.NoError(t, target.Validate(t.Context()))
	require.NoError(t, target.Store(t.Context(), "/runs/model_best.ckpt", "model_best.ckpt"))

	data, err := os.ReadFile(filepath.Join(remoteDir, "checkpoints", "cars", "model_best.ckpt"))
	require.NoError(t, err)
	assert.Equal(t, "best weights", string(data))

	entries, err := os.ReadDir(filepath.Join(remoteDir, "checkpoints", "cars"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp upload renamed into place")
}

func TestSFTPTargetBadPassword(t *testing.T) {
	port := startSFTPServer(t, t.TempDir())

	target, err := NewSFTPTarget(SFTPConfig{
		Host:         "127.0.0.1",
		Port:         port,
		Username:     "carnet",
		Password:     "wrong",
		Timeout:      5 * time.Second,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	}, afero.NewMemMapFs())
	require.NoError(t, err)

	assert.Error(t, target.Validate(t.Context()))
}
