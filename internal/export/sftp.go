package export

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/logging"
)

const sftpConnectTimeout = 30 * time.Second

// SFTPTarget uploads artifacts over SFTP. Each operation opens its own
// connection; the drop target sees at most one connection per finished task.
type SFTPTarget struct {
	host     string
	port     string
	username string
	password string
	keyFile  string
	basePath string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSFTPTarget builds an SFTP drop target from the export configuration.
func NewSFTPTarget(settings *conf.ExportSettings) (*SFTPTarget, error) {
	if settings.Host == "" {
		return nil, exportConfigError("export host is not configured")
	}
	port := settings.Port
	if port == "" {
		port = "22"
	}
	if _, err := strconv.Atoi(port); err != nil {
		return nil, exportConfigError("invalid export port: " + settings.Port)
	}
	if settings.KeyFile == "" && settings.Password == "" {
		return nil, exportConfigError("sftp export needs a keyfile or a password")
	}
	return &SFTPTarget{
		host:     settings.Host,
		port:     port,
		username: settings.Username,
		password: settings.Password,
		keyFile:  settings.KeyFile,
		basePath: strings.TrimRight(settings.Path, "/"),
		timeout:  sftpConnectTimeout,
		logger:   logging.ForService("export"),
	}, nil
}

// Name identifies the target type.
func (t *SFTPTarget) Name() string { return "sftp" }

// sftpConn pairs the SFTP client with its underlying SSH connection so both
// are closed together.
type sftpConn struct {
	ssh    *ssh.Client
	client *sftp.Client
}

func (c *sftpConn) Close() {
	c.client.Close()
	c.ssh.Close()
}

// connect dials the SSH server and opens an SFTP session. The dial runs in a
// goroutine so a cancelled context returns immediately instead of waiting out
// the network timeout.
func (t *SFTPTarget) connect(ctx context.Context) (*sftpConn, error) {
	type connResult struct {
		conn *sftpConn
		err  error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		config := &ssh.ClientConfig{
			User:            t.username,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Use ssh.FixedHostKey or ssh.KnownHosts when the drop target's key is known.
			Timeout:         t.timeout,
		}

		switch {
		case t.keyFile != "":
			key, err := os.ReadFile(t.keyFile)
			if err != nil {
				resultChan <- connResult{nil, sftpError("failed to read private key", err)}
				return
			}
			signer, err := ssh.ParsePrivateKey(key)
			if err != nil {
				resultChan <- connResult{nil, sftpError("failed to parse private key", err)}
				return
			}
			config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
		default:
			config.Auth = []ssh.AuthMethod{ssh.Password(t.password)}
		}

		addr := net.JoinHostPort(t.host, t.port)
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{nil, sftpError("failed to connect", err)}
			return
		}

		client, err := sftp.NewClient(sshConn)
		if err != nil {
			sshConn.Close()
			resultChan <- connResult{nil, sftpError("failed to open sftp session", err)}
			return
		}

		resultChan <- connResult{&sftpConn{ssh: sshConn, client: client}, nil}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChan:
		return result.conn, result.err
	}
}

// Upload writes data under remoteName in the base directory, creating the
// directory on first use.
func (t *SFTPTarget) Upload(ctx context.Context, remoteName string, data io.Reader) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if t.basePath != "" {
		if err := conn.client.MkdirAll(t.basePath); err != nil {
			return sftpError("failed to create directory "+t.basePath, err)
		}
	}

	remotePath := path.Join(t.basePath, remoteName)
	dst, err := conn.client.Create(remotePath)
	if err != nil {
		return sftpError("failed to create "+remotePath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, data); err != nil {
		return sftpError("failed to write "+remotePath, err)
	}
	t.logger.Debug("sftp upload complete", "host", t.host, "path", remotePath)
	return nil
}

// Validate connects and round-trips a scratch directory to prove the base
// path is writable.
func (t *SFTPTarget) Validate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	testDir := path.Join(t.basePath, ".write_test")
	if err := conn.client.MkdirAll(testDir); err != nil {
		return sftpError("failed to create test directory", err)
	}
	if err := conn.client.RemoveDirectory(testDir); err != nil {
		t.logger.Warn("failed to remove test directory", "path", testDir, "error", err)
	}
	return nil
}

func sftpError(message string, err error) error {
	return errors.Newf("sftp: %s: %w", message, err).
		Component("export").
		Category(errors.CategoryExport).
		Kind(errors.KindConnection).
		Build()
}

func exportConfigError(message string) error {
	return errors.Newf("%s", message).
		Component("export").
		Category(errors.CategoryValidation).
		Kind(errors.KindInvalidInput).
		Build()
}
