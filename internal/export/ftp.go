package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/logging"
)

const ftpConnectTimeout = 30 * time.Second

// FTPTarget uploads artifacts over FTP. Uploads go to a temporary name and
// rename into place, so a consumer polling the drop directory never sees a
// half-written artifact.
type FTPTarget struct {
	addr     string
	username string
	password string
	basePath string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewFTPTarget builds an FTP drop target from the export configuration.
func NewFTPTarget(settings *conf.ExportSettings) (*FTPTarget, error) {
	if settings.Host == "" {
		return nil, exportConfigError("export host is not configured")
	}
	port := settings.Port
	if port == "" {
		port = "21"
	}
	if _, err := strconv.Atoi(port); err != nil {
		return nil, exportConfigError("invalid export port: " + settings.Port)
	}
	return &FTPTarget{
		addr:     net.JoinHostPort(settings.Host, port),
		username: settings.Username,
		password: settings.Password,
		basePath: strings.TrimRight(settings.Path, "/"),
		timeout:  ftpConnectTimeout,
		logger:   logging.ForService("export"),
	}, nil
}

// Name identifies the target type.
func (t *FTPTarget) Name() string { return "ftp" }

// connect dials and logs in. The dial runs in a goroutine so a cancelled
// context returns immediately instead of waiting out the network timeout.
func (t *FTPTarget) connect(ctx context.Context) (*ftp.ServerConn, error) {
	type connResult struct {
		conn *ftp.ServerConn
		err  error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		conn, err := ftp.Dial(t.addr, ftp.DialWithTimeout(t.timeout))
		if err != nil {
			resultChan <- connResult{nil, ftpError("connection failed", err)}
			return
		}
		if t.username != "" {
			if err := conn.Login(t.username, t.password); err != nil {
				if quitErr := conn.Quit(); quitErr != nil {
					t.logger.Warn("failed to quit after login error", "error", quitErr)
				}
				resultChan <- connResult{nil, ftpError("login failed", err)}
				return
			}
		}
		resultChan <- connResult{conn, nil}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChan:
		return result.conn, result.err
	}
}

// Upload streams data to a temporary name in the base directory and renames
// it to remoteName once the transfer completes.
func (t *FTPTarget) Upload(ctx context.Context, remoteName string, data io.Reader) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			t.logger.Warn("failed to quit ftp connection", "error", err)
		}
	}()

	if err := t.createDirectory(conn, t.basePath); err != nil {
		return err
	}

	tempName := path.Join(t.basePath, fmt.Sprintf("upload-%d-%d", time.Now().UnixNano(), os.Getpid()))
	if err := conn.Stor(tempName, data); err != nil {
		return ftpError("failed to store "+remoteName, err)
	}
	if err := ctx.Err(); err != nil {
		_ = conn.Delete(tempName)
		return err
	}

	remotePath := path.Join(t.basePath, remoteName)
	if err := conn.Rename(tempName, remotePath); err != nil {
		_ = conn.Delete(tempName)
		return ftpError("failed to rename "+tempName, err)
	}
	t.logger.Debug("ftp upload complete", "addr", t.addr, "path", remotePath)
	return nil
}

// Validate connects and ensures the base directory exists.
func (t *FTPTarget) Validate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			t.logger.Warn("failed to quit ftp connection", "error", err)
		}
	}()
	return t.createDirectory(conn, t.basePath)
}

// createDirectory makes dirPath on the server, tolerating servers that
// report an already existing directory as an error.
func (t *FTPTarget) createDirectory(conn *ftp.ServerConn, dirPath string) error {
	if dirPath == "" {
		return nil
	}

	currentDir, err := conn.CurrentDir()
	if err != nil {
		return ftpError("failed to get current directory", err)
	}
	if err := conn.ChangeDir(dirPath); err == nil {
		_ = conn.ChangeDir(currentDir)
		return nil
	}

	if err := conn.MakeDir(dirPath); err != nil {
		errStr := strings.ToLower(err.Error())
		if strings.Contains(errStr, "exists") || strings.Contains(errStr, "550") {
			return nil
		}
		return ftpError("failed to create directory "+dirPath, err)
	}
	return nil
}

func ftpError(message string, err error) error {
	return errors.Newf("ftp: %s: %w", message, err).
		Component("export").
		Category(errors.CategoryExport).
		Kind(errors.KindConnection).
		Build()
}
