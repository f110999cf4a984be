package publish

import (
	"context"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTPConfig configures an FTP target.
type FTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	BasePath string
	Timeout  time.Duration
}

// FTPTarget uploads exports over FTP.
type FTPTarget struct {
	config FTPConfig
}

// NewFTPTarget validates config.
func NewFTPTarget(config *FTPConfig) (*FTPTarget, error) {
	cfg := *config
	if cfg.Host == "" {
		return nil, configError("ftp", "host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 21
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")
	return &FTPTarget{config: cfg}, nil
}

func (t *FTPTarget) Name() string { return "ftp" }

func (t *FTPTarget) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := net.JoinHostPort(t.config.Host, strconv.Itoa(t.config.Port))
	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(t.config.Timeout))
	if err != nil {
		return nil, networkError("ftp", "dial", err)
	}
	if t.config.Username != "" {
		if err := conn.Login(t.config.Username, t.config.Password); err != nil {
			_ = conn.Quit()
			return nil, networkError("ftp", "login", err)
		}
	}
	return conn, nil
}

// ensureDir creates each missing component of the absolute path dir.
func ensureDir(conn *ftp.ServerConn, dir string) error {
	current := "/"
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		current = path.Join(current, part)
		// MakeDir fails when the directory exists; ChangeDir tells us whether it does.
		if err := conn.ChangeDir(current); err == nil {
			continue
		}
		if err := conn.MakeDir(current); err != nil {
			return err
		}
	}
	return nil
}

// Upload stores to a temporary name and renames it into place.
func (t *FTPTarget) Upload(ctx context.Context, localPath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return ioError("ftp", "open", localPath, err)
	}
	defer src.Close()

	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Quit() }()

	dir := t.config.BasePath
	if !path.IsAbs(dir) {
		start, err := conn.CurrentDir()
		if err != nil {
			return networkError("ftp", "pwd", err)
		}
		dir = path.Join(start, dir)
	}
	if err := ensureDir(conn, dir); err != nil {
		return networkError("ftp", "mkdir", err)
	}

	name := filepath.Base(localPath)
	final := path.Join(dir, name)
	tmp := path.Join(dir, tempPrefix+name)

	if err := conn.Stor(tmp, &ctxReader{ctx: ctx, r: src}); err != nil {
		_ = conn.Delete(tmp)
		return networkError("ftp", "stor", err)
	}
	if err := conn.Rename(tmp, final); err != nil {
		_ = conn.Delete(tmp)
		return networkError("ftp", "rename", err)
	}
	return nil
}
