package publish

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPConfig configures an SFTP target.
type SFTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KeyFile        string
	KnownHostsFile string
	BasePath       string
	Timeout        time.Duration
}

// SFTPTarget uploads exports over SFTP. Host keys are always verified
// against a known_hosts file.
type SFTPTarget struct {
	config SFTPConfig
	auth   []ssh.AuthMethod
	hostKB ssh.HostKeyCallback
}

// DefaultKnownHostsFile returns ~/.ssh/known_hosts.
func DefaultKnownHostsFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}

// NewSFTPTarget validates config and loads credentials and host keys.
func NewSFTPTarget(config *SFTPConfig) (*SFTPTarget, error) {
	cfg := *config
	if cfg.Host == "" {
		return nil, configError("sftp", "host is required")
	}
	if cfg.Username == "" {
		return nil, configError("sftp", "username is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")
	if cfg.BasePath == "" {
		cfg.BasePath = "."
	}
	if cfg.KnownHostsFile == "" {
		cfg.KnownHostsFile = DefaultKnownHostsFile()
	}

	t := &SFTPTarget{config: cfg}

	switch {
	case cfg.KeyFile != "":
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, ioError("sftp", "read_key", cfg.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, configError("sftp", fmt.Sprintf("cannot parse private key: %v", err))
		}
		t.auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case cfg.Password != "":
		t.auth = []ssh.AuthMethod{ssh.Password(cfg.Password)}
	default:
		return nil, configError("sftp", "a key file or password is required")
	}

	callback, err := knownhosts.New(cfg.KnownHostsFile)
	if err != nil {
		return nil, ioError("sftp", "read_known_hosts", cfg.KnownHostsFile, err)
	}
	t.hostKB = callback
	return t, nil
}

func (t *SFTPTarget) Name() string { return "sftp" }

func (t *SFTPTarget) addr() string {
	return net.JoinHostPort(t.config.Host, strconv.Itoa(t.config.Port))
}

// connect dials SSH and opens an SFTP session, giving up when ctx ends.
func (t *SFTPTarget) connect(ctx context.Context) (*sftp.Client, func(), error) {
	type result struct {
		client *sftp.Client
		conn   *ssh.Client
		err    error
	}
	done := make(chan result, 1)

	go func() {
		conn, err := ssh.Dial("tcp", t.addr(), &ssh.ClientConfig{
			User:            t.config.Username,
			Auth:            t.auth,
			HostKeyCallback: t.hostKB,
			Timeout:         t.config.Timeout,
		})
		if err != nil {
			done <- result{err: networkError("sftp", "dial", err)}
			return
		}
		client, err := sftp.NewClient(conn)
		if err != nil {
			conn.Close()
			done <- result{err: networkError("sftp", "session", err)}
			return
		}
		done <- result{client: client, conn: conn}
	}()

	select {
	case <-ctx.Done():
		go func() {
			// close whatever the dial eventually produces
			if r := <-done; r.err == nil {
				r.client.Close()
				r.conn.Close()
			}
		}()
		return nil, nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, nil, r.err
		}
		return r.client, func() {
			r.client.Close()
			r.conn.Close()
		}, nil
	}
}

// Upload writes to a temporary remote name and renames it into place.
func (t *SFTPTarget) Upload(ctx context.Context, localPath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return ioError("sftp", "open", localPath, err)
	}
	defer src.Close()

	client, closeFn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := client.MkdirAll(t.config.BasePath); err != nil {
		return networkError("sftp", "mkdir", err)
	}

	final := path.Join(t.config.BasePath, filepath.Base(localPath))
	tmp := path.Join(t.config.BasePath, tempPrefix+filepath.Base(localPath))

	dst, err := client.Create(tmp)
	if err != nil {
		return networkError("sftp", "create", err)
	}
	if _, err := io.Copy(dst, &ctxReader{ctx: ctx, r: src}); err != nil {
		dst.Close()
		_ = client.Remove(tmp)
		return networkError("sftp", "write", err)
	}
	if err := dst.Close(); err != nil {
		_ = client.Remove(tmp)
		return networkError("sftp", "close", err)
	}
	// PosixRename replaces an existing file; plain Rename does not on most servers.
	if err := client.PosixRename(tmp, final); err != nil {
		_ = client.Remove(tmp)
		return networkError("sftp", "rename", err)
	}
	return nil
}
