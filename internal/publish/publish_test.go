package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philipwilson/trees/internal/conf"
)

type stubTarget struct {
	name     string
	failures int32 // transient failures before success
	fatal    bool
	calls    atomic.Int32
}

func (s *stubTarget) Name() string { return s.name }

func (s *stubTarget) Upload(context.Context, string) error {
	n := s.calls.Add(1)
	if s.fatal {
		return errors.New("permission denied")
	}
	if n <= s.failures {
		return errors.New("connection reset by peer")
	}
	return nil
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "treetrack-20240501-083000.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"groups":[],"records":[]}`), 0o600))
	return path
}

func TestLocalTargetUpload(t *testing.T) {
	t.Parallel()
	artifact := writeArtifact(t)
	dir := filepath.Join(t.TempDir(), "share", "exports")

	target, err := NewLocalTarget(dir)
	require.NoError(t, err)
	require.NoError(t, target.Upload(context.Background(), artifact))
	require.NoError(t, target.Upload(context.Background(), artifact))

	data, err := os.ReadFile(filepath.Join(dir, filepath.Base(artifact)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"groups":[],"records":[]}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalTargetHonorsContext(t *testing.T) {
	t.Parallel()
	target, err := NewLocalTarget(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, target.Upload(ctx, writeArtifact(t)))
}

func TestPublishAggregatesFailures(t *testing.T) {
	t.Parallel()
	ok := &stubTarget{name: "ok"}
	flaky := &stubTarget{name: "flaky", failures: 2}
	broken := &stubTarget{name: "broken", fatal: true}

	p := New(nil, ok, broken, flaky)
	p.retry.backoff = time.Millisecond
	assert.Equal(t, []string{"ok", "broken", "flaky"}, p.Targets())

	outcomes, err := p.Publish(context.Background(), writeArtifact(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	require.Len(t, outcomes, 3)
	assert.Empty(t, outcomes[0].Error)
	assert.Contains(t, outcomes[1].Error, "permission denied")
	assert.Empty(t, outcomes[2].Error)

	assert.Equal(t, int32(1), broken.calls.Load())
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestPublishGivesUpOnPersistentTransientError(t *testing.T) {
	t.Parallel()
	down := &stubTarget{name: "down", failures: 100}
	p := New(nil, down)
	p.retry.backoff = time.Millisecond

	_, err := p.Publish(context.Background(), writeArtifact(t))
	require.Error(t, err)
	assert.Equal(t, int32(defaultMaxRetries), down.calls.Load())
}

func TestPublishMissingArtifact(t *testing.T) {
	t.Parallel()
	_, err := New(nil, &stubTarget{name: "ok"}).Publish(context.Background(), filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	t.Parallel()
	assert.False(t, isTransient(nil))
	assert.True(t, isTransient(errors.New("dial tcp: i/o timeout")))
	assert.True(t, isTransient(errors.New("unexpected EOF")))
	assert.False(t, isTransient(errors.New("550 permission denied")))
}

func TestTargetConstructors(t *testing.T) {
	t.Parallel()

	_, err := NewLocalTarget("")
	require.Error(t, err)

	_, err = NewFTPTarget(&FTPConfig{})
	require.Error(t, err)
	ftpTarget, err := NewFTPTarget(&FTPConfig{Host: "ftp.example.org", BasePath: "/exports/"})
	require.NoError(t, err)
	assert.Equal(t, 21, ftpTarget.config.Port)
	assert.Equal(t, "/exports", ftpTarget.config.BasePath)
	assert.Equal(t, defaultTimeout, ftpTarget.config.Timeout)

	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(knownHosts, nil, 0o600))

	_, err = NewSFTPTarget(&SFTPConfig{Username: "u", Password: "p", KnownHostsFile: knownHosts})
	require.Error(t, err, "host required")
	_, err = NewSFTPTarget(&SFTPConfig{Host: "h", Username: "u", KnownHostsFile: knownHosts})
	require.Error(t, err, "auth required")
	_, err = NewSFTPTarget(&SFTPConfig{Host: "h", Username: "u", Password: "p", KnownHostsFile: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err, "known_hosts required")
	_, err = NewSFTPTarget(&SFTPConfig{Host: "h", Username: "u", KeyFile: knownHosts, KnownHostsFile: knownHosts})
	require.Error(t, err, "unparseable key")

	sftpTarget, err := NewSFTPTarget(&SFTPConfig{Host: "h", Username: "u", Password: "p", KnownHostsFile: knownHosts})
	require.NoError(t, err)
	assert.Equal(t, "h:22", sftpTarget.addr())
	assert.Equal(t, ".", sftpTarget.config.BasePath)
}

func TestNewFromSettings(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{}
	settings.Publish.Local.Enabled = true
	settings.Publish.Local.Path = t.TempDir()
	settings.Publish.FTP.Enabled = true
	settings.Publish.FTP.Host = "ftp.example.org"

	p, err := NewFromSettings(settings, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"local", "ftp"}, p.Targets())

	settings.Publish.SFTP.Enabled = true
	_, err = NewFromSettings(settings, nil)
	require.Error(t, err)
}
