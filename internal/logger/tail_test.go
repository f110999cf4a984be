package logger

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailBufferKeepsNewestBytes(t *testing.T) {
	t.Parallel()

	tail := NewTailBuffer(8)
	n, err := tail.Write([]byte("abcde"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, _ = tail.Write([]byte("fghij"))
	assert.Equal(t, "cdefghij", string(tail.Bytes()))

	// reading does not drain
	assert.Equal(t, "cdefghij", string(tail.Bytes()))

	n, _ = tail.Write([]byte("0123456789xyz"))
	assert.Equal(t, 13, n)
	assert.Equal(t, "56789xyz", string(tail.Bytes()))
	assert.Equal(t, 8, tail.Len())

	tail.Reset()
	assert.Nil(t, tail.Bytes())
}

func TestTailBufferConcurrentWrites(t *testing.T) {
	t.Parallel()

	tail := NewTailBuffer(1024)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, _ = tail.Write([]byte("line\n"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1024, tail.Len())
	assert.True(t, strings.HasSuffix(string(tail.Bytes()), "line\n"))
}

func TestCentralLoggerTail(t *testing.T) {
	t.Parallel()

	cl, err := newCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: true, Level: "info"},
		TailSize:     4096,
	}, &bytes.Buffer{})
	require.NoError(t, err)
	require.NotNil(t, cl.Tail())

	cl.Module("inbox").Info("import finished", String("file", "orchard.csv"))
	cl.Module("inbox").Debug("not kept")

	out := string(cl.Tail().Bytes())
	assert.Contains(t, out, "import finished")
	assert.Contains(t, out, "file=orchard.csv")
	assert.NotContains(t, out, "not kept")

	plain, err := newCentralLogger(&LoggingConfig{Timezone: "UTC"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Nil(t, plain.Tail())
}
