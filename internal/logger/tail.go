package logger

import (
	"sync"

	"github.com/smallnest/ringbuffer"
)

// TailBuffer keeps the most recent bytes of log output in memory. When full,
// the oldest bytes are discarded to make room.
type TailBuffer struct {
	mu      sync.Mutex
	rb      *ringbuffer.RingBuffer
	scratch []byte
}

// NewTailBuffer creates a tail holding at most size bytes.
func NewTailBuffer(size int) *TailBuffer {
	if size <= 0 {
		size = DefaultTailSize
	}
	return &TailBuffer{rb: ringbuffer.New(size)}
}

// Write implements io.Writer. It never fails.
func (t *TailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.mu.Lock()
	defer t.mu.Unlock()

	capacity := t.rb.Capacity()
	if len(p) > capacity {
		p = p[len(p)-capacity:]
	}
	if need := len(p) - t.rb.Free(); need > 0 {
		t.discard(need)
	}
	_, _ = t.rb.Write(p)
	return n, nil
}

func (t *TailBuffer) discard(n int) {
	if cap(t.scratch) < n {
		t.scratch = make([]byte, n)
	}
	_, _ = t.rb.Read(t.scratch[:n])
}

// Bytes returns a copy of the buffered output, oldest first.
func (t *TailBuffer) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.rb.Length()
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	read, _ := t.rb.Read(out)
	out = out[:read]
	// put it back; reading drained the ring
	_, _ = t.rb.Write(out)
	return out
}

// Len returns the number of buffered bytes.
func (t *TailBuffer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rb.Length()
}

// Reset empties the buffer.
func (t *TailBuffer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rb.Reset()
}
