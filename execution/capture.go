package execution

import (
	"fmt"
	"strings"
	"sync"
)

// cappedBuffer keeps the first limit bytes written to it and counts the rest.
// Write never fails and never blocks, so a chatty child cannot stall on a
// full pipe.
type cappedBuffer struct {
	mu      sync.Mutex
	buf     []byte
	limit   int
	dropped int64
}

func newCappedBuffer(limit int) *cappedBuffer {
	if limit < 0 {
		limit = 0
	}
	initial := limit
	if initial > 64<<10 {
		initial = 64 << 10
	}
	return &cappedBuffer{buf: make([]byte, 0, initial), limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room := c.limit - len(c.buf)
	if room > len(p) {
		room = len(p)
	}
	if room > 0 {
		c.buf = append(c.buf, p[:room]...)
	}
	c.dropped += int64(len(p) - room)
	return len(p), nil
}

// Truncated reports whether any bytes were discarded.
func (c *cappedBuffer) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped > 0
}

// String returns the captured text as valid UTF-8, with a marker appended
// when output was discarded.
func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := strings.ToValidUTF8(string(c.buf), "�")
	if c.dropped > 0 {
		s += fmt.Sprintf("\n[output truncated: %d bytes discarded]", c.dropped)
	}
	return s
}
