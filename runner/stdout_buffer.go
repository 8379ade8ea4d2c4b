package runner

import (
	"strings"
	"sync"

	"github.com/acarl005/stripansi"
)

const defaultOutputTailBytes = 64 * 1024 // kept in memory per file

// tailBuffer keeps only the last N bytes written to it so a failing file can
// carry a representative snippet of its output.
type tailBuffer struct {
	maxBytes int

	mu       sync.Mutex
	total    int64
	contents []byte
}

func newTailBuffer(maxBytes int) *tailBuffer {
	if maxBytes <= 0 {
		maxBytes = defaultOutputTailBytes
	}
	return &tailBuffer{maxBytes: maxBytes}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))
	b.contents = append(b.contents, p...)
	if len(b.contents) > b.maxBytes {
		b.contents = b.contents[len(b.contents)-b.maxBytes:]
	}
	return len(p), nil
}

func (b *tailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(b.contents))
	copy(cp, b.contents)
	return cp
}

func (b *tailBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.contents)) < b.total
}

// snippet returns the buffered output without terminal escape sequences
func (b *tailBuffer) snippet() string {
	text := strings.TrimSpace(stripansi.Strip(string(b.Bytes())))
	if text != "" && b.Truncated() {
		text = "...\n" + text
	}
	return text
}
