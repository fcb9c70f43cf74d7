package orchestrator

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/ryehost/rye/internal/chain"
)

// maxCapturedOutput bounds how much stdout/stderr a primitive's output
// buffer retains in memory before truncating.
const maxCapturedOutput = 1 << 20 // 1 MiB

func commandOf(terminal chain.Link, params map[string]string) (string, []string) {
	md := terminal.Artifact.Metadata
	command, _ := md["command"].(string)
	var args []string
	if raw, ok := md["args"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				args = append(args, chain.ExpandTemplate(s, params))
			}
		}
	}
	return command, args
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

func terminateSignal() os.Signal { return syscall.SIGTERM }

// limitedBuffer is an io.Writer that caps total retained bytes, discarding
// the overflow rather than growing without bound — a long-running primitive
// must not be able to exhaust host memory via chatty stdout.
type limitedBuffer struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	cap  int
	full bool
}

func newLimitedBuffer(capacity int) *limitedBuffer {
	return &limitedBuffer{cap: capacity}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(p), nil
	}
	remaining := b.cap - b.buf.Len()
	if remaining <= 0 {
		b.full = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.full = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}
