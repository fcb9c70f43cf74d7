// Package transcript implements the per-thread turn transcript: an
// append-only JSONL ledger of conversation parts plus periodic tamper-
// evident checkpoints, adapted from the teacher's transcript-ledger idiom
// (SPEC_FULL.md [HARNESS]).
package transcript

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"
)

// PartKind discriminates one transcript entry's payload shape.
type PartKind string

const (
	PartThinking   PartKind = "thinking"
	PartText       PartKind = "text"
	PartToolUse    PartKind = "tool_use"
	PartToolResult PartKind = "tool_result"
	PartCheckpoint PartKind = "checkpoint"
	PartEvent      PartKind = "event"
)

// Part is one transcript entry.
type Part struct {
	Kind      PartKind        `json:"kind"`
	Role      string          `json:"role,omitempty"`
	Text      string          `json:"text,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Event     string          `json:"event,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Hash      string          `json:"hash,omitempty"` // set on PartCheckpoint entries only
}

// Ledger appends Parts to a per-thread JSONL file, maintaining a running
// SHA-256 hash chain so a checkpoint entry attests to everything written
// before it (spec SPEC_FULL.md [HARNESS]: "tamper-evident hash-chain
// checkpoint events").
type Ledger struct {
	mu      sync.Mutex
	f       *os.File
	running string // hex hash of all bytes written so far
}

// Open appends to (creating if necessary) the JSONL file at path.
func Open(path string) (*Ledger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Ledger{f: f, running: strings.Repeat("0", 64)}, nil
}

// Append writes p as one JSONL line, updating the running hash chain.
func (l *Ledger) Append(p Part) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := l.f.Write(data); err != nil {
		return err
	}
	sum := sha256.Sum256(append([]byte(l.running), data...))
	l.running = hex.EncodeToString(sum[:])
	return nil
}

// Checkpoint appends a PartCheckpoint entry carrying the running hash of
// everything written so far, and returns that hash.
func (l *Ledger) Checkpoint() (string, error) {
	l.mu.Lock()
	hash := l.running
	l.mu.Unlock()

	if err := l.Append(Part{Kind: PartCheckpoint, Hash: hash, Timestamp: time.Now().UTC()}); err != nil {
		return "", err
	}
	return hash, nil
}

// Close closes the underlying file.
func (l *Ledger) Close() error { return l.f.Close() }
