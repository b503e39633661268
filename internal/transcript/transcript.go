// Package transcript writes conversation events as NDJSON files, one per
// session, from a background goroutine fed by a bounded queue.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Config controls transcript logging.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Event is one line of a transcript.
type Event struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	ProjectID  string         `json:"project_id,omitempty"`
	SessionID  string         `json:"session_id"`
	Kind       string         `json:"kind,omitempty"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Directions relative to the user.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Logger records transcript events. Log never blocks.
type Logger interface {
	Log(Event)
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Log(Event)    {}
func (Nop) Close() error { return nil }

// FileLogger appends events to <Dir>/<user>/<session>.ndjson and, when
// enabled, to a single global file.
type FileLogger struct {
	cfg    Config
	logger *slog.Logger
	queue  chan Event
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	dropped   int64
}

// New returns Nop when logging is disabled.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global transcript directory: %w", err)
		}
	}

	l := &FileLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues an event, dropping it when the queue is full.
func (l *FileLogger) Log(e Event) {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if e.Content == "" && e.ContentRaw != "" {
		e.Content = CleanForReadability(e.ContentRaw)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- e:
	default:
		l.dropped++
		if l.dropped == 1 || l.dropped%100 == 0 {
			l.logger.Warn("Transcript queue full, dropping events", "dropped", l.dropped)
		}
	}
}

// Close drains the queue and stops the writer.
func (l *FileLogger) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
		<-l.done
	})
	return nil
}

func (l *FileLogger) run() {
	defer close(l.done)
	for e := range l.queue {
		line, err := json.Marshal(e)
		if err != nil {
			l.logger.Warn("Failed to encode transcript event", "error", err)
			continue
		}
		line = append(line, '\n')

		path := filepath.Join(l.cfg.Dir, safeName(e.UserID), safeName(e.SessionID)+".ndjson")
		if err := appendLine(path, line); err != nil {
			l.logger.Warn("Failed to write transcript", "path", path, "error", err)
		}
		if l.cfg.GlobalEnabled {
			if err := appendLine(l.cfg.GlobalPath, line); err != nil {
				l.logger.Warn("Failed to write global transcript", "path", l.cfg.GlobalPath, "error", err)
			}
		}
	}
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeName(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return "unknown"
	}
	return s
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// CleanForReadability strips ANSI escapes and control characters and
// collapses runs of blank space.
func CleanForReadability(s string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
