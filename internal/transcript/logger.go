// Package transcript writes chat turns to newline-delimited JSON files, one
// file per user session plus an optional global stream.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event directions and types.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	EventUserMessage = "chat_user_message"
	EventBotReply    = "chat_bot_reply"
	EventTurnFailed  = "chat_turn_failed"
)

// Channels.
const (
	ChannelHTTP = "chat_http"
	ChannelWS   = "chat_ws"
	ChannelCLI  = "chat_cli"
)

// Event is one line in a transcript file.
type Event struct {
	Timestamp  string         `json:"timestamp"`
	TurnID     string         `json:"turn_id,omitempty"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Logger records transcript events.
type Logger interface {
	Log(event Event)
	Close() error
}

// Config controls where transcripts are written.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

type channelKey struct{}

// WithChannel tags ctx with the transport a turn arrived on.
func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, channelKey{}, channel)
}

// ChannelFromContext returns the channel set by WithChannel, or ChannelHTTP.
func ChannelFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(channelKey{}).(string); ok && v != "" {
		return v
	}
	return ChannelHTTP
}

// Nop discards all events.
type Nop struct{}

func (Nop) Log(Event)    {}
func (Nop) Close() error { return nil }

// FileLogger appends events asynchronously from a single writer goroutine.
// Log never blocks; events are dropped when the queue is full.
type FileLogger struct {
	cfg     Config
	logger  *slog.Logger
	queue   chan Event
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// New starts a FileLogger. A disabled config yields Nop.
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
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global transcript dir: %w", err)
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

// Log enqueues event.
func (l *FileLogger) Log(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}

	select {
	case l.queue <- event:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("transcript queue full, dropping events", "dropped", n)
		}
	}
}

// Close drains the queue and stops the writer.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()
	<-l.done
	return nil
}

func (l *FileLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("failed to encode transcript event", "error", err)
			continue
		}
		line = append(line, '\n')

		if err := appendLine(l.sessionPath(event), line); err != nil {
			l.logger.Warn("failed to write transcript", "user_id", event.UserID, "error", err)
		}
		if l.cfg.GlobalEnabled {
			if err := appendLine(l.cfg.GlobalPath, line); err != nil {
				l.logger.Warn("failed to write global transcript", "error", err)
			}
		}
	}
}

func (l *FileLogger) sessionPath(event Event) string {
	user := safeSegment(event.UserID, "unknown")
	session := safeSegment(event.SessionID, "default")
	return filepath.Join(l.cfg.Dir, user, session+".ndjson")
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

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9._:-]`)

func safeSegment(s, fallback string) string {
	s = unsafeSegment.ReplaceAllString(strings.TrimSpace(s), "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return fallback
	}
	return s
}

var ansiSequence = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// cleanForReadability strips terminal escapes and control characters and
// collapses runs of blank lines.
func cleanForReadability(s string) string {
	s = ansiSequence.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")

	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\t' || r >= 0x20 && r != 0x7f {
			b.WriteRune(r)
		}
	}

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
