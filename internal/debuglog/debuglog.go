// Package debuglog is the per-command debug session logger. Each command
// with a non-zero level writes one log file; only the newest sessions are
// kept.
package debuglog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"twpm/internal/twerr"
)

// Verbosity levels. Level 0 discards everything.
const (
	LevelOff   = 0
	LevelInfo  = 1
	LevelDebug = 2
	LevelTrace = 3
	MaxLevel   = LevelTrace
)

// SlogTrace sits below slog.LevelDebug.
const SlogTrace = slog.Level(-8)

const filePrefix = "tw_debug_"

type Options struct {
	Level   int
	Dir     string
	Retain  int
	Command string
	Now     func() time.Time
}

// Logger wraps a slog.Logger bound to one session file.
type Logger struct {
	*slog.Logger
	level   int
	session string
	dir     string
	path    string
	file    *os.File
}

// Discard returns a level-0 logger that writes nothing.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), session: uuid.NewString()}
}

// Open starts a session. At level 0 it returns a discarding logger without
// touching the filesystem.
func Open(opts Options) (*Logger, error) {
	if opts.Level < LevelOff || opts.Level > MaxLevel {
		return nil, twerr.New(twerr.ErrUsage, "DBG_LEVEL", "debug level must be 0-%d, got %d", MaxLevel, opts.Level)
	}
	if opts.Level == LevelOff {
		l := Discard()
		l.dir = opts.Dir
		return l, nil
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("DBG_OPEN: %w", err)
	}
	session := uuid.NewString()
	name := fmt.Sprintf("%s%s_%s.log", filePrefix, now().UTC().Format("20060102_150405"), session[:8])
	path := filepath.Join(opts.Dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("DBG_OPEN: %w", err)
	}
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{
		Level:       slogLevel(opts.Level),
		ReplaceAttr: renameTrace,
	})
	l := &Logger{
		Logger:  slog.New(handler).With("session", session, "command", opts.Command),
		level:   opts.Level,
		session: session,
		dir:     opts.Dir,
		path:    path,
		file:    f,
	}
	if opts.Retain > 0 {
		if err := Prune(opts.Dir, opts.Retain); err != nil {
			l.Warn("prune debug sessions", "error", err)
		}
	}
	l.Info("session started", "level", opts.Level, "pid", os.Getpid())
	return l, nil
}

func slogLevel(level int) slog.Level {
	switch level {
	case LevelInfo:
		return slog.LevelInfo
	case LevelDebug:
		return slog.LevelDebug
	default:
		return SlogTrace
	}
}

func renameTrace(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= SlogTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

func (l *Logger) Level() int      { return l.level }
func (l *Logger) Session() string { return l.session }

// Path is the session file, empty at level 0.
func (l *Logger) Path() string { return l.path }

func (l *Logger) Trace(msg string, args ...any) {
	l.Log(context.Background(), SlogTrace, msg, args...)
}

// Env exports the active level to installers. DEBUG_HOOKS is set from
// level 2 up.
func (l *Logger) Env() map[string]string {
	env := map[string]string{
		"TW_DEBUG":       strconv.Itoa(l.level),
		"TW_DEBUG_LEVEL": strconv.Itoa(l.level),
	}
	if l.dir != "" {
		env["TW_DEBUG_LOG"] = l.dir
	}
	if l.level >= LevelDebug {
		env["DEBUG_HOOKS"] = "1"
	}
	return env
}

func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.Info("session finished")
	err := l.file.Close()
	l.file = nil
	return err
}

// ParseFlag interprets the --debug value: a number 0-3 or one of the modes
// on, hooks, trace, off. An empty value means on.
func ParseFlag(v string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "on", "true":
		return LevelInfo, nil
	case "hooks":
		return LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	case "off", "false":
		return LevelOff, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < LevelOff || n > MaxLevel {
		return 0, twerr.New(twerr.ErrUsage, "DBG_LEVEL", "invalid --debug value %q (want 0-3, on, hooks or trace)", v)
	}
	return n, nil
}

// Prune deletes the oldest session files in dir so at most retain remain.
// File names sort chronologically.
func Prune(dir string, retain int) error {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.log"))
	if err != nil {
		return err
	}
	if len(matches) <= retain {
		return nil
	}
	sort.Strings(matches)
	var firstErr error
	for _, old := range matches[:len(matches)-retain] {
		if err := os.Remove(old); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
