// Package audit appends one JSON line per orchestrator phase to the audit
// log so mutating commands leave a durable trail.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"twpm/internal/twerr"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

type Logger struct {
	path    string
	session string
	mu      sync.Mutex
}

type Event struct {
	Timestamp string            `json:"timestamp"`
	Session   string            `json:"session,omitempty"`
	Operation string            `json:"operation"`
	App       string            `json:"app,omitempty"`
	Phase     string            `json:"phase"`
	Status    string            `json:"status"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// New returns a logger appending to path. session tags every event so a
// command's phases can be correlated with its debug log.
func New(path, session string) *Logger {
	return &Logger{path: path, session: session}
}

func (l *Logger) Log(ev Event) error {
	if l == nil || l.path == "" {
		return nil
	}
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	if ev.Session == "" {
		ev.Session = l.session
	}
	blob, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(blob, '\n')); err != nil {
		return err
	}
	return nil
}

// Phase logs the outcome of one phase. A nil err is ok; otherwise the
// error's code and message are recorded.
func (l *Logger) Phase(op, app, phase string, err error, fields map[string]string) error {
	ev := Event{Operation: op, App: app, Phase: phase, Status: StatusOK, Fields: fields}
	if err != nil {
		ev.Status = StatusFailed
		ev.Message = err.Error()
		var te *twerr.Error
		if errors.As(err, &te) {
			ev.Code = te.Code
		}
	}
	return l.Log(ev)
}

// History returns the events recorded for app, oldest first. A missing log
// yields no events. Undecodable lines are skipped.
func History(path, app string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if json.Unmarshal(scanner.Bytes(), &ev) != nil {
			continue
		}
		if app == "" || ev.App == app {
			out = append(out, ev)
		}
	}
	return out, scanner.Err()
}
