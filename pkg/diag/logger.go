// Package diag provides the structured JSON event log used by the batch
// runner and the redirect server.
package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level orders events by severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel maps a config string to a Level; unknown values mean info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Event is one log line.
type Event struct {
	Level  string            `json:"level"`
	TS     string            `json:"ts"`
	CorrID string            `json:"corr_id"`
	Comp   string            `json:"comp"`
	Stage  string            `json:"stage"` // start|finish|event|error
	Code   Code              `json:"code,omitempty"`
	DurMS  int64             `json:"dur_ms,omitempty"`
	Count  int64             `json:"count,omitempty"`
	File   string            `json:"file,omitempty"`
	Msg    string            `json:"msg"`
	KV     map[string]string `json:"kv,omitempty"`
}

type lineSink interface {
	WriteLine(b []byte) error
	Close() error
}

// writerSink writes lines to a plain writer such as stderr.
type writerSink struct{ w io.Writer }

func (s writerSink) WriteLine(b []byte) error {
	_, err := s.w.Write(append(b, '\n'))
	return err
}

func (writerSink) Close() error { return nil }

// Logger writes one JSON line per event. A nil *Logger discards everything,
// so callers can pass it around without checks.
type Logger struct {
	corrID string
	level  Level
	sink   lineSink
	mu     sync.Mutex
}

// NewLogger returns a logger writing to a size-rotated file in dir, or to
// stderr when dir is empty. Every logger gets a fresh correlation ID.
func NewLogger(dir, level string) *Logger {
	var sink lineSink = writerSink{w: os.Stderr}
	if dir != "" {
		sink = NewRotatingFile(dir, 10*1024*1024)
	}
	return &Logger{corrID: uuid.NewString(), level: ParseLevel(level), sink: sink}
}

// NewLoggerTo returns a logger writing to w.
func NewLoggerTo(w io.Writer, level string) *Logger {
	return &Logger{corrID: uuid.NewString(), level: ParseLevel(level), sink: writerSink{w: w}}
}

// CorrID returns the correlation ID stamped on every event.
func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

// Enabled reports whether events at lv are written.
func (l *Logger) Enabled(lv Level) bool {
	return l != nil && lv >= l.level
}

func (l *Logger) log(lv Level, ev Event) {
	if !l.Enabled(lv) {
		return
	}
	ev.Level = lv.String()
	ev.TS = NowUTC()
	ev.CorrID = l.corrID
	b, _ := json.Marshal(ev)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.sink.WriteLine(b); err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		_, _ = os.Stderr.Write(append(b, '\n'))
	}
}

// Start records a start event and returns a timer for Finish.
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartKV(comp, msg, "", nil)
}

// StartFile records a start event for one file.
func (l *Logger) StartFile(comp, msg, file string) *Timer {
	return l.StartKV(comp, msg, file, nil)
}

// StartKV records a start event with extra fields.
func (l *Logger) StartKV(comp, msg, file string, kv map[string]string) *Timer {
	if l == nil {
		return nil
	}
	l.log(Info, Event{Comp: comp, Stage: "start", File: file, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, file: file, t0: time.Now()}
}

// Debug records a debug event.
func (l *Logger) Debug(comp, msg string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "event", Msg: msg, KV: kv})
}

// Info records an info event.
func (l *Logger) Info(comp, msg string, kv map[string]string) {
	l.log(Info, Event{Comp: comp, Stage: "event", Msg: msg, KV: kv})
}

// Warn records a non-fatal error, such as a skipped file.
func (l *Logger) Warn(comp string, err error, msg, file string) {
	l.log(Warn, Event{Comp: comp, Stage: "event", Code: Classify(err), File: file, Msg: joinMsg(msg, err)})
}

// Error records an error event. Errors are never filtered below Error.
func (l *Logger) Error(comp string, err error, msg, file string) {
	l.log(Error, Event{Comp: comp, Stage: "error", Code: Classify(err), File: file, Msg: joinMsg(msg, err)})
}

// Close flushes and closes the sink.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sink.Close()
}

func joinMsg(msg string, err error) string {
	if err == nil {
		return msg
	}
	if msg == "" {
		return err.Error()
	}
	return msg + ": " + err.Error()
}

// Timer measures a start→finish span.
type Timer struct {
	l    *Logger
	comp string
	file string
	t0   time.Time
}

// Finish records a finish event with an optional count.
func (t *Timer) Finish(msg string, count int64) {
	t.FinishKV(msg, count, nil)
}

// FinishKV records a finish event with extra fields.
func (t *Timer) FinishKV(msg string, count int64, kv map[string]string) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: t.elapsed(), Count: count, File: t.file, Msg: msg, KV: kv})
}

// Fail records an error event carrying the span's duration.
func (t *Timer) Fail(err error) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Error, Event{Comp: t.comp, Stage: "error", Code: Classify(err), DurMS: t.elapsed(), File: t.file, Msg: joinMsg("", err)})
}

func (t *Timer) elapsed() int64 { return time.Since(t.t0).Milliseconds() }

// NowUTC returns the RFC3339 UTC timestamp used for the ts field.
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
