// Package logs provides the subsystem logging backend shared by every
// emberd component. It mirrors the teacher lineage's hand-rolled
// per-subsystem logger: one Logger per tag, fanned out to stdout and,
// once Backend.InitRotator has been called, a rotating log file.
package logs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/jrick/logrotate/rotator"
)

// Level is a logging severity.
type Level uint32

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
	LevelOff
)

var levelNames = map[Level]string{
	LevelTrace:    "TRC",
	LevelDebug:    "DBG",
	LevelInfo:     "INF",
	LevelWarn:     "WRN",
	LevelError:    "ERR",
	LevelCritical: "CRT",
	LevelOff:      "OFF",
}

// LevelFromString maps a user-provided level name to a Level. Unknown
// strings default to LevelInfo, mirroring the teacher's permissive
// --debuglevel parsing.
func LevelFromString(s string) (Level, bool) {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace, true
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn":
		return LevelWarn, true
	case "error":
		return LevelError, true
	case "critical":
		return LevelCritical, true
	case "off":
		return LevelOff, true
	}
	return LevelInfo, false
}

// Logger writes leveled, subsystem-tagged lines to a Backend.
type Logger struct {
	tag     string
	backend *Backend
	level   Level
	mtx     sync.Mutex
}

func (l *Logger) SetLevel(level Level) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.level = level
}

func (l *Logger) Level() Level {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.level
}

func (l *Logger) write(level Level, s string) {
	l.mtx.Lock()
	active := l.level
	l.mtx.Unlock()
	if level < active || active == LevelOff {
		return
	}
	l.backend.write(fmt.Sprintf("%s [%s] %s\n", levelNames[level], l.tag, s))
}

func (l *Logger) Tracef(format string, args ...interface{})    { l.write(LevelTrace, fmt.Sprintf(format, args...)) }
func (l *Logger) Debugf(format string, args ...interface{})    { l.write(LevelDebug, fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...interface{})     { l.write(LevelInfo, fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...interface{})     { l.write(LevelWarn, fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...interface{})    { l.write(LevelError, fmt.Sprintf(format, args...)) }
func (l *Logger) Criticalf(format string, args ...interface{}) { l.write(LevelCritical, fmt.Sprintf(format, args...)) }

func (l *Logger) Trace(args ...interface{})    { l.write(LevelTrace, fmt.Sprint(args...)) }
func (l *Logger) Debug(args ...interface{})    { l.write(LevelDebug, fmt.Sprint(args...)) }
func (l *Logger) Info(args ...interface{})     { l.write(LevelInfo, fmt.Sprint(args...)) }
func (l *Logger) Warn(args ...interface{})     { l.write(LevelWarn, fmt.Sprint(args...)) }
func (l *Logger) Error(args ...interface{})    { l.write(LevelError, fmt.Sprint(args...)) }
func (l *Logger) Critical(args ...interface{}) { l.write(LevelCritical, fmt.Sprint(args...)) }

// RecoverPanic recovers a panic on the calling goroutine, logs it at
// critical severity with a stack trace, and re-panics so the process
// still crashes rather than continuing in a possibly-corrupted state —
// the point is a clean log record of what killed it, not survival.
// Grounded on util/panics.HandlePanic, narrowed from that function's
// clean-shutdown-then-os.Exit behavior (appropriate for a top-level
// goroutine wrapper in a DAG node with many long-lived workers) to
// log-then-repanic, since emberd's few background goroutines
// (mining loop, netadapter receive/send loops) are already supervised by
// Node.Stop and a silent os.Exit from deep in one of them would skip
// that shutdown path entirely.
func RecoverPanic(l *Logger) {
	if err := recover(); err != nil {
		l.Criticalf("panic: %v\n%s", err, debug.Stack())
		panic(err)
	}
}

// Backend fans written lines out to stdout and an optional log rotator.
// It is safe for concurrent use by many Loggers.
type Backend struct {
	mtx     sync.Mutex
	rotator *rotator.Rotator
	extra   []io.Writer
}

func NewBackend(extra ...io.Writer) *Backend {
	return &Backend{extra: extra}
}

// InitRotator wires a log-rotating file writer into the backend. It must
// be called before subsystem Loggers are used if file logging is wanted.
func (b *Backend) InitRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0700); err != nil {
			return err
		}
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return err
	}
	b.mtx.Lock()
	b.rotator = r
	b.mtx.Unlock()
	return nil
}

func (b *Backend) write(s string) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	os.Stdout.WriteString(s)
	if b.rotator != nil {
		b.rotator.Write([]byte(s))
	}
	for _, w := range b.extra {
		w.Write([]byte(s))
	}
}

// Logger returns a new Logger for tag; Registry.Register is what
// keeps one Logger per tag.
func (b *Backend) Logger(tag string) *Logger {
	return &Logger{tag: tag, backend: b, level: LevelInfo}
}

// defaultRegistry backs the package-level Logger function: every
// subsystem that just wants a `var log = logs.Logger("TAG")` at
// init-time shares it, and app wiring reconfigures levels across all
// of them in one place via DefaultRegistry.
var defaultRegistry = NewRegistry(NewBackend())

// DefaultRegistry returns the process-wide subsystem registry backing
// the package-level Logger function.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Logger returns (registering if necessary) the default registry's
// Logger for tag, for package-level `var log = logs.Logger("TAG")`
// declarations.
func Logger(tag string) *Logger {
	return defaultRegistry.Register(tag)
}

// Registry tracks subsystem loggers so a single --debuglevel flag can
// reconfigure all of them at once, mirroring logger.SetLogLevels.
type Registry struct {
	mtx        sync.Mutex
	backend    *Backend
	subsystems map[string]*Logger
}

func NewRegistry(backend *Backend) *Registry {
	return &Registry{backend: backend, subsystems: make(map[string]*Logger)}
}

func (r *Registry) Register(tag string) *Logger {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if l, ok := r.subsystems[tag]; ok {
		return l
	}
	l := r.backend.Logger(tag)
	r.subsystems[tag] = l
	return l
}

func (r *Registry) SetLevel(tag string, level Level) bool {
	r.mtx.Lock()
	l, ok := r.subsystems[tag]
	r.mtx.Unlock()
	if !ok {
		return false
	}
	l.SetLevel(level)
	return true
}

func (r *Registry) SetAllLevels(level Level) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for _, l := range r.subsystems {
		l.SetLevel(level)
	}
}

// ParseAndSetDebugLevels parses a debuglevel string of either a bare
// level ("debug") or a comma-separated subsystem=level list
// ("PROT=debug,NETA=trace") and applies it.
func (r *Registry) ParseAndSetDebugLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		level, ok := LevelFromString(debugLevel)
		if !ok {
			return fmt.Errorf("invalid debug level %q", debugLevel)
		}
		r.SetAllLevels(level)
		return nil
	}

	for _, pair := range strings.Split(debugLevel, ",") {
		fields := strings.SplitN(pair, "=", 2)
		if len(fields) != 2 {
			return fmt.Errorf("invalid subsystem=level pair %q", pair)
		}
		level, ok := LevelFromString(fields[1])
		if !ok {
			return fmt.Errorf("invalid debug level %q", fields[1])
		}
		if !r.SetLevel(fields[0], level) {
			return fmt.Errorf("unknown subsystem %q -- supported: %s", fields[0], strings.Join(r.SupportedSubsystems(), ", "))
		}
	}
	return nil
}

func (r *Registry) SupportedSubsystems() []string {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	tags := make([]string, 0, len(r.subsystems))
	for tag := range r.subsystems {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
