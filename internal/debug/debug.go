package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (run summary, saved files)
	LevelLive    = 2 // Live info (steps, moves, snapshots)
	LevelVerbose = 3 // Verbose (parsed config, device details)
	LevelTrace   = 4 // Trace (SOAP calls, GPIO, very low level)
)

var (
	mu      sync.RWMutex
	level   int
	logger  *logrus.Logger
	console io.Writer = os.Stdout
	logFile io.WriteCloser
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (run summary, saved files)
// 2 = live info (steps, moves, snapshots)
// 3 = verbose (parsed config, device details)
// 4 = trace (SOAP calls, GPIO)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	if level <= LevelOff {
		logger = nil
		return
	}
	logger = logrus.New()
	logger.SetLevel(logrus.TraceLevel) // gating is done on level
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05.000000",
	})
	logger.SetOutput(writerLocked())
}

// InitFile mirrors the log into a rotating file. An empty path is a no-op.
func InitFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	if logger != nil {
		logger.SetOutput(writerLocked())
	}
	return nil
}

// SetOutput replaces the console writer (stdout by default).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	console = w
	if logger != nil {
		logger.SetOutput(writerLocked())
	}
}

// AddHook registers a logrus hook, e.g. to forward entries to web clients.
func AddHook(h logrus.Hook) {
	mu.Lock()
	defer mu.Unlock()
	if logger != nil {
		logger.AddHook(h)
	}
}

// Close flushes and closes the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	if logger != nil {
		logger.SetOutput(console)
	}
	return err
}

func writerLocked() io.Writer {
	if logFile != nil {
		return io.MultiWriter(console, logFile)
	}
	return console
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func entry(minLevel int) *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if level < minLevel || logger == nil {
		return nil
	}
	return logger
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if l := entry(LevelInfo); l != nil {
		l.Infof(format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if l := entry(LevelInfo); l != nil {
		l.Info("═══════════════════════════════════════")
		l.Infof("  %s", title)
		l.Info("═══════════════════════════════════════")
	}
}

// Run prints the run header (level 1).
func Run(name string, steps int, dir string) {
	if l := entry(LevelInfo); l != nil {
		l.WithFields(logrus.Fields{"run_name": name, "steps": steps, "dir": dir}).Info("starting run")
	}
}

// Saved prints a written snapshot (level 1).
func Saved(step, path string) {
	if l := entry(LevelInfo); l != nil {
		l.WithFields(logrus.Fields{"step": step, "file": path}).Info("snapshot saved")
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if l := entry(LevelLive); l != nil {
		l.Infof(format, args...)
	}
}

// StepStart prints the start of a run step (level 2).
func StepStart(index, total int, label string) {
	if l := entry(LevelLive); l != nil {
		l.WithField("step", label).Infof("step %d/%d", index, total)
	}
}

// Move prints a PTZ movement (level 2).
func Move(kind string, pan, tilt, zoom interface{}) {
	if l := entry(LevelLive); l != nil {
		l.WithFields(logrus.Fields{"pan": pan, "tilt": tilt, "zoom": zoom}).Infof("ptz %s move", kind)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if l := entry(LevelVerbose); l != nil {
		l.Debugf(format, args...)
	}
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if l := entry(LevelVerbose); l != nil {
		l.Debugf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if l := entry(LevelVerbose); l != nil {
		l.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		l.Debugf("  %s", name)
		l.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered initialization step (level 3).
func Step(num int, description string) {
	if l := entry(LevelVerbose); l != nil {
		l.Debugf("Step %d: %s", num, description)
	}
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	if l := entry(LevelInfo); l != nil {
		l.Infof("  %s = %v", name, value)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	if l := entry(LevelTrace); l != nil {
		l.Tracef(format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if l := entry(LevelTrace); l != nil {
		l.WithFields(logrus.Fields{"pin": pin, "value": value}).Tracef("gpio %s", operation)
	}
}

// SOAP prints an ONVIF call (level 4).
func SOAP(action, endpoint string) {
	if l := entry(LevelTrace); l != nil {
		l.WithField("endpoint", endpoint).Tracef("soap %s", action)
	}
}

// --- General functions ---

// Error prints an error (level 1+).
func Error(err error) {
	if l := entry(LevelInfo); l != nil {
		l.WithError(err).Error("failed")
	}
}

// Warn prints a recoverable problem (level 1+).
func Warn(format string, args ...interface{}) {
	if l := entry(LevelInfo); l != nil {
		l.Warnf(format, args...)
	}
}
