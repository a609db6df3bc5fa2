package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelMitigation
)

type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	file   *lumberjack.Logger
	logger *log.Logger
	level  LogLevel
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = newLogger(os.Stdout, LogLevelInfo)
)

func newLogger(w io.Writer, level LogLevel) *Logger {
	return &Logger{
		out:    w,
		logger: log.New(w, "", 0),
		level:  level,
	}
}

// Init sends log output to stdout and to <logDir>/flowguard.log. The file is
// rotated by size and pruned by age and count.
func Init(logDir string, rotation *config.LogRotationConfig, logLevel string, debug bool) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	if rotation == nil {
		rotation = &config.LogRotationConfig{MaxSizeMB: 100, MaxBackups: 10, MaxAgeDays: 30}
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "flowguard.log"),
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   rotation.Compress,
		LocalTime:  true,
	}

	multiWriter := io.MultiWriter(file, os.Stdout)
	l := newLogger(multiWriter, parseLogLevel(logLevel, debug))
	l.file = file

	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()

	// Redirect Go's standard log package to the same destinations
	log.SetOutput(multiWriter)
	log.SetFlags(log.LstdFlags)

	fmt.Printf("[LOGGING] Initialized - LogDir: %s, MaxSize: %d MB, Level: %s\n",
		logDir, rotation.MaxSizeMB, logLevel)
	return nil
}

// SetOutput replaces the destination of the package logger. Used by tests and
// by the CLI when no log directory is configured.
func SetOutput(w io.Writer, logLevel string) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = newLogger(w, parseLogLevel(logLevel, false))
}

func parseLogLevel(level string, debug bool) LogLevel {
	if debug {
		return LogLevelDebug
	}

	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l *Logger) writeLog(level LogLevel, levelStr, msg string) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	l.logger.Printf("[%s] [%s] %s", timestamp, levelStr, msg)
}

func current() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

func Info(msg string, args ...interface{}) {
	current().writeLog(LogLevelInfo, "INFO", fmt.Sprintf(msg, args...))
}

func Warn(msg string, args ...interface{}) {
	current().writeLog(LogLevelWarn, "WARN", fmt.Sprintf(msg, args...))
}

func Error(msg string, args ...interface{}) {
	current().writeLog(LogLevelError, "ERROR", fmt.Sprintf(msg, args...))
}

func Debug(msg string, args ...interface{}) {
	current().writeLog(LogLevelDebug, "DEBUG", fmt.Sprintf(msg, args...))
}

// Mitigation records a drop decision in a fixed pipe-separated format so that
// mitigations can be grepped out of the log.
func Mitigation(flowID uint64, targetIP, table, action, stage string) {
	text := fmt.Sprintf("MITIGATION | flow_id=%d | target=%s | %s/%s | %s", flowID, targetIP, table, action, stage)
	current().writeLog(LogLevelMitigation, "MITIGATION", text)
}

func Close() {
	l := current()
	if l.file != nil {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.file.Close()
	}
}
