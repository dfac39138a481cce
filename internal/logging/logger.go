// Package logging provides config-driven, categorized, file-backed logging.
// Logs are written to <cache-root>/logs/ with one file per category per day.
// Logging is gated by debug_mode in envy.json - when false, no logs are written.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log subsystem.
type Category string

const (
	CategoryBoot   Category = "boot"   // startup, config discovery
	CategoryEngine Category = "engine" // graph construction, phase driving
	CategoryCache  Category = "cache"  // cache entry lifecycle, commit/rollback
	CategoryLock   Category = "lock"   // cross-process/cross-goroutine locking
	CategoryFetch  Category = "fetch"  // remote/git/s3 fetch attempts
	CategoryBuild  Category = "build"  // build script execution
	CategoryScript Category = "script" // Lua manifest loading and closures
	CategoryTUI    Category = "tui"    // dashboard rendering
	CategoryCLI    Category = "cli"    // command dispatch
)

// loggingConfig mirrors the logging block of envy.json.
type loggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
	JSONFormat bool            `json:"json_format"`
}

type configFile struct {
	Logging loggingConfig `json:"logging"`
}

// StructuredLogEntry is the JSON shape written when JSONFormat is set. Key
// and phase correlate an entry to the package record and pipeline phase in
// flight, the in-flight analog of a source file/line for a build graph that
// has no single call stack.
type StructuredLogEntry struct {
	Timestamp int64                  `json:"ts"`
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	Key       string                 `json:"key,omitempty"`
	Phase     string                 `json:"phase,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers      = make(map[Category]*Logger)
	loggersMu    sync.RWMutex
	logsDir      string
	cacheRoot    string
	config       loggingConfig
	configMu     sync.RWMutex
	logLevel     int
)

const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory under cacheRootPath and loads
// envy.json, if present, from configPath. Call once at startup.
func Initialize(cacheRootPath, configPath string) error {
	if cacheRootPath == "" {
		return fmt.Errorf("cache root required")
	}
	cacheRoot = cacheRootPath
	logsDir = filepath.Join(cacheRoot, "logs")

	if err := loadConfig(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: could not load %s: %v\n", configPath, err)
		config.DebugMode = false
	}

	if !config.DebugMode {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("logging initialized")
	boot.Info("cache root: %s", cacheRoot)
	boot.Info("debug mode: %v", config.DebugMode)
	return nil
}

func loadConfig(configPath string) error {
	configMu.Lock()
	defer configMu.Unlock()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			config.DebugMode = false
			return nil
		}
		return err
	}

	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("parse %s: %w", configPath, err)
	}
	config = cf.Logging

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	return nil
}

// IsDebugMode reports whether logging is enabled at all.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled reports whether a category should be logged.
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()
	if !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) the logger for category. Returns a no-op logger
// when debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: could not open %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

func (l *Logger) logJSON(level, msg, key, phase string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
		Key:       key,
		Phase:     phase,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

func (l *Logger) write(level string, minLevel int, format string, args []interface{}) {
	if l.logger == nil || logLevel > minLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON(level, msg, "", "")
	} else {
		l.logger.Printf("[%s] %s", level, msg)
	}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.write("DEBUG", LevelDebug, format, args) }
func (l *Logger) Info(format string, args ...interface{})  { l.write("INFO", LevelInfo, format, args) }
func (l *Logger) Warn(format string, args ...interface{})  { l.write("WARN", LevelWarn, format, args) }
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("ERROR", msg, "", "")
	} else {
		l.logger.Printf("[ERROR] %s", msg)
	}
}

// WithKeyPhase returns a correlated logger that tags every entry with a
// package record's canonical key and the pipeline phase producing it.
func (l *Logger) WithKeyPhase(key, phase string) *KeyedLogger {
	return &KeyedLogger{logger: l, key: key, phase: phase}
}

// KeyedLogger is a Logger scoped to one record's key/phase.
type KeyedLogger struct {
	logger *Logger
	key    string
	phase  string
}

func (k *KeyedLogger) log(level string, minLevel int, format string, args []interface{}) {
	l := k.logger
	if l.logger == nil || logLevel > minLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON(level, msg, k.key, k.phase)
	} else {
		l.logger.Printf("[%s] key=%s phase=%s %s", level, k.key, k.phase, msg)
	}
}

func (k *KeyedLogger) Debug(format string, args ...interface{}) { k.log("DEBUG", LevelDebug, format, args) }
func (k *KeyedLogger) Info(format string, args ...interface{})  { k.log("INFO", LevelInfo, format, args) }
func (k *KeyedLogger) Warn(format string, args ...interface{})  { k.log("WARN", LevelWarn, format, args) }
func (k *KeyedLogger) Error(format string, args ...interface{}) {
	l := k.logger
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("ERROR", msg, k.key, k.phase)
	} else {
		l.logger.Printf("[ERROR] key=%s phase=%s %s", k.key, k.phase, msg)
	}
}

// Timer measures and logs the duration of an operation.
type Timer struct {
	logger *Logger
	label  string
	start  time.Time
}

// StartTimer begins timing label against category, logged on Stop.
func StartTimer(category Category, label string) *Timer {
	return &Timer{logger: Get(category), label: label, start: time.Now()}
}

func (t *Timer) Stop() {
	t.logger.Debug("%s took %s", t.label, time.Since(t.start))
}

// CloseAll closes every open per-category log file. Call at shutdown.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

func Boot(format string, args ...interface{})        { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{})    { Get(CategoryBoot).Debug(format, args...) }
func Engine(format string, args ...interface{})       { Get(CategoryEngine).Info(format, args...) }
func EngineDebug(format string, args ...interface{})  { Get(CategoryEngine).Debug(format, args...) }
func Cache(format string, args ...interface{})        { Get(CategoryCache).Info(format, args...) }
func CacheDebug(format string, args ...interface{})   { Get(CategoryCache).Debug(format, args...) }
func Lock(format string, args ...interface{})         { Get(CategoryLock).Info(format, args...) }
func LockDebug(format string, args ...interface{})    { Get(CategoryLock).Debug(format, args...) }
func Fetch(format string, args ...interface{})        { Get(CategoryFetch).Info(format, args...) }
func FetchDebug(format string, args ...interface{})   { Get(CategoryFetch).Debug(format, args...) }
func FetchWarn(format string, args ...interface{})    { Get(CategoryFetch).Warn(format, args...) }
func Build(format string, args ...interface{})        { Get(CategoryBuild).Info(format, args...) }
func BuildDebug(format string, args ...interface{})   { Get(CategoryBuild).Debug(format, args...) }
func Script(format string, args ...interface{})       { Get(CategoryScript).Info(format, args...) }
func ScriptDebug(format string, args ...interface{})  { Get(CategoryScript).Debug(format, args...) }
func TUI(format string, args ...interface{})          { Get(CategoryTUI).Info(format, args...) }
func TUIDebug(format string, args ...interface{})     { Get(CategoryTUI).Debug(format, args...) }
func CLI(format string, args ...interface{})          { Get(CategoryCLI).Info(format, args...) }
func CLIDebug(format string, args ...interface{})     { Get(CategoryCLI).Debug(format, args...) }
