// Package logging provides the leveled, tagged logger used by every server
// in the runtime (Moe, the per-task ITAS instances, and Ned). It wraps
// logrus so subsystem tags and the --debug bit taxonomy map directly onto
// structured fields instead of ad-hoc printf prefixes.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Bit names the --debug=<bits> taxonomy from spec §6.
type Bit string

const (
	BitInfo       Bit = "info"
	BitWarn       Bit = "warn"
	BitBoot       Bit = "boot"
	BitServer     Bit = "server"
	BitExceptions Bit = "exceptions"
	BitLoader     Bit = "loader"
	BitParser     Bit = "parser"
	BitBootfs     Bit = "bootfs"
	BitNamespace  Bit = "namespace"
	BitAll        Bit = "all"
)

// Config configures a Logger.
type Config struct {
	Level  logrus.Level
	Output io.Writer
	Tag    string
	Bits   map[Bit]bool
}

// DefaultConfig returns the runtime's default logging configuration:
// info level, writing to stderr, with the info and warn debug bits set.
// Config has no color setting.
func DefaultConfig() *Config {
	return &Config{
		Level:  logrus.InfoLevel,
		Output: os.Stderr,
		Bits:   map[Bit]bool{BitInfo: true, BitWarn: true},
	}
}

// Logger is a tagged wrapper around a logrus.Entry. Every Moe client that
// asks the factory for a "logger" object (spec §4.6) gets one of these,
// scoped to its own tag; loggers carry no per-client color.
type Logger struct {
	entry *logrus.Entry
	mu    sync.Mutex
	bits  map[Bit]bool
}

// New creates a Logger from cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	base := logrus.New()
	base.SetLevel(cfg.Level)
	if cfg.Output != nil {
		base.SetOutput(cfg.Output)
	}
	fields := logrus.Fields{}
	if cfg.Tag != "" {
		fields["tag"] = cfg.Tag
	}
	bits := cfg.Bits
	if bits == nil {
		bits = map[Bit]bool{}
	}
	return &Logger{entry: base.WithFields(fields), bits: bits}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// Default returns the process-wide default logger, creating it on first use.
func Default() *Logger {
	defaultMu.RLock()
	if defaultLogger != nil {
		defer defaultMu.RUnlock()
		return defaultLogger
	}
	defaultMu.RUnlock()

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(nil)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// WithTag returns a child logger tagged for a specific client, used when
// the factory mints a per-client logger capability.
func (l *Logger) WithTag(tag string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{entry: l.entry.WithField("tag", tag), bits: l.bits}
}

// Enabled reports whether bit (or "all") is active for this logger.
func (l *Logger) Enabled(bit Bit) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bits[BitAll] || l.bits[bit]
}

// SetBits replaces the active debug bits.
func (l *Logger) SetBits(bits map[Bit]bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bits = bits
}

// Debugf logs at debug level if bit is active.
func (l *Logger) Debugf(bit Bit, format string, args ...interface{}) {
	if !l.Enabled(bit) {
		return
	}
	l.entry.Debugf(format, args...)
}

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

// Warnf logs at warn level.
func (l *Logger) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// Fatalf logs at fatal level and mirrors the §7 "abort the owning server"
// behavior for invariant violations that must not be recovered from.
func (l *Logger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

// ParseBits parses a comma-separated --debug bit list into a set.
func ParseBits(s string) map[Bit]bool {
	out := map[Bit]bool{}
	cur := ""
	flush := func() {
		if cur != "" {
			out[Bit(cur)] = true
			cur = ""
		}
	}
	for _, r := range s {
		if r == ',' || r == '|' {
			flush()
			continue
		}
		cur += string(r)
	}
	flush()
	return out
}
