package logger

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ZeroLogger is the zerolog-backed Logger.
type ZeroLogger struct {
	zlog *zerolog.Logger
	mask *Masker
}

var _ Logger = (*ZeroLogger)(nil)

var shortCaller sync.Once

// New logs to stdout. Level "disabled" silences everything; an unknown level
// falls back to info.
func New(level string, pretty bool) *ZeroLogger {
	return NewWithWriter(os.Stdout, level, pretty)
}

func NewWithWriter(w io.Writer, level string, pretty bool) *ZeroLogger {
	// callers print as dir/file.go:line
	shortCaller.Do(func() {
		zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
			return filepath.Join(filepath.Base(filepath.Dir(file)), filepath.Base(file)) + ":" + strconv.Itoa(line)
		}
	})

	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	l := zerolog.New(w).Level(lvl).With().Timestamp().CallerWithSkipFrameCount(3).Logger()
	return &ZeroLogger{zlog: &l, mask: NewMasker(nil)}
}

// Nop discards everything.
func Nop() *ZeroLogger {
	l := zerolog.Nop()
	return &ZeroLogger{zlog: &l, mask: NewMasker(nil)}
}

// WithFields returns a child logger with masked fields attached to every entry.
func (l *ZeroLogger) WithFields(fields map[string]any) Logger {
	child := l.zlog.With().Fields(l.mask.Fields(fields)).Logger()
	return &ZeroLogger{zlog: &child, mask: l.mask}
}
