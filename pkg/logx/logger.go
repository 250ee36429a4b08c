package logx

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

func init() {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat
}

// Logger writes structured events through whatever zerolog logger its
// source currently holds, so loggers handed out before a Service.Apply
// follow the new outputs. The zero value discards everything.
type Logger struct {
	src    *atomic.Pointer[zerolog.Logger]
	fields []Field
}

func Nop() Logger { return Logger{} }

// NewConsole logs to stderr at level. Used by CLI commands and for errors
// before the logging service exists.
func NewConsole(level string) Logger {
	return fixed(zerolog.New(consoleWriter(os.Stderr)).Level(parseLevel(level, zerolog.InfoLevel)))
}

// NewWriter logs JSON to w at level.
func NewWriter(w io.Writer, level string) Logger {
	return fixed(zerolog.New(w).Level(parseLevel(level, zerolog.DebugLevel)))
}

func fixed(zl zerolog.Logger) Logger {
	zl = zl.With().Timestamp().Logger()
	p := new(atomic.Pointer[zerolog.Logger])
	p.Store(&zl)
	return Logger{src: p}
}

func (l Logger) IsZero() bool { return l.src == nil && len(l.fields) == 0 }

func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	l.fields = append(append([]Field(nil), l.fields...), fields...)
	return l
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(zerolog.TraceLevel, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	if l.src == nil {
		return
	}
	zl := l.src.Load()
	if zl == nil {
		return
	}
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, group := range [][]Field{l.fields, fields} {
		for _, f := range group {
			if f != nil {
				f(e)
			}
		}
	}
	e.Msg(msg)
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
}
