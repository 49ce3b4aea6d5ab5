package logger

import (
	"io"
	"os"
	"strings"

	"github.com/phuslu/log"
)

type Config struct {
	Level  string
	Format string // "console" or "json"
	Output io.Writer
}

func New(cfg Config) *log.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var w log.Writer = &log.IOWriter{Writer: out}
	if strings.EqualFold(cfg.Format, "console") {
		w = &log.ConsoleWriter{
			Writer:      out,
			ColorOutput: out == os.Stdout,
			QuoteString: true,
		}
	}

	level := log.InfoLevel
	if cfg.Level != "" {
		level = log.ParseLevel(cfg.Level)
	}
	return &log.Logger{
		Level:      level,
		TimeFormat: "15:04:05.000",
		Writer:     w,
	}
}

// With returns a child logger that stamps every entry with the given key/value pairs.
func With(parent *log.Logger, kv ...string) *log.Logger {
	child := *parent
	ctx := log.NewContext(parent.Context)
	for i := 0; i+1 < len(kv); i += 2 {
		ctx = ctx.Str(kv[i], kv[i+1])
	}
	child.Context = ctx.Value()
	return &child
}

// Discard is used by tests and by commands that only print their own output.
func Discard() *log.Logger {
	return &log.Logger{Level: log.PanicLevel, Writer: &log.IOWriter{Writer: io.Discard}}
}
