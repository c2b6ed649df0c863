package logger

import (
	"io"
	"log"
	"os"
)

// Config describes how the process logger is built.
type Config struct {
	// Output defaults to os.Stdout
	Output io.Writer
	// Verbose adds file:line to every entry
	Verbose bool
	// UTC stamps entries in UTC instead of local time
	UTC bool
}

const prefix = "[RepDay] "

// New builds the logger shared by the API client, the service and the bot.
func New(cfg Config) *log.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	flags := log.LstdFlags | log.Lmsgprefix
	if cfg.Verbose {
		flags |= log.Lshortfile
	}
	if cfg.UTC {
		flags |= log.LUTC
	}
	return log.New(out, prefix, flags)
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
