package clowdflare

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

type zerologWriterLevel struct {
	w io.Writer // or zerolog.LevelWriter
	l zerolog.Level
	m sync.Mutex
}

var _ zerolog.LevelWriter = (*zerologWriterLevel)(nil)

func newZerologWriterLevel(w io.Writer, l zerolog.Level) *zerologWriterLevel {
	return &zerologWriterLevel{w: w, l: l}
}

func (wl *zerologWriterLevel) Write(p []byte) (n int, err error) {
	wl.m.Lock()
	defer wl.m.Unlock()
	if wl.w != nil {
		return wl.w.Write(p)
	}
	return len(p), nil
}

func (wl *zerologWriterLevel) WriteLevel(l zerolog.Level, p []byte) (n int, err error) {
	if l >= wl.l {
		wl.m.Lock()
		defer wl.m.Unlock()
		if wl.w != nil {
			if lw, ok := wl.w.(zerolog.LevelWriter); ok {
				return lw.WriteLevel(l, p)
			}
			return wl.w.Write(p)
		}
	}
	return len(p), nil
}

// configureLogging creates the root logger. Pretty logs are written to stderr,
// and JSON logs to the log file if configured. The returned function closes
// the log file.
func configureLogging(c *Config, stderr io.Writer, color bool) (l zerolog.Logger, closer func() error, err error) {
	closer = func() error { return nil }

	var outputs []io.Writer
	if c.LogPretty {
		outputs = append(outputs, newZerologWriterLevel(zerolog.ConsoleWriter{
			Out:     stderr,
			NoColor: !color,
		}, c.LogLevel))
	} else {
		outputs = append(outputs, newZerologWriterLevel(stderr, c.LogLevel))
	}
	if fn := c.LogFile; fn != "" {
		if fn, err = filepath.Abs(fn); err != nil {
			err = fmt.Errorf("resolve log file: %w", err)
			return
		}
		var f *os.File
		if f, err = os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666); err != nil {
			err = fmt.Errorf("open log file: %w", err)
			return
		}
		outputs = append(outputs, newZerologWriterLevel(f, c.LogFileLevel))
		closer = f.Close
	}

	lvl := c.LogLevel
	if c.LogFile != "" && c.LogFileLevel < lvl {
		lvl = c.LogFileLevel
	}
	l = zerolog.New(zerolog.MultiLevelWriter(outputs...)).
		Level(lvl).
		With().
		Timestamp().
		Logger()
	return
}
