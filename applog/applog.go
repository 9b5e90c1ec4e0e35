// Package applog provides the two kinds of logging this repository needs:
// a leveled diagnostic logger for operational messages, and an append-only
// hex packet log for recording every frame sent or received.
package applog

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
)

// Logger wraps a leveled, structured diagnostic logger. It is separate from
// the on-disk packet log: this is for "connected", "timeout", "retry 3/5"
// style operator-facing messages.
type Logger struct {
	l *log.Logger
}

// New creates a Logger writing to w (typically os.Stderr) with the given
// name used as its prefix/reporter field.
func New(w *os.File, name string) *Logger {
	l := log.NewWithOptions(w, log.Options{
		Prefix:          name,
		ReportTimestamp: true,
	})
	return &Logger{l: l}
}

func (lg *Logger) Debug(msg string, kv ...any) { lg.l.Debug(msg, kv...) }
func (lg *Logger) Info(msg string, kv ...any)   { lg.l.Info(msg, kv...) }
func (lg *Logger) Warn(msg string, kv ...any)   { lg.l.Warn(msg, kv...) }
func (lg *Logger) Error(msg string, kv ...any)  { lg.l.Error(msg, kv...) }

// PacketLog is an append-only, timestamped hex dump of every packet crossing
// a transport, one per line: "<unix-seconds>.<millis> <HEX BYTES> ".
//
// Opening a log whose target name already exists does not overwrite it:
// a numeric suffix (".1", ".2", ...) is appended until an unused name is
// found, mirroring the original library's logOn behaviour.
type PacketLog struct {
	f    *os.File
	name string
}

// OpenPacketLog opens (or, if the name is taken, opens a suffixed sibling
// of) the named file for packet logging.
func OpenPacketLog(name string) (*PacketLog, error) {
	final := name
	if _, err := os.Stat(name); err == nil {
		for i := 1; ; i++ {
			candidate := fmt.Sprintf("%s.%d", name, i)
			if _, err := os.Stat(candidate); os.IsNotExist(err) {
				final = candidate
				break
			}
		}
	}

	f, err := os.OpenFile(final, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("applog: failed to open packet log %s: %w", final, err)
	}

	return &PacketLog{f: f, name: final}, nil
}

// Name returns the actual file name this log is writing to, which may
// differ from the name requested at open time.
func (pl *PacketLog) Name() string {
	return pl.name
}

// Write appends one timestamped hex line for the given already-encoded
// packet bytes (callers typically pass pack.HexString(p)) and fsyncs.
func (pl *PacketLog) Write(timestampSeconds float64, hexLine string) error {
	line := fmt.Sprintf("%.3f %s\n", timestampSeconds, hexLine)
	if _, err := pl.f.WriteString(line); err != nil {
		return fmt.Errorf("applog: write failed: %w", err)
	}
	return pl.f.Sync()
}

// Close flushes and closes the packet log.
func (pl *PacketLog) Close() error {
	if pl.f == nil {
		return nil
	}
	if err := pl.f.Sync(); err != nil {
		pl.f.Close()
		return err
	}
	return pl.f.Close()
}
