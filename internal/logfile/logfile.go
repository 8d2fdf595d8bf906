// Package logfile writes the gateway's daily plain-text activity logs.
//
// These files are the operational record the fleet operators grep through;
// their format predates the gateway and is kept byte-compatible: one file
// per calendar day named LOG_DDMMYY.txt, each line prefixed with
// "DD/MM/YYYY HH:MM:SS" and an optional bracketed tag. Structured logging
// for machines lives in log/slog; this package is for humans.
package logfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Line tags used by the gateway.
const (
	TagUDP  = "UDP"
	TagNMEA = "NMEA"
)

// Writer appends timestamped lines to the current day's file, rolling to
// a new file at midnight. Safe for concurrent use.
type Writer struct {
	dir string

	mu   sync.Mutex
	day  string
	file *os.File

	now func() time.Time
}

// New returns a Writer placing files under dir. The directory is created
// on first write.
func New(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

// Log appends one line. tag may be empty.
func (w *Writer) Log(tag, message string) error {
	t := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateLocked(t); err != nil {
		return err
	}

	var line string
	if tag != "" {
		line = fmt.Sprintf("%s [%s] %s\n", t.Format("02/01/2006 15:04:05"), tag, message)
	} else {
		line = fmt.Sprintf("%s %s\n", t.Format("02/01/2006 15:04:05"), message)
	}

	if _, err := w.file.WriteString(line); err != nil {
		return fmt.Errorf("append daily log: %w", err)
	}
	return nil
}

// Close closes the current file. The Writer may be used again; the next
// Log reopens it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.day = ""
	if err != nil {
		return fmt.Errorf("close daily log: %w", err)
	}
	return nil
}

// rotateLocked opens the file for t's calendar day if it is not already
// the current one. Caller holds w.mu.
func (w *Writer) rotateLocked(t time.Time) error {
	day := t.Format("020106")
	if w.file != nil && day == w.day {
		return nil
	}

	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("close daily log: %w", err)
		}
		w.file = nil
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	path := filepath.Join(w.dir, "LOG_"+day+".txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open daily log: %w", err)
	}

	w.file = f
	w.day = day
	return nil
}
