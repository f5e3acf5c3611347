// Package observer implements the run loop's external-collaborator
// notification surface: file-captured, error, and status-tick events,
// reported the way the teacher reports operational events — through
// the standard log package rather than a structured logging library
// the rest of the corpus never pulled in.
package observer

import (
	"log"

	"github.com/tamzrod/scope-bridge/internal/bridgeerr"
)

// Snapshot is the periodic status tick the run loop reports.
type Snapshot struct {
	BytesWritten     uint64
	Overflows        uint32
	QueueUtilization float64
	FreeMemory       uint32
}

// Observer is the run loop's abstract collaborator. The concrete
// implementation (display, LED, log) lives outside the run loop
// itself; Logger below is the default used when no richer observer
// is wired.
type Observer interface {
	OnFileCaptured(name string, bytes int)
	OnError(kind bridgeerr.Kind, detail string)
	OnStatusTick(snapshot Snapshot)
}

// Logger is the default Observer: it reports every event via the
// standard log package, mirroring the teacher's log.Printf style.
type Logger struct {
	Prefix string
}

func NewLogger(prefix string) *Logger { return &Logger{Prefix: prefix} }

func (l *Logger) OnFileCaptured(name string, bytes int) {
	log.Printf("%s: captured %s (%d bytes)", l.Prefix, name, bytes)
}

func (l *Logger) OnError(kind bridgeerr.Kind, detail string) {
	log.Printf("%s: error kind=%s detail=%s", l.Prefix, kind, detail)
}

func (l *Logger) OnStatusTick(s Snapshot) {
	log.Printf("%s: status bytes=%d overflows=%d queue=%.0f%% free_mem=%d",
		l.Prefix, s.BytesWritten, s.Overflows, s.QueueUtilization*100, s.FreeMemory)
}
