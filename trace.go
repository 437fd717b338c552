package centralfree

import (
	"fmt"

	"golang.org/x/net/trace"
)

// tracer wraps a golang.org/x/net/trace.EventLog, one per Central,
// keyed by the Central's label. This replaces the built-in
// `if trace.enabled { traceGCSweepStart() }` hooks a real runtime
// would already have: as a standalone library this module has no
// built-in tracer, so it reaches for the same x/net/trace facility the
// rest of the corpus uses for exactly this kind of internal event log.
type tracer struct {
	ev trace.EventLog
}

func newTracer(family, label string) tracer {
	if label == "" {
		label = family
	}
	return tracer{ev: trace.NewEventLog(family, label)}
}

func (t tracer) printf(format string, args ...any) {
	if t.ev == nil {
		return
	}
	t.ev.Printf(format, args...)
}

func (t tracer) errorf(format string, args ...any) {
	if t.ev == nil {
		return
	}
	t.ev.Errorf(format, args...)
}

func (t tracer) finish() {
	if t.ev == nil {
		return
	}
	t.ev.Finish()
}

func spanFields(s *Span) string {
	if s == nil {
		return "<nil>"
	}
	return fmt.Sprintf("span=%d ref=%d sweepgen=%d incache=%t", s.ID, s.Ref(), s.Sweepgen, s.InCache)
}
