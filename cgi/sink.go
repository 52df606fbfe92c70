package cgi

import (
	"bytes"
	"io"

	"go.uber.org/zap"
)

// DiagnosticSink receives the bytes a CGI script writes to its standard
// error. It is never part of the HTTP response; a write error from it is
// ignored: it is neither logged nor surfaced to the client. A Handler asks
// its WithDiagnostics factory for a sink on every request and writes to it
// from one goroutine at a time; a factory that hands the same sink to many
// requests must return one that is safe for concurrent use.
type DiagnosticSink interface {
	io.Writer
}

// DiscardSink drops every write. It's the zero-configuration default when
// an operator doesn't care about script diagnostics.
type DiscardSink struct{}

func (DiscardSink) Write(p []byte) (int, error) { return len(p), nil }

// zapSink line-buffers stderr bytes from a single request and emits one
// Warn-level log entry per line, rather than one entry per raw read (which
// would split lines arbitrarily at the child's write-buffer boundaries).
// It is grounded in the teacher's WriterOpener pattern of routing raw
// bytes through a configured zap core.
type zapSink struct {
	logger *zap.Logger
	buf    bytes.Buffer
}

// NewLogSink returns a DiagnosticSink that writes each complete line of
// stderr as a Warn-level entry on logger. The returned sink is not safe for
// concurrent use by multiple requests; construct one per request.
func NewLogSink(logger *zap.Logger) DiagnosticSink {
	return &zapSink{logger: logger}
}

func (s *zapSink) Write(p []byte) (int, error) {
	s.buf.Write(p)
	for {
		line, err := s.buf.ReadString('\n')
		if err != nil {
			// incomplete line: put it back and wait for more
			s.buf.Reset()
			s.buf.WriteString(line)
			break
		}
		s.logger.Warn("cgi script stderr", zap.String("line", trimNewline(line)))
	}
	return len(p), nil
}

// Flush emits any trailing partial line accumulated without a terminating
// newline. The caller must wait for the stderr pump feeding this sink to
// finish (cgiproc.Stream.StderrErr) before calling Flush: Write and Flush
// both touch buf without their own locking, relying on the caller to never
// run them concurrently, and calling Flush while the pump is still writing
// would also emit the trailing line early, before it's actually complete.
func (s *zapSink) Flush() {
	if s.buf.Len() == 0 {
		return
	}
	s.logger.Warn("cgi script stderr", zap.String("line", s.buf.String()))
	s.buf.Reset()
}

func trimNewline(line string) string {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}
