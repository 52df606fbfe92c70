package cgiproc

import (
	"io"
	"os/exec"
	"sync"
)

// Stream is the Process Stream: it owns a spawned child process and its
// three piped standard streams, couples the request body to the child's
// stdin, and drains stderr into a diagnostic sink concurrently. The child's
// stdout is exposed directly as an io.Reader for the header parser and
// response assembler to read from — on the same goroutine that drives the
// HTTP response, so that header parsing strictly precedes body streaming
// without any extra buffering.
//
// A Stream must be closed; Close is idempotent and guarantees the child is
// killed if it is still running, matching the "kill-on-drop" policy a
// language with RAII would express as a destructor.
type Stream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	stdinDone  chan error
	stderrDone chan error

	stderrOnce sync.Once
	stderrErr  error

	closeOnce sync.Once
	closeErr  error
}

// Start spawns cmd with three piped standard streams, wires body into its
// stdin (in a background goroutine, honoring the residual-buffer
// backpressure rule), and drains its stderr into sink (also in the
// background, one Write call per non-empty read). bufSize bounds both the
// stdin and stderr read buffers; zero selects DefaultBufferSize.
//
// If cmd fails to start, the caller's pipes are already closed by
// exec.Cmd.Start's own cleanup and Start returns the spawn error unwrapped
// so the caller can classify it as a SpawnError.
func Start(cmd *exec.Cmd, body io.Reader, bufSize int, sink io.Writer) (*Stream, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	s := &Stream{
		cmd:        cmd,
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		stdinDone:  make(chan error, 1),
		stderrDone: make(chan error, 1),
	}

	go func() {
		s.stdinDone <- pumpStdin(stdin, body, bufSize, stdin.Close)
	}()
	go func() {
		s.stderrDone <- pumpStderr(stderr, bufSize, sink)
	}()

	return s, nil
}

// Stdout returns the reader the caller should use for the header block and
// the response body. It must be read from a single goroutine.
func (s *Stream) Stdout() io.Reader { return s.stdout }

// StdinErr reports the outcome of the request-body-to-stdin pump, blocking
// until it has finished. It is safe to call only after the stdout side has
// reached end-of-stream; Close never waits on it.
func (s *Stream) StdinErr() error {
	return <-s.stdinDone
}

// StderrErr reports the outcome of the stderr-to-sink pump, blocking until
// it has finished. The caller must wait on this — and only then flush any
// line-buffering DiagnosticSink — before treating a request as done:
// draining stdout does not imply stderr has finished, since the two run on
// independent goroutines. Safe to call more than once (from both the
// handler and Close); the result is read from the pump exactly once and
// cached for subsequent callers.
func (s *Stream) StderrErr() error {
	s.stderrOnce.Do(func() {
		s.stderrErr = <-s.stderrDone
	})
	return s.stderrErr
}

// Close terminates the child (if still running), waits for the stderr pump
// to finish, and reaps the process; it does not wait for the stdin pump. It is idempotent; only the first call
// does any work, and its result is cached for subsequent callers.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		// Kill unconditionally: if the process already exited this is a
		// harmless no-op (exec reports "process already finished"),
		// and if it's still running this is the kill-on-drop guarantee.
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.stdout.Close()
		s.StderrErr()
		// The stdin pump is deliberately not waited on here: it may be
		// blocked reading the next request-body chunk, and that reader
		// is owned by the HTTP server, not by this Stream. Killing the
		// child unblocks any pending stdin Write with a broken-pipe
		// error; the pump then exits on its own and the buffered
		// channel absorbs its result without anyone needing to receive
		// it.
		s.closeErr = s.cmd.Wait()
	})
	return s.closeErr
}

// pumpStderr drains src into sink one read at a time until EOF or error,
// never buffering more than one read's worth of bytes. A write error to
// sink is swallowed (a DiagnosticSinkError must never affect the HTTP
// response) but a non-EOF read error from src is returned as a ChildIOError
// candidate for the caller to log.
func pumpStderr(src io.Reader, bufSize int, sink io.Writer) error {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	buf := make([]byte, bufSize)
	for {
		n, err := src.Read(buf)
		if n > 0 && sink != nil {
			_, _ = sink.Write(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
