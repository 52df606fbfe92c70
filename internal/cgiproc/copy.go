// Package cgiproc implements the bidirectional streaming engine that pumps
// an HTTP request body into a child process's standard input while
// draining its standard output and standard error.
package cgiproc

import "io"

// DefaultBufferSize is used when a caller does not specify one.
const DefaultBufferSize = 32 * 1024

// pumpStdin copies src into dst one write at a time, honoring backpressure:
// it never pulls a new chunk from src while a short write has left a
// residual tail unflushed, and it retries that tail before anything else.
// dst is half-closed (via closeWrite) exactly once, when src reports
// end-of-stream, and only after any residual has been fully flushed. A read
// error from src, or a write error to dst, stops the pump and is returned
// to the caller. The pump returns as soon as dst is closed, so src is never
// read after that point.
//
// This is the Go translation of the spec's poll priority for the stdin side
// of the process stream: a dedicated goroutine running this loop with
// blocking I/O plays the role the non-blocking poll loop plays in a
// single-threaded async scheduler. The residual-buffer bookkeeping is kept
// explicit (rather than delegated to io.Copy, which treats a short write as
// a terminal error) so a sink that genuinely accepts partial writes is
// handled the same way a single-threaded poller would handle it.
func pumpStdin(dst io.Writer, src io.Reader, bufSize int, closeWrite func() error) error {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	buf := make([]byte, bufSize)
	var residual []byte
	srcExhausted := false

	for {
		if len(residual) > 0 {
			n, err := dst.Write(residual)
			if n > 0 {
				residual = residual[n:]
			}
			if err != nil {
				return err
			}
			if n == 0 {
				// a zero-size accepted write marks the sink closed
				return nil
			}
			if len(residual) == 0 && srcExhausted {
				return closeWrite()
			}
			continue
		}

		if srcExhausted {
			return closeWrite()
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			written, err := dst.Write(chunk)
			if err != nil {
				return err
			}
			if written < len(chunk) {
				residual = append([]byte(nil), chunk[written:]...)
			}
		}
		switch {
		case rerr == io.EOF:
			srcExhausted = true
			if len(residual) == 0 {
				return closeWrite()
			}
		case rerr != nil:
			// dst is still open here (the pump returns as soon
			// as it closes), so the error is returned and the
			// caller decides how to log it.
			return rerr
		}
	}
}
