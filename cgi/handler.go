package cgi

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hurlebouc/cgi-gateway/internal/cgiproc"
)

// Option configures a Handler at construction time.
type Option func(*Handler)

// WithLogger overrides the handler's logger. The default is zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithMaxProcesses overrides the concurrency limiter's capacity. The
// default is DefaultMaxProcesses.
func WithMaxProcesses(n int) Option {
	return func(h *Handler) { h.limiter = NewLimiter(n) }
}

// WithDiagnostics installs a factory that builds a DiagnosticSink for each
// request's stderr. The default discards every write.
func WithDiagnostics(newSink func() DiagnosticSink) Option {
	return func(h *Handler) { h.newSink = newSink }
}

// WithBufferSize overrides the chunk size used when pumping the request
// body into the child's stdin and when draining stderr; stdout is read
// through a default-sized bufio.Reader and is not affected. The default
// is cgiproc.DefaultBufferSize.
func WithBufferSize(n int) Option {
	return func(h *Handler) { h.bufSize = n }
}

// Handler is an http.Handler that dispatches every request to the CGI
// script described by its Descriptor. It is the Response Assembler,
// Header Parser, Child Supervisor and Environment Builder wired together
// behind the single entry point an HTTP server expects, in the shape of
// the teacher's fastcgi.Handler: an ordered ServeHTTP body rather than a
// layered middleware stack.
type Handler struct {
	desc    *Descriptor
	limiter *Limiter
	logger  *zap.Logger
	newSink func() DiagnosticSink
	bufSize int
}

// NewHandler builds a Handler for desc. desc is never mutated afterward and
// may be shared by many Handlers (e.g. one per virtual host).
func NewHandler(desc *Descriptor, opts ...Option) *Handler {
	h := &Handler{
		desc:    desc,
		limiter: NewLimiter(DefaultMaxProcesses),
		logger:  zap.NewNop(),
		newSink: func() DiagnosticSink { return DiscardSink{} },
		bufSize: cgiproc.DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// §4.7 — rejections before spawn.
	if isChunked(r) {
		http.Error(w, "Chunked encoding is not supported by CGI.", http.StatusBadRequest)
		return
	}

	permit, err := h.limiter.Acquire(r.Context())
	if err != nil {
		// request context cancelled while waiting for a slot
		return
	}
	// Release is idempotent, so it is safe to defer unconditionally here
	// and also release it (via body.Close, below) once the response body
	// has finished streaming — whichever happens first wins and the
	// other call is a no-op.
	defer permit.Release()

	cmd := exec.CommandContext(r.Context(), h.desc.Path, h.desc.Args...)
	cmd.Dir = workDir(h.desc)
	cmd.Env = envSlice(buildEnv(h.desc, deriveConnInfo(r), r))

	sink := h.newSink()
	start := time.Now()
	metrics.activeProcesses.WithLabelValues(h.desc.Path).Inc()
	defer metrics.activeProcesses.WithLabelValues(h.desc.Path).Dec()

	stream, err := cgiproc.Start(cmd, r.Body, h.bufSize, sink)
	if err != nil {
		h.logger.Error("cgi spawn failed", zap.String("path", h.desc.Path), zap.Error(err))
		spawnErr := &SpawnError{Path: h.desc.Path, Err: err}
		http.Error(w, spawnErr.Error(), http.StatusInternalServerError)
		metrics.requestsTotal.WithLabelValues(h.desc.Path, outcomeSpawnFail).Inc()
		return
	}

	// The response body (§4.6) holds both the permit and the stream, and
	// releases them in reverse order of acquisition once the HTTP codec
	// has finished sending — here, once ServeHTTP returns.
	body := &responseBody{stream: stream, permit: permit}
	defer body.Close()

	reader := bufio.NewReader(stream.Stdout())
	parsed, _ := parseHeaderBlock(reader, h.logger)
	status, herr := parsed.resolve()
	if herr != nil {
		h.logger.Warn("cgi header protocol violation", zap.Error(herr))
		http.Error(w, herr.Error(), http.StatusInternalServerError)
		metrics.requestsTotal.WithLabelValues(h.desc.Path, outcomeProtoFail).Inc()
		return
	}

	for key, values := range parsed.header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(status)

	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Warn("cgi response body truncated", zap.Error(&ChildIOError{Err: err}))
	}
	// The stderr pump runs on its own goroutine; draining stdout above
	// says nothing about whether it has finished writing to sink. Wait
	// for it before flushing a line-buffering sink, otherwise Flush can
	// race the pump's last Write and emit the trailing partial line too
	// early — or, with nothing left to emit it, drop it entirely.
	if err := stream.StderrErr(); err != nil {
		h.logger.Warn("cgi script stderr truncated", zap.Error(&ChildIOError{Err: err}))
	}
	if flusher, ok := sink.(interface{ Flush() }); ok {
		flusher.Flush()
	}
	if err := stream.StdinErr(); err != nil && !isBenignStdinErr(err) {
		h.logger.Warn("cgi request body not fully delivered", zap.Error(&UpstreamIOError{Err: err}))
	}

	metrics.childDuration.WithLabelValues(h.desc.Path).Observe(time.Since(start).Seconds())
	metrics.requestsTotal.WithLabelValues(h.desc.Path, outcomeOK).Inc()
}

// responseBody ties the concurrency permit and the Process Stream to the
// response body: ServeHTTP copies the remaining stdout bytes to the client
// and then calls Close, which releases exactly one permit and guarantees
// the child is terminated, running their destructors in reverse order:
// the stream first (killing
// the child and reaping it), then the permit.
type responseBody struct {
	stream *cgiproc.Stream
	permit *Permit
}

func (b *responseBody) Close() error {
	err := b.stream.Close()
	b.permit.Release()
	return err
}

// isChunked reports whether r arrived with a chunked transfer encoding.
// net/http parses the Transfer-Encoding header off incoming requests and
// removes it from r.Header (the same treatment it gives Host), storing the
// result in r.TransferEncoding instead — that field is checked first, with
// r.Header as a fallback for requests assembled by hand (e.g. in tests).
func isChunked(r *http.Request) bool {
	for _, v := range r.TransferEncoding {
		if strings.EqualFold(strings.TrimSpace(v), "chunked") {
			return true
		}
	}
	for _, v := range r.Header.Values("Transfer-Encoding") {
		if strings.EqualFold(strings.TrimSpace(v), "chunked") {
			return true
		}
	}
	return false
}

func isBenignStdinErr(err error) bool {
	// A broken pipe after the child has already produced and closed its
	// response is expected whenever the script doesn't read all of a
	// request body it doesn't need (e.g. a GET handler that ignores an
	// unexpected body).
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "file already closed")
}

func deriveConnInfo(r *http.Request) ConnInfo {
	ci := ConnInfo{}
	if host, port, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ci.RemoteAddr = host
		ci.RemotePort = port
	} else {
		ci.RemoteAddr = r.RemoteAddr
	}
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		if host, port, err := net.SplitHostPort(addr.String()); err == nil {
			ci.ServerName = host
			ci.ServerPort = port
		}
	}
	return ci
}
