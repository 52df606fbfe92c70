// Command cgi-server is the reference front-end for the cgi package: a
// standalone HTTP/1.1 listener that dispatches every request to a single
// configured executable. It is a thin shell around cgi.Handler, in the
// style of the teacher's cmd/run.go — flags bound to a struct, validated
// once at startup, then a direct call into http.Serve.
package main

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/hurlebouc/cgi-gateway/cgi"
	"github.com/hurlebouc/cgi-gateway/internal/iotimeout"
)

const (
	defaultAddress        = "0.0.0.0:8080"
	defaultReqBodyTimeout = 30000
	defaultResBodyTimeout = 30000
	defaultMaxProcesses   = 4
)

type flags struct {
	address        string
	root           string
	dir            string
	reqBodyTimeout int
	resBodyTimeout int
	maxProcesses   int
}

func parseFlags(args []string) (*flags, string, error) {
	fs := pflag.NewFlagSet("cgi-server", pflag.ContinueOnError)
	fl := &flags{}
	fs.StringVar(&fl.address, "address", defaultAddress, "host:port to listen on")
	fs.StringVar(&fl.root, "root", "", "URI prefix the script is mounted under")
	fs.StringVar(&fl.dir, "dir", "", "working directory for the child process")
	fs.IntVar(&fl.reqBodyTimeout, "req-body-timeout", defaultReqBodyTimeout, "idle timeout in milliseconds for reading the request body")
	fs.IntVar(&fl.resBodyTimeout, "res-body-timeout", defaultResBodyTimeout, "idle timeout in milliseconds for writing the response body")
	fs.IntVar(&fl.maxProcesses, "max-processes", defaultMaxProcesses, "maximum number of concurrently running CGI processes")

	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}
	if fs.NArg() != 1 {
		return nil, "", fmt.Errorf("expected exactly one positional argument: the executable path")
	}
	return fl, fs.Arg(0), nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cgi-server: cannot build logger:", err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck

	fl, execPath, err := parseFlags(args)
	if err != nil {
		logger.Error("argument parse error", zap.Error(err))
		return 1
	}

	desc := &cgi.Descriptor{
		Path: execPath,
		Root: fl.root,
		Dir:  fl.dir,
	}

	handler := cgi.NewHandler(desc,
		cgi.WithLogger(logger.Named("cgi")),
		cgi.WithMaxProcesses(fl.maxProcesses),
		cgi.WithDiagnostics(func() cgi.DiagnosticSink {
			return cgi.NewLogSink(logger.Named("cgi.stderr"))
		}),
	)

	reqTimeout := time.Duration(fl.reqBodyTimeout) * time.Millisecond
	resTimeout := time.Duration(fl.resBodyTimeout) * time.Millisecond
	wrapped := &timeoutHandler{inner: handler, reqTimeout: reqTimeout, resTimeout: resTimeout}

	ln, err := net.Listen("tcp", fl.address)
	if err != nil {
		logger.Error("cannot bind listener", zap.String("address", fl.address), zap.Error(err))
		return 1
	}

	logger.Info("cgi-server listening",
		zap.String("address", fl.address),
		zap.String("executable", execPath),
		zap.Int("max_processes", fl.maxProcesses),
	)

	if err := http.Serve(ln, wrapped); err != nil && err != http.ErrServerClosed {
		logger.Error("server stopped", zap.Error(err))
		return 1
	}
	return 0
}

// timeoutHandler applies the CLI's req/res-body-timeout flags as
// transparent stream wrappers around the request body and response writer,
// exactly the role spec.md §1 assigns the "per-body wall-clock timeout
// layer": an external collaborator the core consumes only through the
// io.Reader/io.Writer contracts it already depends on.
type timeoutHandler struct {
	inner      http.Handler
	reqTimeout time.Duration
	resTimeout time.Duration
}

func (h *timeoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.reqTimeout > 0 && r.Body != nil {
		r.Body = &timeoutRequestBody{ReadCloser: r.Body, r: iotimeout.NewReader(r.Body, h.reqTimeout)}
	}
	if h.resTimeout > 0 {
		w = &timeoutResponseWriter{ResponseWriter: w, w: iotimeout.NewWriter(w, h.resTimeout)}
	}
	h.inner.ServeHTTP(w, r)
}

type timeoutResponseWriter struct {
	http.ResponseWriter
	w *iotimeout.Writer
}

func (w *timeoutResponseWriter) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

// timeoutRequestBody applies an idle read deadline while keeping the
// original body's Close (iotimeout.Reader has no Close of its own).
type timeoutRequestBody struct {
	io.ReadCloser
	r *iotimeout.Reader
}

func (b *timeoutRequestBody) Read(p []byte) (int, error) {
	return b.r.Read(p)
}
