package cgiproc

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_StdoutCarriesChildOutput(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "cat; echo done")
	s, err := Start(cmd, strings.NewReader("hello"), 0, io.Discard)
	require.NoError(t, err)
	defer s.Close()

	out, err := io.ReadAll(s.Stdout())
	require.NoError(t, err)
	assert.Equal(t, "hellodone\n", string(out))

	require.NoError(t, s.StdinErr())
	require.NoError(t, s.Close())
}

func TestStream_StderrGoesToSink(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "echo oops 1>&2")
	var sink bytes.Buffer
	s, err := Start(cmd, strings.NewReader(""), 0, &sink)
	require.NoError(t, err)
	defer s.Close()

	_, err = io.ReadAll(s.Stdout())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Equal(t, "oops\n", sink.String())
}

func TestStream_StderrErrWaitsForPumpBeforeFlush(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "echo partial-line-without-newline; sleep 0.05; printf unterminated 1>&2")
	var sink bytes.Buffer
	s, err := Start(cmd, strings.NewReader(""), 0, &sink)
	require.NoError(t, err)
	defer s.Close()

	_, err = io.ReadAll(s.Stdout())
	require.NoError(t, err)

	// StderrErr must block until pumpStderr's goroutine has finished
	// writing, so the sink already has every byte the script wrote by the
	// time it returns — exercising it before a Flush is what the caller
	// (cgi.Handler) relies on to avoid both a data race on the sink's
	// internal buffer and dropping the final unterminated line.
	require.NoError(t, s.StderrErr())
	assert.Equal(t, "unterminated", sink.String())
}

func TestStream_StderrErrIsIdempotentAndSharedWithClose(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "echo oops 1>&2")
	var sink bytes.Buffer
	s, err := Start(cmd, strings.NewReader(""), 0, &sink)
	require.NoError(t, err)

	_, err = io.ReadAll(s.Stdout())
	require.NoError(t, err)

	err1 := s.StderrErr()
	err2 := s.StderrErr()
	assert.NoError(t, err1)
	assert.Equal(t, err1, err2)

	// Close must not block forever re-reading an already-drained channel.
	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case closeErr := <-done:
		assert.NoError(t, closeErr)
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked after StderrErr had already drained the pump")
	}
}

func TestStream_CloseKillsStillRunningChild(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "sleep 30")
	s, err := Start(cmd, strings.NewReader(""), 0, io.Discard)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Close() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not kill the still-running child in time")
	}
}

func TestStream_ContextCancellationKillsChild(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", "sleep 30")
	s, err := Start(cmd, strings.NewReader(""), 0, io.Discard)
	require.NoError(t, err)
	defer s.Close()

	cancel()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case <-waitErr:
	case <-time.After(5 * time.Second):
		t.Fatal("context cancellation did not terminate the child in time")
	}
}

func TestStream_CloseIsIdempotent(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "true")
	s, err := Start(cmd, strings.NewReader(""), 0, io.Discard)
	require.NoError(t, err)

	_, _ = io.ReadAll(s.Stdout())
	_ = s.StdinErr()

	err1 := s.Close()
	err2 := s.Close()
	assert.Equal(t, err1, err2)
}

func TestStart_SpawnErrorForMissingExecutable(t *testing.T) {
	cmd := exec.Command("/no/such/executable")
	_, err := Start(cmd, strings.NewReader(""), 0, io.Discard)
	assert.Error(t, err)
}
