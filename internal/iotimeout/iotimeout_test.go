package iotimeout

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowReader struct {
	delay time.Duration
	data  string
	read  bool
}

func (r *slowReader) Read(p []byte) (int, error) {
	if r.read {
		return 0, io.EOF
	}
	time.Sleep(r.delay)
	r.read = true
	return copy(p, r.data), nil
}

func TestReader_PassesThroughWithinDeadline(t *testing.T) {
	r := NewReader(strings.NewReader("payload"), time.Second)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(out))
}

func TestReader_TimesOutWhenSourceStalls(t *testing.T) {
	r := NewReader(&slowReader{delay: 100 * time.Millisecond, data: "x"}, 10*time.Millisecond)
	buf := make([]byte, 16)
	_, err := r.Read(buf)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestReader_ZeroDurationDisablesTimeout(t *testing.T) {
	r := NewReader(strings.NewReader("abc"), 0)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))
}

type slowWriter struct {
	delay time.Duration
}

func (w *slowWriter) Write(p []byte) (int, error) {
	time.Sleep(w.delay)
	return len(p), nil
}

func TestWriter_PassesThroughWithinDeadline(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, time.Second)
	n, err := w.Write([]byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "payload", buf.String())
}

func TestWriter_TimesOutWhenSinkStalls(t *testing.T) {
	w := NewWriter(&slowWriter{delay: 100 * time.Millisecond}, 10*time.Millisecond)
	_, err := w.Write([]byte("data"))
	assert.ErrorIs(t, err, ErrTimeout)
}

type erroringWriter struct{ err error }

func (w *erroringWriter) Write(p []byte) (int, error) { return 0, w.err }

func TestWriter_PropagatesUnderlyingError(t *testing.T) {
	wantErr := errors.New("disk full")
	w := NewWriter(&erroringWriter{err: wantErr}, time.Second)
	_, err := w.Write([]byte("data"))
	assert.ErrorIs(t, err, wantErr)
}
