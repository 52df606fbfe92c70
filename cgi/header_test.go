package cgi

import (
	"bufio"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func parse(t *testing.T, block string) *parsedHeader {
	t.Helper()
	r := bufio.NewReader(strings.NewReader(block))
	h, err := parseHeaderBlock(r, zap.NewNop())
	require.NoError(t, err)
	return h
}

func TestParseHeaderBlock_StatusLine(t *testing.T) {
	h := parse(t, "Status: 404 Not Found\r\nContent-Type: text/plain\r\n\r\nbody")
	status, err := h.resolve()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestParseHeaderBlock_LocationWithoutStatusIs302(t *testing.T) {
	h := parse(t, "Location: /there\r\n\r\n")
	status, err := h.resolve()
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, status)
	assert.Equal(t, "/there", h.header.Get("Location"))
}

func TestParseHeaderBlock_LocationWithExplicitStatusKeepsStatus(t *testing.T) {
	h := parse(t, "Status: 201 Created\r\nLocation: /there\r\n\r\n")
	status, err := h.resolve()
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
}

func TestParseHeaderBlock_MissingContentTypeAndStatusErrors(t *testing.T) {
	h := parse(t, "X-Foo: bar\r\n\r\n")
	_, err := h.resolve()
	require.Error(t, err)
	var perr *HeaderProtocolError
	assert.ErrorAs(t, err, &perr)
}

func TestParseHeaderBlock_NoHeaderLinesErrors(t *testing.T) {
	h := parse(t, "\r\n")
	_, err := h.resolve()
	require.Error(t, err)
}

func TestParseHeaderBlock_ContentTypeDefaultsStatusOK(t *testing.T) {
	h := parse(t, "Content-Type: text/html\r\n\r\n")
	status, err := h.resolve()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestParseHeaderBlock_ToleratesBareLF(t *testing.T) {
	h := parse(t, "Content-Type: text/plain\n\n")
	status, err := h.resolve()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestParseHeaderBlock_MultipleValuesPreserveOrder(t *testing.T) {
	h := parse(t, "Content-Type: text/plain\r\nSet-Cookie: a=1\r\nSet-Cookie: b=2\r\n\r\n")
	assert.Equal(t, []string{"a=1", "b=2"}, h.header.Values("Set-Cookie"))
}

func TestParseHeaderBlock_MalformedLineSkipped(t *testing.T) {
	h := parse(t, "not a header line\r\nContent-Type: text/plain\r\n\r\n")
	status, err := h.resolve()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}
