package cgi

import (
	"bufio"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// parsedHeader is the in-progress response builder described in spec §3's
// "Header accumulator": the accumulated header set, a parsed status code if
// any, and the flags needed to apply the Location/Content-Type defaulting
// rules once the block ends.
type parsedHeader struct {
	header         http.Header
	status         int
	hasHeaderLine  bool
	hasLocation    bool
	hasContentType bool
}

// parseHeaderBlock reads CRLF-delimited (tolerating bare LF) lines from r
// until a blank line, populating a response status and header set per the
// CGI header-block grammar. It never reads past the blank line that ends
// the block, so the caller can immediately start streaming whatever bytes
// remain on r as the response body.
func parseHeaderBlock(r *bufio.Reader, logger *zap.Logger) (*parsedHeader, error) {
	h := &parsedHeader{header: make(http.Header)}

	for {
		line, err := r.ReadString('\n')
		if line == "" && err != nil {
			// EOF before any blank line: accept whatever was seen.
			break
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			break
		}

		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			logger.Warn("malformed cgi header line, skipping", zap.String("line", trimmed))
			if err != nil {
				break
			}
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		h.hasHeaderLine = true

		if key == "Status" {
			parseStatus(h, value, logger)
		} else {
			canon := textproto.CanonicalMIMEHeaderKey(key)
			if !validHeaderKey(canon) || !validHeaderValue(value) {
				logger.Warn("invalid cgi header, skipping",
					zap.String("key", key), zap.String("value", value))
			} else {
				h.header.Add(canon, value)
			}
		}

		if key == "Location" && value != "" {
			h.hasLocation = true
		}
		if key == "Content-Type" && value != "" {
			h.hasContentType = true
		}

		if err != nil {
			break
		}
	}

	return h, nil
}

func parseStatus(h *parsedHeader, value string, logger *zap.Logger) {
	codeStr := value
	if idx := strings.IndexByte(value, ' '); idx >= 0 {
		codeStr = value[:idx]
	}
	code, err := strconv.ParseUint(codeStr, 10, 16)
	if err != nil || code < 100 || code > 999 {
		logger.Warn("malformed cgi Status header, ignoring",
			zap.String("value", value))
		return
	}
	h.status = int(code)
}

// resolve applies the Location/Content-Type defaulting rules that run once
// the header block has been fully read, returning the final status code or
// a HeaderProtocolError if the block was empty or missing Content-Type.
func (h *parsedHeader) resolve() (int, error) {
	if !h.hasHeaderLine {
		return 0, &HeaderProtocolError{Reason: "No header read"}
	}
	if h.hasLocation && h.status == 0 {
		return http.StatusFound, nil
	}
	if !h.hasContentType && h.status == 0 {
		return 0, &HeaderProtocolError{Reason: "Missing required Content-Type header"}
	}
	if h.status == 0 {
		return http.StatusOK, nil
	}
	return h.status, nil
}

func validHeaderKey(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c <= ' ' || c == ':' || c > 126 {
			return false
		}
	}
	return true
}

func validHeaderValue(s string) bool {
	for _, c := range s {
		if c == '\r' || c == '\n' || c == 0 {
			return false
		}
	}
	return true
}
