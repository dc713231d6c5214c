// Package codec reverses HTTP content-codings on buffered bodies.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

var (
	// ErrUnsupported is returned for content-codings this package cannot reverse.
	ErrUnsupported = errors.New("unsupported content-encoding")
	// ErrTooLarge is returned when the decoded body exceeds the caller's limit.
	ErrTooLarge = errors.New("decoded body too large")
)

// Parse splits a Content-Encoding header value into normalized codings in the
// order they were applied. "identity" entries are dropped.
func Parse(header string) []string {
	var codings []string
	for _, part := range strings.Split(header, ",") {
		c := strings.ToLower(strings.TrimSpace(part))
		switch c {
		case "", "identity":
			continue
		case "x-gzip":
			c = "gzip"
		case "brotli":
			c = "br"
		}
		codings = append(codings, c)
	}
	return codings
}

// Supported reports whether every coding in header can be reversed.
func Supported(header string) bool {
	for _, c := range Parse(header) {
		switch c {
		case "gzip", "deflate", "br", "zstd":
		default:
			return false
		}
	}
	return true
}

// Decode reverses the codings declared in header. Empty bodies are returned
// as-is. A limit > 0 caps the decoded size; exceeding it yields ErrTooLarge.
func Decode(raw []byte, header string, limit int64) ([]byte, error) {
	codings := Parse(header)
	if len(raw) == 0 || len(codings) == 0 {
		return raw, nil
	}

	body := raw
	for i := len(codings) - 1; i >= 0; i-- {
		out, err := decodeOne(body, codings[i], limit)
		if err != nil {
			return nil, err
		}
		body = out
	}
	return body, nil
}

func decodeOne(raw []byte, coding string, limit int64) ([]byte, error) {
	var r io.Reader
	switch coding {
	case "gzip":
		gr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gr.Close()
		r = gr
	case "deflate":
		// RFC 9110 deflate is zlib-wrapped; some servers send raw DEFLATE.
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			fr := flate.NewReader(bytes.NewReader(raw))
			defer fr.Close()
			r = fr
		} else {
			defer zr.Close()
			r = zr
		}
	case "br":
		r = brotli.NewReader(bytes.NewReader(raw))
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		r = zr
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, coding)
	}

	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", coding, err)
	}
	if limit > 0 && int64(len(out)) > limit {
		return nil, ErrTooLarge
	}
	return out, nil
}
