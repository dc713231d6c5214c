// Package content decides how each upstream response body is handled and
// applies that decision.
//
// Opaque bodies stream through untouched. Textual bodies (HTML, CSS,
// JavaScript, JSON) are buffered, decoded, rewritten and emitted without a
// content-coding.
package content

import (
	"mime"
	"strings"

	"frameproxy/internal/model"
)

// Classify maps a Content-Type header value to a ContentKind.
func Classify(contentType string) model.ContentKind {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
		mt = strings.ToLower(strings.TrimSpace(mt))
	}

	switch {
	case mt == "text/html", mt == "application/xhtml+xml":
		return model.KindHTML
	case mt == "text/css":
		return model.KindCSS
	case strings.Contains(mt, "javascript"), strings.Contains(mt, "ecmascript"):
		return model.KindScript
	case mt == "application/json", mt == "text/json", strings.HasSuffix(mt, "+json"):
		return model.KindJSON
	default:
		return model.KindOpaque
	}
}
