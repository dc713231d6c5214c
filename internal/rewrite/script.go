package rewrite

import (
	"strings"

	"frameproxy/internal/model"
)

// rewriteScript scans JavaScript or JSON source for string literals holding
// root-relative paths. A literal is rewritten when it is the first argument
// of fetch(), starts with a framework prefix, or ends in an asset extension.
// Literals holding CSS have their url() references rewritten instead.
// Comments are skipped; literals keep their own quote character.
func (e *Engine) rewriteScript(src string, rc *model.RewriteContext) string {
	var b strings.Builder
	b.Grow(len(src))

	n := len(src)
	last := 0 // start of the pending, not yet copied span
	for i := 0; i < n; {
		c := src[i]
		switch {
		case c == '/' && i+1 < n && src[i+1] == '/':
			if nl := strings.IndexByte(src[i:], '\n'); nl >= 0 {
				i += nl + 1
			} else {
				i = n
			}
		case c == '/' && i+1 < n && src[i+1] == '*':
			if end := strings.Index(src[i+2:], "*/"); end >= 0 {
				i += end + 4
			} else {
				i = n
			}
		case c == '"' || c == '\'' || c == '`':
			end, ok := literalEnd(src, i)
			if !ok {
				i++
				continue
			}
			value := src[i+1 : end]
			switch {
			case e.rewritableLiteral(src, i, value):
				b.WriteString(src[last : i+1])
				b.WriteString(proxied(rc, rc.BaseURL+value))
				last = end
			case indexFold(value, "url(") >= 0:
				// CSS carried in a string, e.g. styled-components templates.
				if next := e.rewriteCSS(value, rc); next != value {
					b.WriteString(src[last : i+1])
					b.WriteString(next)
					last = end
				}
			}
			i = end + 1
		default:
			i++
		}
	}
	b.WriteString(src[last:])
	return b.String()
}

// literalEnd returns the index of the quote closing the literal opened at
// src[start]. Quoted strings may not span lines.
func literalEnd(src string, start int) (int, bool) {
	q := src[start]
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case '\n':
			if q != '`' {
				return 0, false
			}
		case q:
			return i, true
		}
	}
	return 0, false
}

func (e *Engine) rewritableLiteral(src string, quoteAt int, value string) bool {
	if !isRootRelative(value) || strings.ContainsAny(value, "\\\n") || strings.Contains(value, "${") {
		return false
	}
	return isFetchArgument(src[:quoteAt]) || e.isAssetPath(value)
}

// isFetchArgument reports whether before ends with "fetch(" (whitespace allowed
// around the parenthesis) and fetch is not the tail of a longer identifier.
func isFetchArgument(before string) bool {
	s := strings.TrimRight(before, " \t\r\n")
	s, ok := strings.CutSuffix(s, "(")
	if !ok {
		return false
	}
	s = strings.TrimRight(s, " \t\r\n")
	s, ok = strings.CutSuffix(s, "fetch")
	if !ok {
		return false
	}
	if s == "" {
		return true
	}
	return !isIdentByte(s[len(s)-1])
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
