package rewrite

import (
	"strings"

	"frameproxy/internal/model"
)

// rewriteCSS rewrites root-relative url(...) references, keeping the url()
// wrapper and the original quoting.
func (e *Engine) rewriteCSS(src string, rc *model.RewriteContext) string {
	var b strings.Builder
	i := 0
	for {
		j := indexFold(src[i:], "url(")
		if j < 0 {
			b.WriteString(src[i:])
			return b.String()
		}
		j += i + len("url(")
		b.WriteString(src[i:j])

		// Leading whitespace inside url( is legal.
		k := j
		for k < len(src) && isSpace(src[k]) {
			k++
		}
		b.WriteString(src[j:k])

		valueStart := k
		quote := byte(0)
		if k < len(src) && (src[k] == '"' || src[k] == '\'') {
			quote = src[k]
			k++
		}
		var end int
		if quote != 0 {
			end = strings.IndexByte(src[k:], quote)
		} else {
			end = strings.IndexByte(src[k:], ')')
		}
		if end < 0 {
			// Unterminated; copy the rest untouched.
			b.WriteString(src[valueStart:])
			return b.String()
		}
		end += k

		value := src[k:end]
		trimmed := strings.TrimSpace(value)
		if quote != 0 {
			b.WriteByte(quote)
		}
		if isRootRelative(trimmed) {
			b.WriteString(proxied(rc, rc.BaseURL+trimmed))
		} else {
			b.WriteString(value)
		}
		if quote != 0 {
			b.WriteByte(quote)
			end++
		}
		i = end
	}
}

// indexFold is strings.Index for an ASCII needle, ignoring case.
func indexFold(s, needle string) int {
	n := len(needle)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], needle) {
			return i
		}
	}
	return -1
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
