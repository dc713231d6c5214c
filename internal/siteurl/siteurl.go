// Package siteurl encodes absolute URLs into proxied URLs and back.
//
// A proxied URL has the form <proxy base>/?site=<query-escaped absolute URL>.
// The path form <proxy base>/proxy/<path-escaped absolute URL> is accepted
// on input as well.
package siteurl

import (
	"errors"
	"net/url"
	"strings"
)

const (
	// Param is the query parameter carrying the target URL.
	Param = "site"
	// PathPrefix introduces the path form of a proxied URL.
	PathPrefix = "/proxy/"
)

// ErrNotProxied is returned by Decode for URLs that carry no target.
var ErrNotProxied = errors.New("not a proxied URL")

// Encode returns the proxied form of abs under proxyBase.
func Encode(proxyBase, abs string) string {
	return strings.TrimSuffix(proxyBase, "/") + "/?" + Param + "=" + url.QueryEscape(abs)
}

// IsProxied reports whether ref already routes through proxyBase.
func IsProxied(ref, proxyBase string) bool {
	base := strings.TrimSuffix(proxyBase, "/")
	return strings.HasPrefix(ref, base+"/?"+Param+"=") || strings.HasPrefix(ref, base+PathPrefix)
}

// Decode extracts the absolute target URL from a proxied URL.
func Decode(proxied string) (string, error) {
	u, err := url.Parse(proxied)
	if err != nil {
		return "", err
	}
	if site := u.Query().Get(Param); site != "" {
		return site, nil
	}
	return FromPath(u.EscapedPath())
}

// FromPath extracts the target from an escaped request path of the form /proxy/<escaped URL>.
func FromPath(escapedPath string) (string, error) {
	rest, ok := strings.CutPrefix(escapedPath, PathPrefix)
	if !ok || rest == "" {
		return "", ErrNotProxied
	}
	return url.PathUnescape(rest)
}
