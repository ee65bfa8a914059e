package knowledge

import (
	"net"
	"net/url"
	"strings"
)

var skipPathPrefixes = []string{
	"/api", "/admin", "/login", "/signin", "/signup", "/register",
	"/static", "/assets", "/_next", "/.well-known",
	"/cdn-cgi", "/wp-admin", "/wp-json",
}

var skipExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp", ".ico",
	".pdf", ".zip", ".tar", ".gz",
	".css", ".js", ".map",
	".xml", ".json", ".rss", ".atom",
	".mp3", ".mp4", ".wav", ".avi", ".mov",
	".woff", ".woff2", ".ttf", ".eot",
}

// parseAbsolute accepts only absolute http(s)-style URLs with a host.
func parseAbsolute(raw string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, false
	}
	return u, true
}

// Origin returns scheme://host with default ports dropped, lowercased.
// IPv6 hosts keep their brackets.
func Origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	switch {
	case port != "":
		host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		host = "[" + host + "]"
	}
	return scheme + "://" + host
}

// NormalizeURL strips fragment and query and drops trailing slashes unless
// the path is the root. Input that is not an absolute URL is returned as is.
func NormalizeURL(raw string) string {
	u, ok := parseAbsolute(raw)
	if !ok {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = ""
	u.ForceQuery = false
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(Origin(u), u.Scheme+"://")
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = strings.TrimRight(u.RawPath, "/")
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}
	return u.String()
}

// ShouldSkip reports whether a URL falls outside the crawl: another origin,
// a deny-listed path prefix or extension, or a user exclude pattern.
func ShouldSkip(raw, origin string, exclude []string) bool {
	u, ok := parseAbsolute(raw)
	if !ok {
		return true
	}
	if Origin(u) != origin {
		return true
	}

	path := strings.ToLower(u.Path)
	for _, prefix := range skipPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	for _, ext := range skipExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	for _, pattern := range exclude {
		if pattern == "" {
			continue
		}
		if strings.HasPrefix(path, pattern) || strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}
