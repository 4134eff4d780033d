package resolver

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/grafana/regexp"
)

// PortMode selects when a default port is appended to a base URL without one.
type PortMode string

const (
	PortNever  PortMode = "never"
	PortAlways PortMode = "always"
	PortHosts  PortMode = "hosts"
)

// PortPolicy is the configurable default-port rule. Hosts is only consulted
// in PortHosts mode and is matched case-insensitively against the hostname.
type PortPolicy struct {
	Mode        PortMode
	DefaultPort int
	Hosts       []string
}

var schemeRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*$`)

// apiSuffixes are the panel endpoints users paste together with the server.
var apiSuffixes = []string{"/player_api.php", "/api.php", "/get.php", "/xmltv.php"}

// NormalizeBaseURL turns whatever the user typed into scheme://host[:port][/path].
// It drops any query or fragment, strips a trailing player_api.php or get.php
// (and anything after it), trailing slashes and surrounding whitespace, defaults the scheme to http and applies
// the port policy. Applying it twice gives the same result as applying it once.
func NormalizeBaseURL(raw string, policy PortPolicy) string {
	s := strings.TrimSpace(raw)

	scheme, rest := splitScheme(s)
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	rest = strings.TrimLeft(rest, "/")

	// the API suffix is only looked for in the path, never in the authority
	hostEnd := strings.IndexByte(rest, '/')
	if hostEnd >= 0 {
		path := rest[hostEnd:]
		cut := -1
		for _, suffix := range apiSuffixes {
			if i := strings.Index(path, suffix); i >= 0 && (cut < 0 || i < cut) {
				cut = i
			}
		}
		if cut >= 0 {
			rest = rest[:hostEnd+cut]
		}
	}
	rest = strings.TrimRightFunc(rest, func(c rune) bool { return c == '/' || unicode.IsSpace(c) })

	if scheme == "" {
		scheme = "http"
	}

	// skip an authority made only of colons or blanks, as in "://h"
	var host, path string
	for {
		host, path = rest, ""
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			host, path = rest[:i], rest[i:]
		}
		host = strings.TrimRightFunc(host, func(c rune) bool { return c == ':' || unicode.IsSpace(c) })
		if host != "" || path == "" {
			break
		}
		rest = strings.TrimLeft(path, "/")
	}
	host = applyPortPolicy(host, policy)

	return scheme + "://" + host + path
}

// splitScheme separates "scheme://rest". Input without a well-formed scheme
// is returned whole as rest.
func splitScheme(s string) (string, string) {
	i := strings.Index(s, "://")
	if i <= 0 || !schemeRegex.MatchString(s[:i]) {
		return "", s
	}
	return s[:i], s[i+3:]
}

func applyPortPolicy(host string, policy PortPolicy) string {
	if host == "" || hasPort(host) || !bracketClosed(host) {
		return host
	}

	port := policy.DefaultPort
	if port <= 0 {
		port = 8080
	}

	switch policy.Mode {
	case PortAlways:
		return host + ":" + strconv.Itoa(port)
	case PortHosts:
		name := hostname(host)
		for _, h := range policy.Hosts {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return host + ":" + strconv.Itoa(port)
			}
		}
	}
	return host
}

// hasPort reports whether an authority already carries an explicit port.
func hasPort(authority string) bool {
	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		authority = authority[at+1:]
	}

	var tail string
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return false
		}
		tail = authority[end+1:]
		if !strings.HasPrefix(tail, ":") {
			return false
		}
		tail = tail[1:]
	} else {
		i := strings.LastIndexByte(authority, ':')
		if i < 0 {
			return false
		}
		tail = authority[i+1:]
	}

	if tail == "" {
		return false
	}
	for _, c := range tail {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// bracketClosed reports whether a bracketed IPv6 authority is complete and
// ends at the closing bracket, so a port can be appended after it.
func bracketClosed(authority string) bool {
	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		authority = authority[at+1:]
	}
	if !strings.HasPrefix(authority, "[") {
		return true
	}
	end := strings.IndexByte(authority, ']')
	return end >= 0 && end == len(authority)-1
}

// hostname strips userinfo, brackets and port from an authority.
func hostname(authority string) string {
	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		authority = authority[at+1:]
	}
	if strings.HasPrefix(authority, "[") {
		if end := strings.IndexByte(authority, ']'); end >= 0 {
			return authority[1:end]
		}
		return authority
	}
	if i := strings.LastIndexByte(authority, ':'); i >= 0 {
		return authority[:i]
	}
	return authority
}
