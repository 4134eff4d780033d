package utils

import (
	"net/url"
	"strings"
)

// credentialSegments are the path prefixes after which an Xtream URL carries
// username and password as the next two segments.
var credentialSegments = map[string]bool{
	"live":      true,
	"movie":     true,
	"series":    true,
	"timeshift": true,
}

// LogURLWithFlag returns either the original URL or a masked version for logging
func LogURLWithFlag(obfuscate bool, url string) string {
	if obfuscate {
		return MaskCredentials(url)
	}
	return url
}

// MaskCredentials hides the username/password of an Xtream URL, both the
// path form (/live/u/p/1.ts) and the query form (player_api.php?username=u&password=p).
// Everything else is kept so the log still says which stream was tried.
func MaskCredentials(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil || u.Host == "" {
		return ObfuscateURL(urlStr)
	}

	segments := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	for i := 0; i+2 < len(segments); i++ {
		if credentialSegments[segments[i]] {
			segments[i+1] = "***"
			segments[i+2] = "***"
			break
		}
	}
	u.Path = "/" + strings.Join(segments, "/")
	u.RawPath = ""

	if u.RawQuery != "" {
		q := u.Query()
		for _, key := range []string{"username", "password"} {
			if q.Has(key) {
				q.Set(key, "***")
			}
		}
		u.RawQuery = q.Encode()
	}

	u.User = nil
	return strings.ReplaceAll(u.String(), "%2A%2A%2A", "***")
}

// ObfuscateURL keeps only scheme and host.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}
