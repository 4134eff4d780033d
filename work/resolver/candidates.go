package resolver

import (
	"net/url"
	"strings"
)

// candidateTable is the single preference order per kind. Live panels almost
// always serve HLS or raw TS; VOD panels store the upload as-is, which is
// usually mp4 or mkv.
var candidateTable = map[Kind][]string{
	KindLive:   {"m3u8", "ts", "mp4"},
	KindMovie:  {"m3u8", "mp4", "mkv", "ts"},
	KindSeries: {"m3u8", "mp4", "mkv", "ts"},
}

// Candidates returns a copy of the preference list for kind.
func Candidates(kind Kind) []string {
	list := candidateTable[kind]
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// candidatesFor returns the list for d, with the panel's container hint moved
// to the front when preferHint is set.
func candidatesFor(d ContentDescriptor, preferHint bool) []string {
	list := Candidates(d.Kind)
	hint := normalizeContainer(d.ContainerHint)
	if !preferHint || hint == "" {
		return list
	}

	out := make([]string, 0, len(list)+1)
	out = append(out, hint)
	for _, c := range list {
		if c != hint {
			out = append(out, c)
		}
	}
	return out
}

// normalizeContainer lowercases an extension and drops a leading dot.
func normalizeContainer(c string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c)), ".")
}

// TypePath is the URL path segment for the kind.
func (k Kind) TypePath() string {
	return string(k)
}

// BuildURL composes {base}/{typePath}/{username}/{password}/{streamId}.{container}.
// base must already be normalized.
func BuildURL(base string, s Session, d ContentDescriptor, container string) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteByte('/')
	b.WriteString(d.Kind.TypePath())
	b.WriteByte('/')
	b.WriteString(url.PathEscape(s.Username))
	b.WriteByte('/')
	b.WriteString(url.PathEscape(s.Password))
	b.WriteByte('/')
	b.WriteString(url.PathEscape(strings.TrimSpace(d.StreamID)))
	b.WriteByte('.')
	b.WriteString(container)
	return b.String()
}
