package converter

import (
	"net/url"
	"path"
	"strings"
)

const gofastPrefix = "/gofast"

// Env carries the deployment values strategies need to turn legacy references
// into upload requests.
type Env struct {
	// DefaultSpaceID is used by tables that carry no space column.
	DefaultSpaceID int64
	// ReadBucket is the bucket root substituted during folder rewriting.
	ReadBucket string
	// StripPrefixes are legacy host/bucket prefixes removed during rewriting.
	StripPrefixes []string
	// GofastHost replaces the /gofast prefix of relative legacy paths.
	GofastHost string
}

// RewriteFolder maps a legacy URL to the destination folder under ReadBucket.
// The first matching legacy prefix is stripped (or, when none matches, the
// scheme and host), the file name is dropped and the remaining directories
// are kept:
//
//	http://legacy/group1/originalData/2024/01/a.mf4 -> <bucket>/2024/01
func (e Env) RewriteFolder(rawURL string) string {
	rest, matched := rawURL, false
	for _, p := range e.StripPrefixes {
		if p != "" && strings.HasPrefix(rest, p) {
			rest = strings.TrimPrefix(rest, p)
			matched = true
			break
		}
	}
	if !matched {
		if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
			rest = u.Path
		}
	}

	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	rest = strings.Trim(rest, "/")

	parts := []string{e.ReadBucket}
	if rest != "" {
		segs := strings.Split(rest, "/")
		parts = append(parts, segs[:len(segs)-1]...)
	}
	return path.Join(parts...)
}

// LegacyURL turns a /gofast-relative path into an absolute URL on GofastHost.
// Other values are returned unchanged.
func (e Env) LegacyURL(p string) string {
	if e.GofastHost == "" || !strings.HasPrefix(p, gofastPrefix) {
		return p
	}
	return strings.TrimRight(e.GofastHost, "/") + strings.TrimPrefix(p, gofastPrefix)
}

// NameFromURL returns the last path segment of a URL, ignoring any query.
func NameFromURL(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// QueryParam returns the named query parameter of a URL exactly as written,
// percent-escapes included, or "". Legacy arrow names were stored that way.
func QueryParam(raw, name string) string {
	_, query, ok := strings.Cut(raw, "?")
	if !ok {
		return ""
	}
	if i := strings.IndexByte(query, '#'); i >= 0 {
		query = query[:i]
	}
	for _, pair := range strings.Split(query, "&") {
		if k, v, _ := strings.Cut(pair, "="); k == name {
			return v
		}
	}
	return ""
}

// ParentFolder drops the last segment of a folder path.
func ParentFolder(folder string) string {
	dir := path.Dir(strings.Trim(folder, "/"))
	if dir == "." {
		return ""
	}
	return dir
}
