package vo

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrEmptyURL          = errors.New("url cannot be empty")
	ErrInvalidURL        = errors.New("invalid url")
	ErrUnsupportedScheme = errors.New("url scheme must be http or https")
)

// unsafeURLBytes are escaped when a raw URL does not parse as-is.
const unsafeURLBytes = "\"<>\\^`{|}%"

// SourceURL is a download URL in its percent-encoding-safe form.
// The canonical string doubles as the in-flight registry key.
type SourceURL struct {
	raw string
	u   *url.URL
}

// ParseSourceURL derives the safe form of raw once. A URL that fails to
// parse is percent-encoded and parsed again before giving up.
func ParseSourceURL(raw string) (SourceURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SourceURL{}, ErrEmptyURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		u, err = url.Parse(percentEncode(raw))
		if err != nil {
			return SourceURL{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
		}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return SourceURL{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return SourceURL{}, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	u.Host = strings.ToLower(u.Host)
	// never sent to the server, so it must not split the key
	u.Fragment = ""
	u.RawFragment = ""

	return SourceURL{raw: raw, u: u}, nil
}

// Raw returns the URL exactly as the caller supplied it.
func (s SourceURL) Raw() string {
	return s.raw
}

// Key returns the canonical URL string.
func (s SourceURL) Key() string {
	if s.u == nil {
		return ""
	}
	return s.u.String()
}

// String returns the canonical URL string.
func (s SourceURL) String() string {
	return s.Key()
}

// Name returns the normalized file name for this URL.
func (s SourceURL) Name() string {
	if s.u == nil {
		return ""
	}
	return NormalizeName(s.u)
}

// NormalizeName derives the stored file name from the last path segment
// of u: percent-decoded, spaces replaced by underscores. It returns ""
// when there is no segment, decoding fails, or the result cannot name a
// directory entry. Distinct URLs may share a name; no collision handling
// is done.
func NormalizeName(u *url.URL) string {
	p := strings.TrimRight(u.EscapedPath(), "/")
	segment := p[strings.LastIndex(p, "/")+1:]
	if segment == "" {
		return ""
	}

	decoded, err := url.PathUnescape(segment)
	if err != nil {
		return ""
	}

	name := strings.ReplaceAll(decoded, " ", "_")
	if name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return ""
	}
	return name
}

// NameFromRaw normalizes the name of a raw URL string, returning "" if
// the URL cannot be parsed.
func NameFromRaw(raw string) string {
	su, err := ParseSourceURL(raw)
	if err != nil {
		return ""
	}
	return su.Name()
}

func percentEncode(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == '%' && i+2 < len(raw) && isHex(raw[i+1]) && isHex(raw[i+2]) {
			b.WriteByte(c)
			continue
		}
		if c <= 0x20 || c >= 0x7f || strings.IndexByte(unsafeURLBytes, c) >= 0 {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
