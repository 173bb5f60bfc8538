package httpclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/vertextoedge/fetchcache/internal/domain"
)

// resumeState is what a ResumeToken carries for this client
type resumeState struct {
	URL          string `json:"url"`
	StagingPath  string `json:"staging_path"`
	Offset       int64  `json:"offset"`
	Total        int64  `json:"total"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	AcceptRanges bool   `json:"accept_ranges"`
}

func encodeToken(s *resumeState) (domain.ResumeToken, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return domain.ResumeToken(b), nil
}

func decodeToken(token domain.ResumeToken) (*resumeState, error) {
	if len(token) == 0 {
		return nil, domain.ErrInvalidToken
	}
	var s resumeState
	if err := json.Unmarshal(token, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if s.URL == "" {
		return nil, fmt.Errorf("%w: missing url", domain.ErrInvalidToken)
	}
	return &s, nil
}

// capture records validators and range support from a full response
func (s *resumeState) capture(resp *http.Response) {
	s.ETag = resp.Header.Get("ETag")
	s.LastModified = resp.Header.Get("Last-Modified")
	s.AcceptRanges = resp.Header.Get("Accept-Ranges") == "bytes"
	s.Total = resp.ContentLength
}

// validator returns the If-Range value. Weak ETags are not allowed there.
func (s *resumeState) validator() string {
	if s.ETag != "" && !strings.HasPrefix(s.ETag, "W/") {
		return s.ETag
	}
	return s.LastModified
}

func (s *resumeState) resumable() bool {
	return s.AcceptRanges && s.Offset > 0
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total is -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	if !strings.HasPrefix(header, "bytes ") {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	header = strings.TrimPrefix(header, "bytes ")

	rangePart, totalPart, ok := strings.Cut(header, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}

	startStr, endStr, ok := strings.Cut(rangePart, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}

	if start, err = strconv.ParseInt(startStr, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	if end, err = strconv.ParseInt(endStr, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	if end < start {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: end %d before start %d", end, start)
	}

	if totalPart == "*" {
		return start, end, -1, nil
	}
	if total, err = strconv.ParseInt(totalPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
	}
	return start, end, total, nil
}
