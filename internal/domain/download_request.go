package domain

import "time"

// ResumeToken is opaque state handed back by a failed transfer.
// Only the transfer client that produced it knows how to read it.
type ResumeToken []byte

// DownloadRequest tracks one logical download keyed by its normalized URL.
type DownloadRequest struct {
	SourceURL     string
	NormalizedURL string
	Name          string

	// Resume support
	ResumeToken ResumeToken

	// Set once the transfer succeeded
	ResultBytes []byte

	Attempts  int
	StartedAt time.Time
}

// MarkFailed records the token returned by a failed attempt.
// A nil token means the next attempt starts over.
func (r *DownloadRequest) MarkFailed(token ResumeToken) {
	r.Attempts++
	r.ResumeToken = token
}

// MarkSucceeded stores the result bytes and drops any resume state.
func (r *DownloadRequest) MarkSucceeded(data []byte) {
	r.Attempts++
	r.ResumeToken = nil
	r.ResultBytes = data
}
