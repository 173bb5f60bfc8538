package port

import (
	"context"

	"github.com/vertextoedge/fetchcache/internal/domain"
)

// ProgressFunc receives progress updates from a running transfer.
// It is called on the transfer goroutine, never after the Outcome is sent.
type ProgressFunc func(domain.Progress)

// Destination tells a transfer where to stage bytes
type Destination struct {
	StagingPath string
}

// Outcome is the single value a transfer yields
type Outcome struct {
	// Success
	StagedPath string
	Size       int64
	Resumed    bool

	// Failure
	Err         error
	ResumeToken domain.ResumeToken
}

// Succeeded returns true if the transfer completed
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// TransferClient defines the interface for downloading remote files.
// Both methods return immediately; the channel yields exactly one Outcome.
type TransferClient interface {
	// Start downloads url from the beginning
	Start(ctx context.Context, url string, dest Destination, onProgress ProgressFunc) <-chan Outcome

	// Resume continues a download described by a token from a failed Outcome
	Resume(ctx context.Context, token domain.ResumeToken, dest Destination, onProgress ProgressFunc) <-chan Outcome
}
