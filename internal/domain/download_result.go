package domain

// ResultSource tells which state of the coordinator produced a result.
type ResultSource string

const (
	SourceCacheHit ResultSource = "cache_hit"
	SourceMemory   ResultSource = "memory"
	SourceTransfer ResultSource = "transfer"
)

// Result is what a fetch hands back to its caller
type Result struct {
	// Data is the stored file content, nil when the file is absent
	Data []byte

	// Location is the absolute file location, or NotFoundMessage when Data is nil
	Location string

	// Source records how the result was obtained
	Source ResultSource

	// Resumed indicates whether the transfer continued a previous attempt
	Resumed bool
}

// Found reports whether the result carries file content.
func (r Result) Found() bool {
	return r.Data != nil
}

// NotFound returns the absent result used for lookup misses.
func NotFound() Result {
	return Result{Location: NotFoundMessage}
}

// Failure describes a transfer attempt that ended without content.
type Failure struct {
	URL            string
	Reason         error
	ResumeCaptured bool
	Attempt        int
}

// Error makes a Failure usable as an error value.
func (f Failure) Error() string {
	if f.Reason == nil {
		return "download of " + f.URL + " failed"
	}
	return "download of " + f.URL + " failed: " + f.Reason.Error()
}

// Unwrap returns the failure reason
func (f Failure) Unwrap() error {
	return f.Reason
}
