package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/fetchcache/internal/domain"
	"github.com/vertextoedge/fetchcache/internal/port"
)

const (
	opStart  = "start"
	opResume = "resume"
)

// Options configures the transfer client
type Options struct {
	// ResponseHeaderTimeout bounds the wait for response headers, not the body
	ResponseHeaderTimeout time.Duration

	// IdleTimeout aborts a transfer when no body bytes arrive for this long.
	// Zero disables it.
	IdleTimeout time.Duration

	SkipTLSVerify   bool
	UserAgent       string
	MaxConnsPerHost int

	// BufferSize is the copy buffer for body reads
	BufferSize int
}

// DefaultOptions returns options with sensible defaults
func DefaultOptions() Options {
	return Options{
		ResponseHeaderTimeout: 30 * time.Second,
		IdleTimeout:           60 * time.Second,
		UserAgent:             "fetchcache/1",
		MaxConnsPerHost:       16,
		BufferSize:            256 * 1024,
	}
}

// Client downloads files over HTTP with Range based resume
type Client struct {
	client *http.Client
	opts   Options
	logger *zap.Logger
}

// Ensure Client implements port.TransferClient
var _ port.TransferClient = (*Client)(nil)

// New creates a new transfer client
func New(opts Options, logger *zap.Logger) *Client {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256 * 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.SkipTLSVerify,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: opts.MaxConnsPerHost,
		MaxConnsPerHost:     opts.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,

		// Offsets must count raw bytes
		DisableCompression: true,

		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   0, // No timeout for downloads
		},
		opts:   opts,
		logger: logger,
	}
}

// Start downloads url from byte zero into dest.StagingPath
func (c *Client) Start(ctx context.Context, url string, dest port.Destination, onProgress port.ProgressFunc) <-chan port.Outcome {
	out := make(chan port.Outcome, 1)
	go func() {
		state := &resumeState{URL: url, StagingPath: dest.StagingPath}
		out <- c.transfer(ctx, opStart, state, onProgress)
	}()
	return out
}

// Resume continues the download a failed Outcome described in token
func (c *Client) Resume(ctx context.Context, token domain.ResumeToken, dest port.Destination, onProgress port.ProgressFunc) <-chan port.Outcome {
	out := make(chan port.Outcome, 1)
	go func() {
		state, err := decodeToken(token)
		if err != nil {
			out <- port.Outcome{Err: &domain.TransferError{Op: opResume, Err: err}}
			return
		}
		if state.StagingPath == "" {
			state.StagingPath = dest.StagingPath
		}
		out <- c.transfer(ctx, opResume, state, onProgress)
	}()
	return out
}

// transfer runs one HTTP exchange. onProgress is only ever called from
// here, before the Outcome is returned.
func (c *Client) transfer(ctx context.Context, op string, state *resumeState, onProgress port.ProgressFunc) port.Outcome {
	if state.StagingPath == "" {
		return port.Outcome{Err: &domain.TransferError{Op: op, Err: errors.New("no staging path")}}
	}

	var offset int64
	if op == opResume {
		if info, err := os.Stat(state.StagingPath); err == nil {
			// Use actual file size for resume
			offset = info.Size()
		} else {
			c.logger.Warn("staged bytes missing, starting fresh",
				zap.String("url", state.URL),
				zap.String("staging_path", state.StagingPath))
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, state.URL, nil)
	if err != nil {
		return port.Outcome{Err: &domain.TransferError{Op: op, Err: fmt.Errorf("create request: %w", err)}}
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		if v := state.validator(); v != "" {
			req.Header.Set("If-Range", v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		state.Offset = offset
		return c.fail(op, state, 0, 0, err)
	}
	defer resp.Body.Close()

	resumed := false
	var flags int

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		start, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil || start != offset {
			c.discard(state)
			return port.Outcome{Err: &domain.TransferError{
				Op: op, StatusCode: resp.StatusCode,
				Err: fmt.Errorf("%w: content range does not continue at byte %d", domain.ErrRangeNotSupported, offset),
			}}
		}
		resumed = true
		state.AcceptRanges = true
		state.Total = total
		flags = os.O_WRONLY | os.O_APPEND

	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			c.logger.Info("server sent the whole file, restarting",
				zap.String("url", state.URL),
				zap.Int64("discarded_bytes", offset))
		}
		offset = 0
		state.capture(resp)
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC

	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 && state.Total == offset:
		// Staged bytes already complete
		return port.Outcome{StagedPath: state.StagingPath, Size: offset, Resumed: true}

	case resp.StatusCode >= 500:
		state.Offset = offset
		return c.fail(op, state, resp.StatusCode, retryAfter(resp.Header.Get("Retry-After"), time.Now()),
			fmt.Errorf("server error: %s", resp.Status))

	default:
		c.discard(state)
		return port.Outcome{Err: &domain.TransferError{
			Op: op, StatusCode: resp.StatusCode, Err: statusError(resp.StatusCode),
		}}
	}

	if err := os.MkdirAll(filepath.Dir(state.StagingPath), 0755); err != nil {
		return port.Outcome{Err: &domain.TransferError{Op: op, Err: fmt.Errorf("failed to create staging dir: %w", err)}}
	}

	f, err := os.OpenFile(state.StagingPath, flags, 0644)
	if err != nil {
		return port.Outcome{Err: &domain.TransferError{Op: op, Err: fmt.Errorf("failed to open staging file: %w", err)}}
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	pr := &progressReader{
		reader:     resp.Body,
		url:        state.URL,
		base:       offset,
		total:      total,
		onProgress: onProgress,
	}
	if c.opts.IdleTimeout > 0 {
		pr.idle = time.AfterFunc(c.opts.IdleTimeout, cancel)
		pr.idleTimeout = c.opts.IdleTimeout
		defer pr.idle.Stop()
	}

	buf := make([]byte, c.opts.BufferSize)
	written, copyErr := io.CopyBuffer(f, pr, buf)
	closeErr := f.Close()

	if copyErr == nil && resp.ContentLength >= 0 && written < resp.ContentLength {
		copyErr = io.ErrUnexpectedEOF
	}
	if copyErr == nil && closeErr != nil {
		copyErr = closeErr
	}

	state.Offset = offset + written
	if copyErr != nil {
		return c.fail(op, state, resp.StatusCode, 0, copyErr)
	}

	c.logger.Debug("transfer complete",
		zap.String("url", state.URL),
		zap.String("size", humanize.Bytes(uint64(state.Offset))),
		zap.Bool("resumed", resumed))

	return port.Outcome{
		StagedPath: state.StagingPath,
		Size:       state.Offset,
		Resumed:    resumed,
	}
}

// fail builds a failed Outcome, attaching a resume token when staged bytes
// can be continued later.
func (c *Client) fail(op string, state *resumeState, statusCode int, wait time.Duration, cause error) port.Outcome {
	err := domain.NewRetryableError(&domain.TransferError{Op: op, StatusCode: statusCode, Err: cause}, wait)

	if !state.resumable() {
		c.discard(state)
		return port.Outcome{Err: err}
	}

	token, encErr := encodeToken(state)
	if encErr != nil {
		c.logger.Warn("failed to encode resume token", zap.Error(encErr))
		return port.Outcome{Err: err}
	}

	c.logger.Debug("transfer failed with resumable state",
		zap.String("url", state.URL),
		zap.String("staged", humanize.Bytes(uint64(state.Offset))),
		zap.Error(cause))

	return port.Outcome{Err: err, ResumeToken: token}
}

func (c *Client) discard(state *resumeState) {
	if err := os.Remove(state.StagingPath); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to remove staging file",
			zap.String("path", state.StagingPath),
			zap.Error(err))
	}
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP
// date. Missing, malformed or past values yield zero.
func retryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// statusError returns an appropriate error for non-success status codes
func statusError(code int) error {
	switch code {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusRequestedRangeNotSatisfiable:
		return domain.ErrRangeNotSupported
	case http.StatusPreconditionFailed:
		return domain.ErrSourceChanged
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}

// progressReader reports every successful read and keeps the idle timer alive
type progressReader struct {
	reader      io.Reader
	url         string
	base        int64
	read        int64
	total       int64
	onProgress  port.ProgressFunc
	idle        *time.Timer
	idleTimeout time.Duration
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.read += int64(n)
		if r.idle != nil {
			r.idle.Reset(r.idleTimeout)
		}
		if r.onProgress != nil {
			r.onProgress(domain.Progress{
				URL:           r.url,
				BytesReceived: r.base + r.read,
				TotalBytes:    r.total,
			})
		}
	}
	return n, err
}
