package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/vertextoedge/fetchcache/internal/domain"
	"github.com/vertextoedge/fetchcache/internal/domain/vo"
	"github.com/vertextoedge/fetchcache/internal/port"
	"github.com/vertextoedge/fetchcache/internal/telemetry"
)

// journalTimeout bounds a single journal write
const journalTimeout = 5 * time.Second

// Callbacks receive the result of one Fetch. Exactly one of OnComplete or
// OnFailure fires per Fetch, after every OnProgress call for it.
type Callbacks struct {
	OnProgress func(domain.Progress)
	OnComplete func(domain.Result)
	OnFailure  func(domain.Failure)
}

func (cb Callbacks) complete(res domain.Result) {
	if cb.OnComplete != nil {
		cb.OnComplete(res)
	}
}

func (cb Callbacks) fail(f domain.Failure) {
	if cb.OnFailure != nil {
		cb.OnFailure(f)
	}
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithJournal records every finished fetch in j
func WithJournal(j port.AttemptJournal) Option {
	return func(c *Coordinator) { c.journal = j }
}

// WithTelemetry reports fetch and transfer metrics to t
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(c *Coordinator) { c.telemetry = t }
}

// WithMemoryLimit bounds the bytes of completed results kept for memory
// hits. Zero turns memory hits off.
func WithMemoryLimit(limit int64) Option {
	return func(c *Coordinator) { c.results = newMemo(limit) }
}

// Coordinator serves files from the store and downloads the missing ones,
// resuming failed transfers on the next Fetch for the same URL.
type Coordinator struct {
	store     port.FileStore
	client    port.TransferClient
	registry  *Registry
	journal   port.AttemptJournal
	telemetry *telemetry.Telemetry
	logger    *zap.Logger

	// Transfers outlive the Fetch call that started them
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// requests holds downloads that have not succeeded yet
	mu       sync.Mutex
	requests map[string]*domain.DownloadRequest
	results  *memo
}

// New creates a Coordinator. Coordinators built with the same registry
// share single-flight and resume state.
func New(store port.FileStore, client port.TransferClient, registry *Registry, logger *zap.Logger, opts ...Option) *Coordinator {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		store:    store,
		client:   client,
		registry: registry,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		requests: make(map[string]*domain.DownloadRequest),
		results:  newMemo(DefaultMemoryLimit),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the registry this coordinator uses
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// MemoStats reports the completed results held for memory hits
func (c *Coordinator) MemoStats() MemoStats {
	return c.results.stats()
}

// Fetch returns the file for rawURL through cb. Cache hits and results this
// coordinator already holds complete before Fetch returns; everything else
// completes on another goroutine. Only URL errors are returned directly.
func (c *Coordinator) Fetch(ctx context.Context, rawURL string, cb Callbacks) error {
	started := time.Now()

	src, err := vo.ParseSourceURL(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedURL, err)
	}
	name := src.Name()
	if name == "" {
		return fmt.Errorf("%w: %s", domain.ErrUnnamedResource, src.String())
	}
	key := src.Key()

	if res := Lookup(c.store, name); res.Found() {
		c.logger.Debug("cache hit", zap.String("url", key), zap.String("name", name))
		c.finish(ctx, src, name, domain.OutcomeCacheHit, res, nil, started)
		cb.complete(res)
		return nil
	}

	if res, ok := c.results.get(key); ok {
		res.Source = domain.SourceMemory
		c.finish(ctx, src, name, domain.OutcomeMemoryHit, res, nil, started)
		cb.complete(res)
		return nil
	}

	flight, leave := c.registry.join(key, cb.OnProgress, func(publish port.ProgressFunc) (interface{}, error) {
		return c.transfer(src, name, publish)
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		r := <-flight
		leave()

		if r.Err != nil {
			var failure domain.Failure
			if !errors.As(r.Err, &failure) {
				failure = domain.Failure{URL: src.String(), Reason: r.Err}
			}
			c.finish(c.ctx, src, name, domain.OutcomeFailed, domain.Result{}, failure.Reason, started)
			cb.fail(failure)
			return
		}

		res := r.Val.(domain.Result)
		outcome := domain.OutcomeSucceeded
		if res.Source == domain.SourceCacheHit {
			outcome = domain.OutcomeCacheHit
		}
		c.results.put(key, res)
		c.finish(c.ctx, src, name, outcome, res, nil, started)
		cb.complete(res)
	}()

	return nil
}

// FetchWait blocks until the fetch for rawURL finishes or ctx is done.
// A failed transfer is returned as a domain.Failure error. Cancelling ctx
// stops the wait, not the transfer.
func (c *Coordinator) FetchWait(ctx context.Context, rawURL string, onProgress func(domain.Progress)) (domain.Result, error) {
	type outcome struct {
		res domain.Result
		err error
	}
	done := make(chan outcome, 1)

	err := c.Fetch(ctx, rawURL, Callbacks{
		OnProgress: onProgress,
		OnComplete: func(res domain.Result) { done <- outcome{res: res} },
		OnFailure:  func(f domain.Failure) { done <- outcome{err: f} },
	})
	if err != nil {
		return domain.Result{}, err
	}

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return domain.Result{}, ctx.Err()
	}
}

// Close cancels running transfers and waits for their callbacks
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// transfer runs inside the single flight for key. It returns a
// domain.Result or a domain.Failure error.
func (c *Coordinator) transfer(src vo.SourceURL, name string, publish port.ProgressFunc) (domain.Result, error) {
	key := src.Key()

	// A flight that just finished may have stored the file
	if res := Lookup(c.store, name); res.Found() {
		return res, nil
	}

	token := c.registry.Begin(key)
	req := c.request(src, name)
	resuming := len(token) > 0

	ctx, span := c.telemetry.Tracer().Start(c.ctx, "fetcher.transfer")
	defer span.End()
	span.SetAttributes(attribute.Bool("resume", resuming))

	dest := port.Destination{StagingPath: c.store.StagingPath(name)}

	c.logger.Info("starting transfer",
		zap.String("url", key),
		zap.String("name", name),
		zap.Bool("resume", resuming))

	c.telemetry.TransferStarted(ctx, resuming)

	var pending <-chan port.Outcome
	if resuming {
		pending = c.client.Resume(ctx, token, dest, publish)
	} else {
		pending = c.client.Start(ctx, src.String(), dest, publish)
	}
	out := <-pending

	c.telemetry.TransferFinished(ctx, resuming, out.Size)

	if !out.Succeeded() {
		attempts := c.registry.Fail(key, out.ResumeToken)
		c.markFailed(req, out.ResumeToken)

		span.SetStatus(codes.Error, "transfer failed")
		c.logger.Warn("transfer failed",
			zap.String("url", key),
			zap.Int("attempt", attempts),
			zap.Bool("resume_captured", len(out.ResumeToken) > 0),
			zap.Error(out.Err))

		return domain.Result{}, domain.Failure{
			URL:            src.String(),
			Reason:         out.Err,
			ResumeCaptured: len(out.ResumeToken) > 0,
			Attempt:        attempts,
		}
	}

	c.registry.Complete(key)

	if _, err := c.store.Promote(out.StagedPath, name, port.DefaultSaveOptions()); err != nil {
		if delErr := c.store.DeleteStaged(out.StagedPath); delErr != nil {
			c.logger.Warn("failed to remove staged file", zap.String("path", out.StagedPath), zap.Error(delErr))
		}
		span.SetStatus(codes.Error, "promote failed")
		return domain.Result{}, domain.Failure{
			URL:     src.String(),
			Reason:  fmt.Errorf("store %s: %w", name, err),
			Attempt: c.attempts(req) + 1,
		}
	}

	// Hand back what is on disk, not what the transfer reported
	res := Lookup(c.store, name)
	if !res.Found() {
		return domain.Result{}, domain.Failure{
			URL:     src.String(),
			Reason:  fmt.Errorf("stored file %s: %w", name, domain.ErrNotFound),
			Attempt: c.attempts(req) + 1,
		}
	}
	res.Source = domain.SourceTransfer
	res.Resumed = out.Resumed
	c.markSucceeded(key, req, res.Data)

	c.logger.Info("transfer complete",
		zap.String("url", key),
		zap.String("name", name),
		zap.String("size", humanize.Bytes(uint64(len(res.Data)))),
		zap.Bool("resumed", out.Resumed))

	return res, nil
}

func (c *Coordinator) request(src vo.SourceURL, name string) *domain.DownloadRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.requests[src.Key()]
	if !ok {
		req = &domain.DownloadRequest{
			SourceURL:     src.Raw(),
			NormalizedURL: src.Key(),
			Name:          name,
			StartedAt:     time.Now(),
		}
		c.requests[src.Key()] = req
	}
	return req
}

func (c *Coordinator) markFailed(req *domain.DownloadRequest, token domain.ResumeToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req.MarkFailed(token)
}

// markSucceeded closes out req; only the memo keeps the bytes afterwards
func (c *Coordinator) markSucceeded(key string, req *domain.DownloadRequest, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req.MarkSucceeded(data)
	delete(c.requests, key)
}

func (c *Coordinator) attempts(req *domain.DownloadRequest) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return req.Attempts
}

// finish records a terminal state. Journal errors are logged only.
func (c *Coordinator) finish(ctx context.Context, src vo.SourceURL, name, outcome string, res domain.Result, cause error, started time.Time) {
	elapsed := time.Since(started)
	c.telemetry.RecordFetch(ctx, outcome, elapsed)

	if c.journal == nil {
		return
	}

	attempt := &domain.Attempt{
		ID:        uuid.NewString(),
		URL:       src.Key(),
		Name:      name,
		Outcome:   outcome,
		Resumed:   res.Resumed,
		Bytes:     int64(len(res.Data)),
		Duration:  elapsed,
		CreatedAt: time.Now(),
	}
	if cause != nil {
		attempt.Error = cause.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	if err := c.journal.Record(ctx, attempt); err != nil {
		c.logger.Warn("failed to record attempt",
			zap.String("url", attempt.URL),
			zap.String("outcome", outcome),
			zap.Error(err))
	}
}
