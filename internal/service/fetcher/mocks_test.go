package fetcher

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/vertextoedge/fetchcache/internal/domain"
	"github.com/vertextoedge/fetchcache/internal/port"
)

// step scripts one transfer of the fake client
type step struct {
	data     []byte
	progress []int64
	err      error
	token    domain.ResumeToken
	resumed  bool
}

// fakeTransfer is a scripted port.TransferClient
type fakeTransfer struct {
	mu        sync.Mutex
	steps     []step
	starts    []string
	resumes   []domain.ResumeToken
	active    int
	maxActive int

	// gate, when set, holds every transfer until closed
	gate chan struct{}
}

func newFakeTransfer(steps ...step) *fakeTransfer {
	return &fakeTransfer{steps: steps}
}

func (f *fakeTransfer) Start(ctx context.Context, url string, dest port.Destination, onProgress port.ProgressFunc) <-chan port.Outcome {
	f.mu.Lock()
	f.starts = append(f.starts, url)
	f.mu.Unlock()
	return f.run(ctx, url, dest, onProgress)
}

func (f *fakeTransfer) Resume(ctx context.Context, token domain.ResumeToken, dest port.Destination, onProgress port.ProgressFunc) <-chan port.Outcome {
	f.mu.Lock()
	f.resumes = append(f.resumes, token)
	f.mu.Unlock()
	return f.run(ctx, string(token), dest, onProgress)
}

func (f *fakeTransfer) run(ctx context.Context, url string, dest port.Destination, onProgress port.ProgressFunc) <-chan port.Outcome {
	out := make(chan port.Outcome, 1)

	f.mu.Lock()
	var s step
	if len(f.steps) > 0 {
		s = f.steps[0]
		f.steps = f.steps[1:]
	} else {
		s = step{err: errors.New("no scripted step")}
	}
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	gate := f.gate
	f.mu.Unlock()

	go func() {
		defer func() {
			f.mu.Lock()
			f.active--
			f.mu.Unlock()
		}()

		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				out <- port.Outcome{Err: ctx.Err()}
				return
			}
		}

		for _, n := range s.progress {
			if onProgress != nil {
				onProgress(domain.Progress{URL: url, BytesReceived: n, TotalBytes: int64(len(s.data))})
			}
		}

		if s.err != nil {
			out <- port.Outcome{Err: s.err, ResumeToken: s.token}
			return
		}

		if err := os.WriteFile(dest.StagingPath, s.data, 0644); err != nil {
			out <- port.Outcome{Err: err}
			return
		}
		out <- port.Outcome{StagedPath: dest.StagingPath, Size: int64(len(s.data)), Resumed: s.resumed}
	}()

	return out
}

func (f *fakeTransfer) calls() (starts []string, resumes []domain.ResumeToken) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.starts...), append([]domain.ResumeToken(nil), f.resumes...)
}

func (f *fakeTransfer) total() int {
	starts, resumes := f.calls()
	return len(starts) + len(resumes)
}

// fakeJournal collects recorded attempts
type fakeJournal struct {
	mu       sync.Mutex
	attempts []*domain.Attempt
	err      error
}

func (j *fakeJournal) Record(_ context.Context, a *domain.Attempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts = append(j.attempts, a)
	return j.err
}

func (j *fakeJournal) Recent(_ context.Context, limit int) ([]*domain.Attempt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if limit > len(j.attempts) {
		limit = len(j.attempts)
	}
	return append([]*domain.Attempt(nil), j.attempts[:limit]...), nil
}

func (j *fakeJournal) Stats(context.Context) (*domain.AttemptStats, error) {
	return &domain.AttemptStats{}, nil
}

func (j *fakeJournal) CleanupOlderThan(context.Context, time.Duration) (int, error) {
	return 0, nil
}

func (j *fakeJournal) Ping() error { return nil }

func (j *fakeJournal) outcomes() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0, len(j.attempts))
	for _, a := range j.attempts {
		out = append(out, a.Outcome)
	}
	return out
}

var _ port.TransferClient = (*fakeTransfer)(nil)
var _ port.AttemptJournal = (*fakeJournal)(nil)
