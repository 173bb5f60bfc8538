package fetcher

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vertextoedge/fetchcache/internal/adapter/filesystem"
	"github.com/vertextoedge/fetchcache/internal/domain"
	"github.com/vertextoedge/fetchcache/internal/port"
)

const reportURL = "https://example.com/files/report%20final.pdf"

func newTestStore(t *testing.T) *filesystem.Manager {
	t.Helper()
	m, err := filesystem.NewManager(t.TempDir())
	require.NoError(t, err)
	return m
}

func newTestCoordinator(t *testing.T, store port.FileStore, client port.TransferClient, opts ...Option) *Coordinator {
	t.Helper()
	c := New(store, client, NewRegistry(), zap.NewNop(), opts...)
	t.Cleanup(c.Close)
	return c
}

func fetchWait(t *testing.T, c *Coordinator, url string) (domain.Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.FetchWait(ctx, url, nil)
}

func TestCoordinator_FirstFetchDownloadsAndStores(t *testing.T) {
	store := newTestStore(t)
	client := newFakeTransfer(step{data: []byte("quarterly numbers")})
	c := newTestCoordinator(t, store, client)

	res, err := fetchWait(t, c, reportURL)
	require.NoError(t, err)

	starts, resumes := client.calls()
	assert.Len(t, starts, 1)
	assert.Empty(t, resumes)

	assert.Equal(t, []byte("quarterly numbers"), res.Data)
	assert.True(t, strings.HasSuffix(res.Location, "report_final.pdf"), res.Location)
	assert.True(t, strings.HasPrefix(res.Location, "file://"), res.Location)
	assert.Equal(t, domain.SourceTransfer, res.Source)

	assert.True(t, store.Exists("report_final.pdf"))
	assert.NoFileExists(t, store.StagingPath("report_final.pdf"))
	assert.Equal(t, 0, c.Registry().Len(), "registry must be empty after success")
	assert.Empty(t, c.requests, "finished requests must not keep their bytes")
}

func TestCoordinator_CacheHitIsSynchronous(t *testing.T) {
	store := newTestStore(t)
	first := newTestCoordinator(t, store, newFakeTransfer(step{data: []byte("pdf bytes")}))
	want, err := fetchWait(t, first, reportURL)
	require.NoError(t, err)

	// A fresh coordinator only has the disk to go on
	client := newFakeTransfer()
	c := newTestCoordinator(t, store, client)

	var got domain.Result
	completed := false
	err = c.Fetch(context.Background(), reportURL, Callbacks{
		OnComplete: func(res domain.Result) {
			got = res
			completed = true
		},
		OnFailure: func(f domain.Failure) { t.Errorf("unexpected failure: %v", f) },
	})
	require.NoError(t, err)

	assert.True(t, completed, "cache hit must complete before Fetch returns")
	assert.Equal(t, 0, client.total())
	assert.Equal(t, want.Data, got.Data)
	assert.Equal(t, want.Location, got.Location)
	assert.Equal(t, domain.SourceCacheHit, got.Source)
}

func TestCoordinator_SecondFetchDoesNotTransfer(t *testing.T) {
	store := newTestStore(t)
	client := newFakeTransfer(step{data: []byte("once")})
	c := newTestCoordinator(t, store, client)

	_, err := fetchWait(t, c, reportURL)
	require.NoError(t, err)

	res, err := fetchWait(t, c, reportURL)
	require.NoError(t, err)

	assert.Equal(t, 1, client.total())
	assert.Equal(t, []byte("once"), res.Data)
}

func TestCoordinator_MemoryHitWhenFileRemoved(t *testing.T) {
	store := newTestStore(t)
	client := newFakeTransfer(step{data: []byte("kept in memory")})
	journal := &fakeJournal{}
	c := newTestCoordinator(t, store, client, WithJournal(journal))

	_, err := fetchWait(t, c, reportURL)
	require.NoError(t, err)

	require.NoError(t, removeStored(store, "report_final.pdf"))

	completed := false
	var got domain.Result
	err = c.Fetch(context.Background(), reportURL, Callbacks{
		OnComplete: func(res domain.Result) { got, completed = res, true },
	})
	require.NoError(t, err)

	assert.True(t, completed)
	assert.Equal(t, domain.SourceMemory, got.Source)
	assert.Equal(t, []byte("kept in memory"), got.Data)
	assert.Equal(t, 1, client.total())
	assert.Equal(t, []string{domain.OutcomeSucceeded, domain.OutcomeMemoryHit}, journal.outcomes())
}

func TestCoordinator_MemoryLimitEvictsOldest(t *testing.T) {
	store := newTestStore(t)
	client := newFakeTransfer(
		step{data: []byte("aaaaaa")},
		step{data: []byte("bbbbbb")},
		step{data: []byte("aaaaaa again")},
	)
	c := newTestCoordinator(t, store, client, WithMemoryLimit(10))

	_, err := fetchWait(t, c, "https://example.com/a.bin")
	require.NoError(t, err)
	_, err = fetchWait(t, c, "https://example.com/b.bin")
	require.NoError(t, err)

	assert.Equal(t, MemoStats{Entries: 1, Bytes: 6, Limit: 10}, c.MemoStats())

	require.NoError(t, removeStored(store, "a.bin"))
	require.NoError(t, removeStored(store, "b.bin"))

	res, err := fetchWait(t, c, "https://example.com/b.bin")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceMemory, res.Source)

	res, err = fetchWait(t, c, "https://example.com/a.bin")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTransfer, res.Source, "evicted result must be downloaded again")
	assert.Equal(t, 3, client.total())
}

func TestCoordinator_MemoryLimitZeroDisablesMemo(t *testing.T) {
	store := newTestStore(t)
	client := newFakeTransfer(step{data: []byte("first")}, step{data: []byte("second")})
	c := newTestCoordinator(t, store, client, WithMemoryLimit(0))

	_, err := fetchWait(t, c, reportURL)
	require.NoError(t, err)
	require.NoError(t, removeStored(store, "report_final.pdf"))

	res, err := fetchWait(t, c, reportURL)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTransfer, res.Source)
	assert.Equal(t, []byte("second"), res.Data)
	assert.Zero(t, c.MemoStats().Entries)
}

func TestCoordinator_StagedBytesAreNeverACacheHit(t *testing.T) {
	store := newTestStore(t)
	partial := store.StagingPath("big.iso")
	require.NoError(t, os.WriteFile(partial, []byte("PARTIAL"), 0644))

	client := newFakeTransfer(step{data: []byte("a real file")})
	c := newTestCoordinator(t, store, client)

	res, err := fetchWait(t, c, "https://other.example.org/pub/big.iso.downloading")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTransfer, res.Source)
	assert.Equal(t, []byte("a real file"), res.Data)
	assert.Equal(t, 1, client.total())

	got, err := os.ReadFile(partial)
	require.NoError(t, err)
	assert.Equal(t, []byte("PARTIAL"), got, "the interrupted download of big.iso is untouched")
}

func TestCoordinator_NameCollisionSharesStoredFile(t *testing.T) {
	store := newTestStore(t)
	client := newFakeTransfer(step{data: []byte("from first host")}, step{data: []byte("from second host")})
	c := newTestCoordinator(t, store, client)

	_, err := fetchWait(t, c, "https://a.example.com/x/report%20final.pdf")
	require.NoError(t, err)

	res, err := fetchWait(t, c, "https://b.example.com/y/report final.pdf")
	require.NoError(t, err)

	assert.Equal(t, []byte("from first host"), res.Data)
	assert.Equal(t, 1, client.total())
}

func TestCoordinator_SingleFlight(t *testing.T) {
	store := newTestStore(t)
	client := newFakeTransfer(step{data: []byte("shared"), progress: []int64{3, 6}})
	client.gate = make(chan struct{})

	registry := NewRegistry()
	a := New(store, client, registry, zap.NewNop())
	b := New(store, client, registry, zap.NewNop())
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]domain.Result, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		c := a
		if i%2 == 1 {
			c = b
		}
		wg.Add(1)
		go func(i int, c *Coordinator) {
			defer wg.Done()
			results[i], errs[i] = fetchWait(t, c, reportURL)
		}(i, c)
	}

	require.Eventually(t, func() bool { return client.total() == 1 }, time.Second, 5*time.Millisecond)
	// Give late callers a chance to join before the transfer finishes
	time.Sleep(20 * time.Millisecond)
	close(client.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("shared"), results[i].Data)
	}

	starts, resumes := client.calls()
	assert.Len(t, starts, 1)
	assert.Empty(t, resumes)
	assert.Equal(t, 1, client.maxActive)
	assert.Equal(t, 0, registry.Len())
}

func TestCoordinator_FailureThenResumeWithExactToken(t *testing.T) {
	store := newTestStore(t)
	token := domain.ResumeToken(`{"offset":1024}`)
	client := newFakeTransfer(
		step{err: errors.New("connection reset"), token: token},
		step{data: []byte("complete file"), resumed: true},
	)
	journal := &fakeJournal{}
	c := newTestCoordinator(t, store, client, WithJournal(journal))

	_, err := fetchWait(t, c, reportURL)
	require.Error(t, err)

	var failure domain.Failure
	require.True(t, errors.As(err, &failure))
	assert.True(t, failure.ResumeCaptured)
	assert.Equal(t, 1, failure.Attempt)
	assert.EqualError(t, failure.Reason, "connection reset")

	inflight := c.Registry().Snapshot()
	require.Len(t, inflight, 1)
	assert.Equal(t, reportURL, inflight[0].URL)
	assert.True(t, inflight[0].ResumeCaptured)

	res, err := fetchWait(t, c, reportURL)
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, []byte("complete file"), res.Data)

	starts, resumes := client.calls()
	assert.Len(t, starts, 1, "only the first attempt starts fresh")
	require.Len(t, resumes, 1)
	assert.Equal(t, token, resumes[0])
	assert.Equal(t, 0, c.Registry().Len())

	assert.Equal(t, []string{domain.OutcomeFailed, domain.OutcomeSucceeded}, journal.outcomes())
}

func TestCoordinator_FailureWithoutTokenRestarts(t *testing.T) {
	store := newTestStore(t)
	client := newFakeTransfer(
		step{err: errors.New("HTTP 403")},
		step{data: []byte("ok")},
	)
	c := newTestCoordinator(t, store, client)

	var failed domain.Failure
	done := make(chan struct{})
	err := c.Fetch(context.Background(), reportURL, Callbacks{
		OnComplete: func(domain.Result) { t.Error("unexpected completion") },
		OnFailure: func(f domain.Failure) {
			failed = f
			close(done)
		},
	})
	require.NoError(t, err)
	<-done

	assert.False(t, failed.ResumeCaptured)
	assert.Equal(t, 1, c.Registry().Len(), "failed downloads stay registered")

	_, err = fetchWait(t, c, reportURL)
	require.NoError(t, err)

	starts, resumes := client.calls()
	assert.Len(t, starts, 2)
	assert.Empty(t, resumes)
}

func TestCoordinator_ProgressBeforeCompletion(t *testing.T) {
	tests := []struct {
		name     string
		progress []int64
	}{
		{name: "several events", progress: []int64{10, 20, 30}},
		{name: "no events", progress: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			client := newFakeTransfer(step{data: []byte("0123456789012345678901234567890"), progress: tt.progress})
			c := newTestCoordinator(t, store, client)

			var mu sync.Mutex
			var events []string
			done := make(chan struct{})

			err := c.Fetch(context.Background(), reportURL, Callbacks{
				OnProgress: func(p domain.Progress) {
					mu.Lock()
					defer mu.Unlock()
					events = append(events, "progress")
				},
				OnComplete: func(domain.Result) {
					mu.Lock()
					events = append(events, "complete")
					mu.Unlock()
					close(done)
				},
			})
			require.NoError(t, err)
			<-done

			// Nothing may arrive after completion
			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			defer mu.Unlock()
			require.Len(t, events, len(tt.progress)+1)
			assert.Equal(t, "complete", events[len(events)-1])
		})
	}
}

func TestCoordinator_ProgressForwardedVerbatim(t *testing.T) {
	store := newTestStore(t)
	client := newFakeTransfer(step{data: make([]byte, 30), progress: []int64{5, 15, 30}})
	c := newTestCoordinator(t, store, client)

	var got []int64
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.FetchWait(ctx, reportURL, func(p domain.Progress) {
		got = append(got, p.BytesReceived)
		assert.Equal(t, int64(30), p.TotalBytes)
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 15, 30}, got)
}

func TestCoordinator_URLErrorsAreSynchronous(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want error
	}{
		{name: "empty", url: "", want: domain.ErrMalformedURL},
		{name: "no scheme", url: "example.com/file.bin", want: domain.ErrMalformedURL},
		{name: "unsupported scheme", url: "ftp://example.com/file.bin", want: domain.ErrMalformedURL},
		{name: "missing host", url: "https:///file.bin", want: domain.ErrMalformedURL},
		{name: "no file name", url: "https://example.com/", want: domain.ErrUnnamedResource},
		{name: "dot segment", url: "https://example.com/files/..", want: domain.ErrUnnamedResource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeTransfer()
			c := newTestCoordinator(t, newTestStore(t), client)

			called := false
			err := c.Fetch(context.Background(), tt.url, Callbacks{
				OnProgress: func(domain.Progress) { called = true },
				OnComplete: func(domain.Result) { called = true },
				OnFailure:  func(domain.Failure) { called = true },
			})

			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.False(t, called)
			assert.Equal(t, 0, client.total())
			assert.Equal(t, 0, c.Registry().Len())
		})
	}
}

// refusingStore fails every promotion
type refusingStore struct {
	*filesystem.Manager
}

func (s refusingStore) Promote(string, string, port.SaveOptions) (string, error) {
	return "", errors.New("read-only file system")
}

func TestCoordinator_PromoteFailureIsReported(t *testing.T) {
	store := refusingStore{newTestStore(t)}
	client := newFakeTransfer(step{data: []byte("new")})
	c := newTestCoordinator(t, store, client)

	_, err := fetchWait(t, c, reportURL)
	require.Error(t, err)

	var failure domain.Failure
	require.True(t, errors.As(err, &failure))
	assert.False(t, failure.ResumeCaptured)
	assert.Contains(t, failure.Error(), "read-only file system")

	assert.NoFileExists(t, store.StagingPath("report_final.pdf"))
	assert.False(t, store.Exists("report_final.pdf"))
	assert.Equal(t, 0, c.Registry().Len())
}

func TestCoordinator_JournalErrorsAreNotFatal(t *testing.T) {
	store := newTestStore(t)
	journal := &fakeJournal{err: errors.New("disk full")}
	c := newTestCoordinator(t, store, newFakeTransfer(step{data: []byte("x")}), WithJournal(journal))

	_, err := fetchWait(t, c, reportURL)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.OutcomeSucceeded}, journal.outcomes())
}

func TestCoordinator_FetchWaitHonoursContext(t *testing.T) {
	store := newTestStore(t)
	client := newFakeTransfer(step{data: []byte("late")})
	client.gate = make(chan struct{})
	c := newTestCoordinator(t, store, client)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.FetchWait(ctx, reportURL, nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// The transfer keeps going after the caller gave up
	close(client.gate)
	require.Eventually(t, func() bool { return store.Exists("report_final.pdf") }, time.Second, 5*time.Millisecond)
}

func TestLookup(t *testing.T) {
	store := newTestStore(t)

	miss := Lookup(store, "absent.bin")
	assert.False(t, miss.Found())
	assert.Equal(t, domain.NotFoundMessage, miss.Location)

	assert.False(t, Lookup(store, "").Found())

	require.NoError(t, os.WriteFile(store.Path("empty.bin"), nil, 0644))
	hit := Lookup(store, "empty.bin")
	assert.True(t, hit.Found())
	assert.Empty(t, hit.Data)
	assert.True(t, strings.HasSuffix(hit.Location, "/empty.bin"))
}

func removeStored(store *filesystem.Manager, name string) error {
	return os.Remove(store.Path(name))
}
