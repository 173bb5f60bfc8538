package fetcher

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vertextoedge/fetchcache/internal/domain"
	"github.com/vertextoedge/fetchcache/internal/port"
)

// Registry is the process wide table of in-flight downloads keyed by
// normalized URL. It also owns the single-flight group and progress
// listeners so that coordinators sharing it never race the same key.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	flights map[string]*flight
	nextID  uint64

	group singleflight.Group
}

// flight holds the progress listeners of one running transfer. It is
// present in Registry.flights exactly while the single flight for its key
// is running.
type flight struct {
	listeners map[uint64]*listener
}

type listener struct {
	mu     sync.Mutex
	fn     port.ProgressFunc
	closed bool
}

func (l *listener) deliver(p domain.Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.fn(p)
	}
}

func (l *listener) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

type entry struct {
	token     domain.ResumeToken
	attempts  int
	updatedAt time.Time
}

// InFlight is a read-only view of one registry entry
type InFlight struct {
	URL            string    `json:"url"`
	ResumeCaptured bool      `json:"resume_captured"`
	Attempts       int       `json:"attempts"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		flights: make(map[string]*flight),
	}
}

// Begin registers key if absent and returns the resume token stored for it.
func (r *Registry) Begin(key string) domain.ResumeToken {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		e = &entry{updatedAt: time.Now()}
		r.entries[key] = e
	}
	return e.token
}

// Fail stores the token of a failed attempt. A nil token clears resume state.
// Returns the number of failed attempts recorded for key.
func (r *Registry) Fail(key string, token domain.ResumeToken) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	e.token = token
	e.attempts++
	e.updatedAt = time.Now()
	return e.attempts
}

// Complete removes key after a successful transfer
func (r *Registry) Complete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// Len returns the number of registered keys
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns every entry sorted by URL
func (r *Registry) Snapshot() []InFlight {
	r.mu.Lock()
	out := make([]InFlight, 0, len(r.entries))
	for key, e := range r.entries {
		out = append(out, InFlight{
			URL:            key,
			ResumeCaptured: len(e.token) > 0,
			Attempts:       e.attempts,
			UpdatedAt:      e.updatedAt,
		})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// join attaches onProgress to the running flight for key, starting one
// with fn if none runs. Listeners only see progress of the flight they
// joined. Once the returned func returns, onProgress is never called again.
func (r *Registry) join(key string, onProgress port.ProgressFunc, fn func(publish port.ProgressFunc) (interface{}, error)) (<-chan singleflight.Result, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fl, ok := r.flights[key]
	if !ok {
		fl = &flight{listeners: make(map[uint64]*listener)}
		r.flights[key] = fl
	}

	leave := func() {}
	if onProgress != nil {
		r.nextID++
		id := r.nextID
		l := &listener{fn: onProgress}
		fl.listeners[id] = l

		var once sync.Once
		leave = func() {
			once.Do(func() {
				r.mu.Lock()
				delete(fl.listeners, id)
				r.mu.Unlock()
				l.close()
			})
		}
	}

	ch := r.group.DoChan(key, func() (interface{}, error) {
		defer r.land(key, fl)
		return fn(func(p domain.Progress) { r.publish(fl, p) })
	})
	return ch, leave
}

// land retires fl so the next join for key starts a new flight
func (r *Registry) land(key string, fl *flight) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flights[key] == fl {
		delete(r.flights, key)
	}
	r.group.Forget(key)
}

// publish forwards p to the listeners of fl, outside the registry lock
func (r *Registry) publish(fl *flight, p domain.Progress) {
	r.mu.Lock()
	ls := make([]*listener, 0, len(fl.listeners))
	for _, l := range fl.listeners {
		ls = append(ls, l)
	}
	r.mu.Unlock()

	for _, l := range ls {
		l.deliver(p)
	}
}
