package fetcher

import (
	"container/list"
	"sync"

	"github.com/vertextoedge/fetchcache/internal/domain"
)

// DefaultMemoryLimit bounds the memo when no limit is configured
const DefaultMemoryLimit int64 = 64 * 1000 * 1000

// memo keeps recent results by key, evicting the least recently used
// once the held bodies exceed limit. A limit of zero disables it.
type memo struct {
	mu    sync.Mutex
	limit int64
	size  int64
	order *list.List
	items map[string]*list.Element
}

type memoItem struct {
	key string
	res domain.Result
}

func newMemo(limit int64) *memo {
	return &memo{
		limit: limit,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

func (m *memo) get(key string) (domain.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return domain.Result{}, false
	}
	m.order.MoveToFront(el)
	return el.Value.(*memoItem).res, true
}

// put stores res unless its body alone exceeds the limit
func (m *memo) put(key string, res domain.Result) {
	if m.limit <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(res.Data))
	if n > m.limit {
		m.removeLocked(key)
		return
	}

	if el, ok := m.items[key]; ok {
		m.size -= int64(len(el.Value.(*memoItem).res.Data))
		el.Value = &memoItem{key: key, res: res}
		m.order.MoveToFront(el)
	} else {
		m.items[key] = m.order.PushFront(&memoItem{key: key, res: res})
	}
	m.size += n

	for m.size > m.limit {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.removeLocked(oldest.Value.(*memoItem).key)
	}
}

func (m *memo) removeLocked(key string) {
	el, ok := m.items[key]
	if !ok {
		return
	}
	m.size -= int64(len(el.Value.(*memoItem).res.Data))
	m.order.Remove(el)
	delete(m.items, key)
}

// MemoStats describes what a coordinator holds in memory
type MemoStats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
	Limit   int64 `json:"limit"`
}

func (m *memo) stats() MemoStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MemoStats{Entries: len(m.items), Bytes: m.size, Limit: m.limit}
}
