package coordination

import (
	"context"
	"strings"
	"sync"
	"time"
)

const defaultHistorySize = 4096

type memEntry struct {
	value  []byte
	modRev int64
	lease  *memLease
}

// MemoryStore is an in-process Store with etcd-like revision semantics.
// It backs single-process deployments and tests.
type MemoryStore struct {
	mu       sync.Mutex
	rev      int64
	data     map[string]*memEntry
	history  []Event
	watchers map[*memWatcher]struct{}
	closed   bool
	done     chan struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string]*memEntry),
		watchers: make(map[*memWatcher]struct{}),
		done:     make(chan struct{}),
	}
}

func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(key, value, nil), nil
}

func (s *MemoryStore) putLocked(key string, value []byte, lease *memLease) int64 {
	s.rev++
	v := append([]byte(nil), value...)
	s.data[key] = &memEntry{value: v, modRev: s.rev, lease: lease}
	s.publishLocked(Event{Type: EventPut, Key: key, Value: v, Revision: s.rev})
	return s.rev
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok {
		return nil, s.rev, ErrNotFound
	}
	return append([]byte(nil), e.value...), s.rev, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(key)
	return nil
}

func (s *MemoryStore) deleteLocked(key string) {
	if _, ok := s.data[key]; !ok {
		return
	}
	delete(s.data, key)
	s.rev++
	s.publishLocked(Event{Type: EventDelete, Key: key, Revision: s.rev})
}

// CreateEphemeral writes key bound to a lease. ttl is ignored: the key lives
// until Release, Expire or Close.
func (s *MemoryStore) CreateEphemeral(ctx context.Context, key string, value []byte, _ time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := &memLease{store: s, key: key, done: make(chan struct{})}
	s.mu.Lock()
	s.putLocked(key, value, l)
	s.mu.Unlock()
	return l, nil
}

// Expire drops an ephemeral key as if its holder had died.
func (s *MemoryStore) Expire(key string) {
	s.mu.Lock()
	e, ok := s.data[key]
	if !ok || e.lease == nil {
		s.mu.Unlock()
		return
	}
	s.deleteLocked(key)
	s.mu.Unlock()
	e.lease.close()
}

func (s *MemoryStore) Watch(ctx context.Context, key string, afterRev int64) <-chan Event {
	return s.watch(ctx, key, false, afterRev)
}

func (s *MemoryStore) WatchPrefix(ctx context.Context, prefix string, afterRev int64) <-chan Event {
	return s.watch(ctx, prefix, true, afterRev)
}

func (s *MemoryStore) watch(ctx context.Context, key string, prefix bool, afterRev int64) <-chan Event {
	out := make(chan Event)
	w := &memWatcher{key: key, prefix: prefix, notify: make(chan struct{}, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(out)
		return out
	}
	if afterRev > 0 {
		for _, ev := range s.history {
			if ev.Revision > afterRev && w.matches(ev.Key) {
				w.pending = append(w.pending, ev)
			}
		}
	}
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer close(out)
		defer s.removeWatcher(w)
		for {
			batch := w.drain()
			for _, ev := range batch {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			if len(batch) > 0 {
				continue
			}
			select {
			case <-w.notify:
			case <-ctx.Done():
				return
			}
			if w.isStopped() {
				// Flush whatever arrived before Close.
				for _, ev := range w.drain() {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
				return
			}
		}
	}()
	return out
}

func (s *MemoryStore) publishLocked(ev Event) {
	s.history = append(s.history, ev)
	if len(s.history) > defaultHistorySize {
		s.history = append([]Event(nil), s.history[len(s.history)-defaultHistorySize:]...)
	}
	for w := range s.watchers {
		if w.matches(ev.Key) {
			w.push(ev)
		}
	}
}

func (s *MemoryStore) removeWatcher(w *memWatcher) {
	s.mu.Lock()
	delete(s.watchers, w)
	s.mu.Unlock()
}

func (s *MemoryStore) Done() <-chan struct{} {
	return s.done
}

// Close ends every watch.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	for w := range s.watchers {
		w.stop()
	}
	return nil
}

type memWatcher struct {
	key     string
	prefix  bool
	mu      sync.Mutex
	pending []Event
	stopped bool
	notify  chan struct{}
}

func (w *memWatcher) matches(key string) bool {
	if w.prefix {
		return strings.HasPrefix(key, w.key)
	}
	return key == w.key
}

func (w *memWatcher) push(ev Event) {
	w.mu.Lock()
	w.pending = append(w.pending, ev)
	w.mu.Unlock()
	w.signal()
}

func (w *memWatcher) drain() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	batch := w.pending
	w.pending = nil
	return batch
}

func (w *memWatcher) stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.signal()
}

func (w *memWatcher) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

func (w *memWatcher) signal() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

type memLease struct {
	store *MemoryStore
	key   string
	done  chan struct{}
	once  sync.Once
}

func (l *memLease) close() {
	l.once.Do(func() { close(l.done) })
}

func (l *memLease) Done() <-chan struct{} {
	return l.done
}

func (l *memLease) Release(ctx context.Context) error {
	s := l.store
	s.mu.Lock()
	if e, ok := s.data[l.key]; ok && e.lease == l {
		s.deleteLocked(l.key)
	}
	s.mu.Unlock()
	l.close()
	return nil
}
