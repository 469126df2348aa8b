package todo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"todo-task/backend/internal/auth"
	"todo-task/backend/internal/store"
)

// memStore is a synchronous in-memory store. Subscribers are called on the writer's
// goroutine.
type memStore struct {
	mu       sync.Mutex
	data     map[string]store.Snapshot
	subs     map[string]map[int]store.SnapshotFunc
	nextSub  int
	nextKey  int
	writes   int
	failWith error
}

func newMemStore() *memStore {
	return &memStore{
		data: make(map[string]store.Snapshot),
		subs: make(map[string]map[int]store.SnapshotFunc),
	}
}

func (m *memStore) snapshot(path string) store.Snapshot {
	src := m.data[path]
	if len(src) == 0 {
		return nil
	}
	out := make(store.Snapshot, len(src))
	for k, r := range src {
		rec := make(store.Record, len(r))
		for f, v := range r {
			rec[f] = v
		}
		out[k] = rec
	}
	return out
}

func (m *memStore) notify(path string) {
	m.mu.Lock()
	snap := m.snapshot(path)
	var fns []store.SnapshotFunc
	for _, fn := range m.subs[path] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (m *memStore) Subscribe(path string, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) store.Unsubscribe {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	if m.subs[path] == nil {
		m.subs[path] = make(map[int]store.SnapshotFunc)
	}
	m.subs[path][id] = onSnapshot
	snap := m.snapshot(path)
	m.mu.Unlock()

	onSnapshot(snap)

	return func() {
		m.mu.Lock()
		delete(m.subs[path], id)
		m.mu.Unlock()
	}
}

func (m *memStore) activeSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, subs := range m.subs {
		n += len(subs)
	}
	return n
}

func (m *memStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memStore) Push(ctx context.Context, path string, record store.Record) (string, error) {
	m.mu.Lock()
	m.writes++
	if m.failWith != nil {
		m.mu.Unlock()
		return "", m.failWith
	}
	m.nextKey++
	key := fmt.Sprintf("k%03d", m.nextKey)
	if m.data[path] == nil {
		m.data[path] = store.Snapshot{}
	}
	rec := store.Record{}
	for f, v := range record {
		if v != nil {
			rec[f] = v
		}
	}
	m.data[path][key] = rec
	m.mu.Unlock()

	m.notify(path)
	return key, nil
}

func splitPath(path string) (string, string) {
	i := strings.LastIndex(path, "/")
	return path[:i], path[i+1:]
}

func (m *memStore) Update(ctx context.Context, path string, fields store.Record) error {
	collection, key := splitPath(path)

	m.mu.Lock()
	m.writes++
	if m.failWith != nil {
		m.mu.Unlock()
		return m.failWith
	}
	rec, ok := m.data[collection][key]
	if !ok {
		m.mu.Unlock()
		return store.ErrNotFound
	}
	for f, v := range fields {
		if v == nil {
			delete(rec, f)
		} else {
			rec[f] = v
		}
	}
	m.mu.Unlock()

	m.notify(collection)
	return nil
}

func (m *memStore) Remove(ctx context.Context, path string) error {
	collection, key := splitPath(path)

	m.mu.Lock()
	m.writes++
	if m.failWith != nil {
		m.mu.Unlock()
		return m.failWith
	}
	delete(m.data[collection], key)
	m.mu.Unlock()

	m.notify(collection)
	return nil
}

func (m *memStore) Get(ctx context.Context, path string) (store.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(path), nil
}

func (m *memStore) Health(ctx context.Context) error { return nil }

func (m *memStore) Close() error { return nil }

// fakeProvider signs anyone in with user id "uid-" + email.
type fakeProvider struct{}

func (fakeProvider) session(email string) *auth.Session {
	return &auth.Session{
		UserID:       "uid-" + strings.ReplaceAll(email, ".", "_"),
		Email:        email,
		RefreshToken: "r",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func (p fakeProvider) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	if password == "wrong" {
		return nil, auth.ErrInvalidCredentials
	}
	return p.session(email), nil
}

func (p fakeProvider) Register(ctx context.Context, email, password string) (*auth.Session, error) {
	return p.session(email), nil
}

func (fakeProvider) SignOut(ctx context.Context, session *auth.Session) error { return nil }

func (fakeProvider) Refresh(ctx context.Context, refreshToken string) (*auth.Session, error) {
	return nil, auth.ErrInvalidToken
}
