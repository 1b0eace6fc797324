// README: In-process tree store used for local runs and as the test double.
package store

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

// maxTransactRetries matches the retry budget of the RTDB SDK.
const maxTransactRetries = 25

// Memory is a Tree held in process memory. Transactions are optimistic like
// the real store: fn runs outside the lock and the commit is retried when the
// node changed underneath it.
type Memory struct {
	mu   sync.RWMutex
	root map[string]any
	hub  *Hub
	keys *PushKeys

	// beforeCommit is a test hook run between fn and the commit check.
	beforeCommit func(path string)
}

var _ Tree = (*Memory)(nil)

func NewMemory() *Memory {
	m := &Memory{root: make(map[string]any), keys: NewPushKeys()}
	m.hub = NewHub(m.Read)
	return m
}

func (m *Memory) Read(ctx context.Context, path string) (Snapshot, error) {
	segs, err := splitPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.RLock()
	v := deepCopy(lookup(m.root, segs))
	m.mu.RUnlock()
	return Snapshot{Key: lastSeg(segs), Value: v}, nil
}

func (m *Memory) Query(ctx context.Context, path, child string, equalTo any) (Snapshot, error) {
	snap, err := m.Read(ctx, path)
	if err != nil {
		return Snapshot{}, err
	}
	want, err := normalize(equalTo)
	if err != nil {
		return Snapshot{}, err
	}
	out := make(map[string]any)
	for _, c := range snap.Children() {
		f := c.Fields()
		if f == nil {
			continue
		}
		if reflect.DeepEqual(f[child], want) {
			out[c.Key] = c.Value
		}
	}
	if len(out) == 0 {
		return Snapshot{Key: snap.Key}, nil
	}
	return Snapshot{Key: snap.Key, Value: out}, nil
}

func (m *Memory) Write(ctx context.Context, path string, value any) error {
	return m.Update(ctx, map[string]any{path: value})
}

func (m *Memory) Remove(ctx context.Context, path string) error {
	return m.Write(ctx, path, nil)
}

func (m *Memory) Update(ctx context.Context, values map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	paths := make([]string, 0, len(values))
	segs := make(map[string][]string, len(values))
	norm := make(map[string]any, len(values))
	for p, v := range values {
		s, err := splitPath(p)
		if err != nil {
			return err
		}
		if len(s) == 0 {
			return ErrInvalidPath
		}
		n, err := normalize(v)
		if err != nil {
			return err
		}
		paths = append(paths, p)
		segs[p] = s
		norm[p] = n
	}
	if err := checkDisjoint(paths); err != nil {
		return err
	}

	m.mu.Lock()
	for _, p := range paths {
		assign(m.root, segs[p], norm[p])
	}
	m.mu.Unlock()

	m.hub.Publish(paths...)
	return nil
}

func (m *Memory) Transact(ctx context.Context, path string, fn TransactFunc) (bool, error) {
	segs, err := splitPath(path)
	if err != nil {
		return false, err
	}
	if len(segs) == 0 {
		return false, ErrInvalidPath
	}
	for attempt := 0; attempt < maxTransactRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		m.mu.RLock()
		current := deepCopy(lookup(m.root, segs))
		m.mu.RUnlock()

		next, err := fn(deepCopy(current))
		if errors.Is(err, ErrAbort) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		norm, err := normalize(next)
		if err != nil {
			return false, err
		}
		if m.beforeCommit != nil {
			m.beforeCommit(path)
		}

		m.mu.Lock()
		if !reflect.DeepEqual(lookup(m.root, segs), current) {
			m.mu.Unlock()
			continue
		}
		assign(m.root, segs, norm)
		m.mu.Unlock()

		m.hub.Publish(path)
		return true, nil
	}
	return false, ErrTooManyRetries
}

func (m *Memory) Push(ctx context.Context, path string, value any) (string, error) {
	key := m.keys.Next()
	if err := m.Write(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) NewKey() string {
	return m.keys.Next()
}

func (m *Memory) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	if _, err := splitPath(path); err != nil {
		return nil, err
	}
	return m.hub.Subscribe(ctx, path), nil
}

// Subscribers reports the number of live listeners.
func (m *Memory) Subscribers() int {
	return m.hub.Len()
}

func lookup(root map[string]any, segs []string) any {
	var cur any = root
	for _, s := range segs {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = node[s]
		if !ok {
			return nil
		}
	}
	if m, ok := cur.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	return cur
}

// assign writes value at segs, creating parents on the way and pruning empty
// parents when value is nil.
func assign(root map[string]any, segs []string, value any) {
	if value == nil {
		removeAt(root, segs)
		return
	}
	node := root
	for _, s := range segs[:len(segs)-1] {
		next, ok := node[s].(map[string]any)
		if !ok {
			next = make(map[string]any)
			node[s] = next
		}
		node = next
	}
	node[segs[len(segs)-1]] = value
}

func removeAt(node map[string]any, segs []string) bool {
	if len(segs) == 1 {
		delete(node, segs[0])
		return len(node) == 0
	}
	child, ok := node[segs[0]].(map[string]any)
	if !ok {
		return len(node) == 0
	}
	if removeAt(child, segs[1:]) {
		delete(node, segs[0])
	}
	return len(node) == 0
}

func lastSeg(segs []string) string {
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}
