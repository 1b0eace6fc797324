// README: Path-addressable tree store contract shared by the memory and Firebase backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrAbort is returned by a TransactFunc to leave the node untouched.
	ErrAbort = errors.New("store: transaction aborted")
	// ErrTooManyRetries is returned when a transaction kept losing to concurrent writers.
	ErrTooManyRetries = errors.New("store: transaction retries exhausted")
	// ErrInvalidPath is returned for empty segments and overlapping update paths.
	ErrInvalidPath = errors.New("store: invalid path")
)

// TransactFunc receives the current value at a path (nil when absent) and
// returns the value to commit. Returning ErrAbort cancels the transaction.
type TransactFunc func(current any) (any, error)

// Tree is the persistent store every module talks to. Writes are last-write-wins
// except Transact, which is a single-path optimistic compare-and-set.
type Tree interface {
	Read(ctx context.Context, path string) (Snapshot, error)
	// Query returns the children of path whose child field equals equalTo.
	Query(ctx context.Context, path, child string, equalTo any) (Snapshot, error)
	Write(ctx context.Context, path string, value any) error
	// Update applies every path/value pair atomically. A nil value removes the path.
	Update(ctx context.Context, values map[string]any) error
	Remove(ctx context.Context, path string) error
	Transact(ctx context.Context, path string, fn TransactFunc) (bool, error)
	// Push writes value under a new, store-wide unique child key of path.
	Push(ctx context.Context, path string, value any) (string, error)
	NewKey() string
	// Subscribe replays the current value of path and then every change under it.
	Subscribe(ctx context.Context, path string) (*Subscription, error)
}

// CompareAndSwap sets path to next only if it currently holds expected.
// An absent node compares equal to expected == nil.
func CompareAndSwap(ctx context.Context, t Tree, path string, expected, next any) (bool, error) {
	want, err := normalize(expected)
	if err != nil {
		return false, err
	}
	return t.Transact(ctx, path, func(current any) (any, error) {
		if !reflect.DeepEqual(current, want) {
			return nil, ErrAbort
		}
		return next, nil
	})
}

// Snapshot is an immutable copy of a node.
type Snapshot struct {
	Key   string
	Value any
}

func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Fields returns the node as a field map, or nil when it is not an object.
func (s Snapshot) Fields() Fields {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return nil
	}
	return Fields(m)
}

func (s Snapshot) Child(name string) Snapshot {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return Snapshot{Key: name}
	}
	return Snapshot{Key: name, Value: m[name]}
}

// Children returns the child nodes in store key order.
func (s Snapshot) Children() []Snapshot {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, Snapshot{Key: k, Value: m[k]})
	}
	return out
}

// keyLess orders keys the way RTDB does: 32-bit integer keys first in numeric
// order, then everything else lexicographically.
func keyLess(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 32)
	bi, berr := strconv.ParseInt(b, 10, 32)
	switch {
	case aerr == nil && berr == nil:
		return ai < bi
	case aerr == nil:
		return true
	case berr == nil:
		return false
	}
	return a < b
}

// Join builds a slash separated store path.
func Join(parts ...string) string {
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			segs = append(segs, p)
		}
	}
	return strings.Join(segs, "/")
}

func splitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, nil
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" || strings.ContainsAny(s, ".#$[]") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

// overlaps reports whether a change at one path is visible at the other.
func overlaps(a, b string) bool {
	a, b = strings.Trim(a, "/"), strings.Trim(b, "/")
	if a == "" || b == "" || a == b {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func checkDisjoint(paths []string) error {
	for i := range paths {
		for j := i + 1; j < len(paths); j++ {
			if overlaps(paths[i], paths[j]) {
				return fmt.Errorf("%w: %q overlaps %q", ErrInvalidPath, paths[i], paths[j])
			}
		}
	}
	return nil
}
