// README: Tree backed by Firebase Realtime Database through the Admin SDK.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firebase.google.com/go/v4/db"
	"github.com/sirupsen/logrus"
)

// Firebase implements Tree on an RTDB client. The Admin SDK has no listener
// API, so subscriptions are served by a Hub that is woken by this adapter's
// own writes and, for writes made by other clients (phones, the hardware
// queue controller), by a periodic resync.
type Firebase struct {
	client *db.Client
	hub    *Hub
	keys   *PushKeys
	log    logrus.FieldLogger
}

var _ Tree = (*Firebase)(nil)

func NewFirebase(client *db.Client, log logrus.FieldLogger) *Firebase {
	f := &Firebase{client: client, keys: NewPushKeys(), log: log}
	f.hub = NewHub(f.Read)
	return f
}

func (f *Firebase) Read(ctx context.Context, path string) (Snapshot, error) {
	segs, err := splitPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	var v any
	if err := f.client.NewRef(refPath(path)).Get(ctx, &v); err != nil {
		return Snapshot{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return Snapshot{Key: lastSeg(segs), Value: prune(v)}, nil
}

func (f *Firebase) Query(ctx context.Context, path, child string, equalTo any) (Snapshot, error) {
	segs, err := splitPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	var v map[string]any
	if err := f.client.NewRef(refPath(path)).OrderByChild(child).EqualTo(equalTo).Get(ctx, &v); err != nil {
		return Snapshot{}, fmt.Errorf("querying %s by %s: %w", path, child, err)
	}
	if len(v) == 0 {
		return Snapshot{Key: lastSeg(segs)}, nil
	}
	return Snapshot{Key: lastSeg(segs), Value: prune(map[string]any(v))}, nil
}

func (f *Firebase) Write(ctx context.Context, path string, value any) error {
	if _, err := splitPath(path); err != nil {
		return err
	}
	ref := f.client.NewRef(refPath(path))
	var err error
	if value == nil {
		err = ref.Delete(ctx)
	} else {
		err = ref.Set(ctx, value)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	f.hub.Publish(path)
	return nil
}

func (f *Firebase) Remove(ctx context.Context, path string) error {
	return f.Write(ctx, path, nil)
}

// Update sends one multi-location PATCH at the root, which RTDB applies atomically.
func (f *Firebase) Update(ctx context.Context, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	paths := make([]string, 0, len(values))
	for p := range values {
		segs, err := splitPath(p)
		if err != nil {
			return err
		}
		if len(segs) == 0 {
			return ErrInvalidPath
		}
		paths = append(paths, p)
	}
	if err := checkDisjoint(paths); err != nil {
		return err
	}
	if err := f.client.NewRef("/").Update(ctx, values); err != nil {
		return fmt.Errorf("multi-path update: %w", err)
	}
	f.hub.Publish(paths...)
	return nil
}

func (f *Firebase) Transact(ctx context.Context, path string, fn TransactFunc) (bool, error) {
	if _, err := splitPath(path); err != nil {
		return false, err
	}
	err := f.client.NewRef(refPath(path)).Transaction(ctx, func(tn db.TransactionNode) (interface{}, error) {
		var current any
		if err := tn.Unmarshal(&current); err != nil {
			return nil, err
		}
		return fn(prune(current))
	})
	if errors.Is(err, ErrAbort) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("transaction on %s: %w", path, err)
	}
	f.hub.Publish(path)
	return true, nil
}

func (f *Firebase) Push(ctx context.Context, path string, value any) (string, error) {
	key := f.keys.Next()
	if err := f.Write(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (f *Firebase) NewKey() string {
	return f.keys.Next()
}

func (f *Firebase) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	if _, err := splitPath(path); err != nil {
		return nil, err
	}
	return f.hub.Subscribe(ctx, path), nil
}

// RunResync wakes every subscription on each tick so changes written by other
// RTDB clients reach local listeners. Unchanged values are not redelivered.
func (f *Firebase) RunResync(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.hub.Close()
			return
		case <-ticker.C:
			if n := f.hub.Len(); n > 0 {
				f.log.WithField("subscriptions", n).Debug("rtdb resync")
				f.hub.Publish("")
			}
		}
	}
}

func refPath(path string) string {
	return "/" + Join(path)
}
