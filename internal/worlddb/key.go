package worlddb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/worldlens/worldlens/internal/events"
	"github.com/worldlens/worldlens/internal/keys"
	"github.com/worldlens/worldlens/internal/kvstore"
)

// Action describes a completed edit so that an undo history can record it.
type Action struct {
	Description string
	Key         *Key
	Previous    []byte
	Current     []byte
}

// Key is one classified store key together with its lazily fetched value.
type Key struct {
	group  *KeyGroup
	record keys.Record

	mu     sync.Mutex
	value  []byte
	loaded bool
	dirty  bool

	changed events.Signal
	loadEv  events.Signal
}

func newKey(g *KeyGroup, r keys.Record) *Key {
	return &Key{group: g, record: r}
}

// Record returns the decoded form of the key.
func (k *Key) Record() keys.Record { return k.record }

// Kind is shorthand for Record().Kind().
func (k *Key) Kind() keys.Kind { return k.record.Kind() }

// Bytes returns the raw key bytes.
func (k *Key) Bytes() []byte { return k.record.Raw() }

// Group returns the KeyGroup the key belongs to.
func (k *Key) Group() *KeyGroup { return k.group }

func (k *Key) Label() string   { return keys.Label(k.record) }
func (k *Key) Preview() string { return keys.Preview(k.record) }

// Loaded reports whether the value has been fetched or set.
func (k *Key) Loaded() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.loaded
}

// Dirty reports whether SetValue was called since the last save.
func (k *Key) Dirty() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dirty
}

// Value returns the value, reading it from the store on first use.
func (k *Key) Value(ctx context.Context) ([]byte, error) {
	k.mu.Lock()
	if k.loaded {
		v := k.value
		k.mu.Unlock()
		return v, nil
	}
	k.mu.Unlock()

	store, err := k.group.folder.handle()
	if err != nil {
		return nil, err
	}
	v, err := store.Get(ctx, k.record.Raw())
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: key %s", ErrNotFound, keys.Hex(k.record.Raw()))
		}
		return nil, fmt.Errorf("failed to read value: %w", err)
	}

	k.mu.Lock()
	if k.loaded {
		// SetValue won the race
		v = k.value
		k.mu.Unlock()
		return v, nil
	}
	k.value = v
	k.loaded = true
	k.mu.Unlock()

	k.loadEv.Notify()
	return v, nil
}

// SetValue replaces the in-memory value, marks the key and its store folder
// dirty, fires Changed and reports the edit through the group's
// ActionPerformed event. The store itself is not written.
func (k *Key) SetValue(v []byte) {
	k.mu.Lock()
	prev := k.value
	k.value = v
	k.loaded = true
	k.dirty = true
	k.mu.Unlock()

	k.group.folder.markUnsaved()
	k.changed.Notify()
	k.group.NoticeAction(Action{
		Description: "Edit " + k.Label(),
		Key:         k,
		Previous:    prev,
		Current:     v,
	})
}

// SaveAs writes the value bytes to a standalone file.
func (k *Key) SaveAs(ctx context.Context, path string) error {
	v, err := k.Value(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, v, 0644); err != nil {
		return fmt.Errorf("failed to write value: %w", err)
	}
	return nil
}

func (k *Key) clearDirty() {
	k.mu.Lock()
	k.dirty = false
	k.mu.Unlock()
}

// OnChanged subscribes to value edits.
func (k *Key) OnChanged(fn func()) (unsubscribe func()) { return k.changed.Subscribe(fn) }

// OnLoaded subscribes to the first successful value fetch.
func (k *Key) OnLoaded(fn func()) (unsubscribe func()) { return k.loadEv.Subscribe(fn) }
