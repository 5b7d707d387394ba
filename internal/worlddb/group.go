package worlddb

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/worldlens/worldlens/internal/events"
	"github.com/worldlens/worldlens/internal/keys"
)

// GroupKind selects which keys a KeyGroup holds.
type GroupKind uint8

const (
	GroupAll GroupKind = iota
	// Reserved partitions. They resolve to an empty sequence.
	GroupDimension
	GroupChunk
	GroupOthers
)

func (k GroupKind) String() string {
	switch k {
	case GroupAll:
		return "All"
	case GroupDimension:
		return "Dimension"
	case GroupChunk:
		return "Chunk"
	case GroupOthers:
		return "Others"
	default:
		return fmt.Sprintf("GroupKind(%d)", uint8(k))
	}
}

// State is the resolution state shared by Folder and KeyGroup.
type State uint8

const (
	Unresolved State = iota
	Resolving
	Resolved
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolving:
		return "resolving"
	case Resolved:
		return "resolved"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// KeyGroup is an ordered, read-only view of classified keys from one store.
type KeyGroup struct {
	folder *Folder
	kind   GroupKind

	mu    sync.Mutex
	state State
	keys  []*Key
	// primed holds the enumeration taken by Folder.Resolve; the first group
	// Resolve consumes it instead of walking the store again.
	primed [][]byte

	keysChanged     events.Signal
	actionPerformed events.Event[Action]
}

func newKeyGroup(f *Folder, kind GroupKind, primed [][]byte) *KeyGroup {
	return &KeyGroup{folder: f, kind: kind, primed: primed}
}

func (g *KeyGroup) Kind() GroupKind { return g.kind }
func (g *KeyGroup) Folder() *Folder { return g.folder }

func (g *KeyGroup) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *KeyGroup) Resolved() bool { return g.State() == Resolved }

// Resolve enumerates the store's keys in native order, classifies each one
// and replaces the group's sequence. KeysChanged fires once afterwards.
// Calling Resolve again re-enumerates, so it doubles as Refresh.
func (g *KeyGroup) Resolve(ctx context.Context) error {
	g.mu.Lock()
	if g.state == Resolving {
		g.mu.Unlock()
		return ErrResolveInProgress
	}
	prev := g.state
	g.state = Resolving
	primed := g.primed
	g.primed = nil
	g.mu.Unlock()

	start := time.Now()
	resolved, err := g.enumerate(ctx, primed)
	g.folder.metrics.RecordResolve(time.Since(start), err == nil)
	if err != nil {
		g.mu.Lock()
		g.state = prev
		g.mu.Unlock()
		return err
	}

	g.mu.Lock()
	g.keys = resolved
	g.state = Resolved
	g.mu.Unlock()

	g.folder.logger.WithFields(logrus.Fields{
		"path":     g.folder.Path(),
		"group":    g.kind.String(),
		"keys":     len(resolved),
		"duration": time.Since(start),
	}).Debug("Key group resolved")

	g.keysChanged.Notify()
	return nil
}

// Refresh re-reads the store. It is identical to Resolve.
func (g *KeyGroup) Refresh(ctx context.Context) error {
	return g.Resolve(ctx)
}

func (g *KeyGroup) enumerate(ctx context.Context, raws [][]byte) ([]*Key, error) {
	store, err := g.folder.handle()
	if err != nil {
		return nil, err
	}
	if g.kind != GroupAll {
		return nil, nil
	}

	if raws == nil {
		raws, err = store.Keys(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate keys: %w", err)
		}
	}

	counts := make(map[keys.Kind]int)
	out := make([]*Key, 0, len(raws))
	for _, raw := range raws {
		rec := keys.Classify(raw)
		counts[rec.Kind()]++
		out = append(out, newKey(g, rec))
	}
	for kind, n := range counts {
		g.folder.metrics.RecordKeysClassified(kind.String(), n)
	}
	return out, nil
}

// Len returns the number of keys.
func (g *KeyGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys)
}

// At returns the i-th key in store order.
func (g *KeyGroup) At(i int) *Key {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keys[i]
}

// Keys returns a copy of the key sequence.
func (g *KeyGroup) Keys() []*Key {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.keys)
}

// All iterates the keys present when iteration starts.
func (g *KeyGroup) All() iter.Seq2[int, *Key] {
	snapshot := g.Keys()
	return func(yield func(int, *Key) bool) {
		for i, k := range snapshot {
			if !yield(i, k) {
				return
			}
		}
	}
}

// Contains reports whether k belongs to the current sequence.
func (g *KeyGroup) Contains(k *Key) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Contains(g.keys, k)
}

// CountByKind tallies the current keys by decoded kind.
func (g *KeyGroup) CountByKind() map[keys.Kind]int {
	counts := make(map[keys.Kind]int)
	for _, k := range g.All() {
		counts[k.Kind()]++
	}
	return counts
}

// NoticeAction forwards an edit to ActionPerformed subscribers.
func (g *KeyGroup) NoticeAction(a Action) {
	g.actionPerformed.Emit(a)
}

func (g *KeyGroup) OnKeysChanged(fn func()) (unsubscribe func()) {
	return g.keysChanged.Subscribe(fn)
}

func (g *KeyGroup) OnActionPerformed(fn func(Action)) (unsubscribe func()) {
	return g.actionPerformed.Subscribe(fn)
}

func (g *KeyGroup) clearDirty() {
	for _, k := range g.Keys() {
		k.clearDirty()
	}
}
