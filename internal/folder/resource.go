package folder

import (
	"github.com/worldlens/worldlens/internal/resource"
	"github.com/worldlens/worldlens/internal/worlddb"
)

// Resource is one of Leaf, *Folder or Store. The set is closed; use Match to
// handle every shape.
type Resource interface {
	Kind() resource.Kind
	Path() string
	isResource()
}

// Leaf is an opened single file.
type Leaf struct {
	resource.Leaf
}

func (Leaf) Kind() resource.Kind { return resource.LeafFile }
func (Leaf) isResource()         {}

// Store is an opened key-value store folder.
type Store struct {
	*worlddb.Folder
}

func (Store) Kind() resource.Kind { return resource.StoreFolder }
func (Store) isResource()         {}

func (*Folder) Kind() resource.Kind { return resource.PlainFolder }
func (*Folder) isResource()         {}

// Match calls the handler for r's shape and returns its result.
func Match[T any](r Resource, leaf func(Leaf) T, folder func(*Folder) T, store func(Store) T) T {
	switch v := r.(type) {
	case Leaf:
		return leaf(v)
	case *Folder:
		return folder(v)
	case Store:
		return store(v)
	default:
		panic("folder: unknown resource type")
	}
}
