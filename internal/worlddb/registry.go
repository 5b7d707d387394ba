package worlddb

import "sync"

// storeRegistry tracks every live Folder by its absolute path so that no two
// folders ever hold the same physical store open.
type storeRegistry struct {
	mu   sync.Mutex
	open map[string]*Folder
}

var registry = &storeRegistry{open: make(map[string]*Folder)}

func (r *storeRegistry) reserve(path string, f *Folder) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.open[path]; ok {
		return false
	}
	r.open[path] = f
	return true
}

func (r *storeRegistry) release(path string, f *Folder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open[path] == f {
		delete(r.open, path)
	}
}

func (r *storeRegistry) rename(from, to string, f *Folder) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.open[to]; ok {
		return false
	}
	if r.open[from] == f {
		delete(r.open, from)
	}
	r.open[to] = f
	return true
}

func (r *storeRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// Lookup returns the live Folder that owns the store at path, if any.
func Lookup(path string) (*Folder, bool) {
	abs, err := absPath(path)
	if err != nil {
		return nil, false
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	f, ok := registry.open[abs]
	return f, ok
}

// OpenCount reports how many store handles are currently live.
func OpenCount() int {
	return registry.count()
}
