package folder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/worldlens/worldlens/internal/worlddb"
)

// OpenPath opens a single path chosen by the user: a file becomes a Leaf, a
// directory named "db" becomes a Store and any other directory becomes an
// unscanned Folder using opts as given.
func OpenPath(ctx context.Context, path string, opts Options) (Resource, error) {
	opts = opts.withDefaults()
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", worlddb.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %w", worlddb.ErrOpenFailed, path, err)
	}

	if !info.IsDir() {
		leaf, err := opts.Gateway.OpenLeaf(ctx, path)
		if err != nil {
			return nil, err
		}
		return Leaf{leaf}, nil
	}

	if strings.EqualFold(filepath.Base(path), StoreDirName) {
		store, err := opts.Gateway.OpenStore(ctx, path)
		if err != nil {
			return nil, err
		}
		return Store{store}, nil
	}

	return New(path, opts), nil
}
