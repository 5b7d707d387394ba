package worlddb

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotFound          = errors.New("not found")
	ErrOpenFailed        = errors.New("open failed")
	ErrMoveConflict      = errors.New("destination already exists")
	ErrDisposed          = errors.New("store folder is disposed")
	ErrNotResolved       = errors.New("store folder has not been resolved")
	ErrResolveInProgress = errors.New("resolve already in progress")

	// ErrAlreadyOpen is an ErrOpenFailed: another live Folder owns the store.
	ErrAlreadyOpen = fmt.Errorf("%w: store is already open", ErrOpenFailed)
)
