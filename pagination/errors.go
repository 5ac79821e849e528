package pagination

import "errors"

// ErrPageLoadInProgress is returned by LoadNextPage when a prior call
// for the same key hasn't finished yet: LoadNextPage guards each key
// with its own non-reentrant single-flight boolean.
var ErrPageLoadInProgress = errors.New("pagination: a page load is already in progress for this key")

// errPageSizeTooSmall is returned by NewSizeCoordinator when PageSize < 1.
var errPageSizeTooSmall = errors.New("pagination: PageSize must be >= 1")
