package coordinator

import (
	"errors"
	"fmt"
)

// ErrConfigurationMissing is returned (wrapped, naming the absent
// factory) when a Persistent or Secure family is constructed before
// the corresponding storage.Factory has been registered via
// config.Configure.
var ErrConfigurationMissing = errors.New("rescoord: configuration missing")

// ErrClosedCoordinator is returned by operations invoked after
// Close/Remove/ClearAll(closeSubscriptions=true); new subscriptions to
// a closed coordinator fail synchronously with this error.
var ErrClosedCoordinator = errors.New("rescoord: coordinator closed")

// OriginError wraps a Fetch/LoadPage failure. It never mutates storage;
// the previously cached value (if any) survives in the Resource.Error
// event's Data field, not in this error type.
type OriginError struct {
	Key   any
	Cause error
}

func (e *OriginError) Error() string {
	return fmt.Sprintf("rescoord: origin error for key %v: %v", e.Key, e.Cause)
}

func (e *OriginError) Unwrap() error { return e.Cause }

// InconsistentPageDataError is thrown from PageableCoordinator.LoadNextPage
// when the offset/intersection overlap check or the size-mode
// duplicate-detection check fails. It propagates to the caller (it is
// never surfaced through the coordinator's broadcast bus); the expected
// recovery is for the caller to invoke Invalidate on the underlying key.
type InconsistentPageDataError struct {
	Key    any
	Reason string
}

func (e *InconsistentPageDataError) Error() string {
	return fmt.Sprintf("rescoord: inconsistent page data for key %v: %s", e.Key, e.Reason)
}

// configurationMissing builds an ErrConfigurationMissing wrapping error
// naming which factory was absent.
func configurationMissing(which string) error {
	return fmt.Errorf("%w: %s factory not registered (see config.Configure)", ErrConfigurationMissing, which)
}
