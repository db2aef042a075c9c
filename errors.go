package lockstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRaceCondition reports that one or more supplied lock versions no
	// longer matched live storage at commit time. Expected under contention;
	// the caller must re-acquire fresh locks and recompute before retrying.
	ErrRaceCondition = errors.New("lockstore: race condition")

	// ErrLockCountMismatch reports a SetAtomic call whose items and locks
	// slices differ in length. Detected before any I/O.
	ErrLockCountMismatch = errors.New("lockstore: items/locks length mismatch")
)

// RaceError carries the keys whose locks failed validation.
// It matches ErrRaceCondition via errors.Is.
type RaceError struct {
	Keys []Key
}

func (e *RaceError) Error() string {
	if len(e.Keys) == 0 {
		return "lockstore: stale lock"
	}
	parts := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		parts[i] = fmt.Sprintf("(%s, %s)", k.PartitionKey, k.SortKey)
	}
	return fmt.Sprintf("lockstore: stale lock for %s", strings.Join(parts, ", "))
}

func (e *RaceError) Unwrap() error { return ErrRaceCondition }

// CloseError reports failures from both layers of a decorated store's Close.
type CloseError struct {
	ProviderErr error
	InnerErr    error
}

func (e *CloseError) Error() string {
	switch {
	case e.ProviderErr != nil && e.InnerErr != nil:
		return fmt.Sprintf("close failed: provider=%v; inner=%v", e.ProviderErr, e.InnerErr)
	case e.ProviderErr != nil:
		return fmt.Sprintf("close failed: provider=%v", e.ProviderErr)
	case e.InnerErr != nil:
		return fmt.Sprintf("close failed: inner=%v", e.InnerErr)
	default:
		return "close failed: unknown error"
	}
}

func (e *CloseError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.ProviderErr != nil {
		errs = append(errs, e.ProviderErr)
	}
	if e.InnerErr != nil {
		errs = append(errs, e.InnerErr)
	}
	return errs
}
