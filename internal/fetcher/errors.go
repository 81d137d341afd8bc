package fetcher

import (
	"errors"
	"fmt"
)

// ErrCloneInProgress is returned when another worker holds the background
// task flag of the repository.
var ErrCloneInProgress = errors.New("repository fetch already in progress")

// FetchError is returned after every clone attempt of a repository failed.
type FetchError struct {
	Repository string
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.Repository, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a later fetch of the same repository may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var fetchErr *FetchError
	return errors.Is(err, ErrCloneInProgress) || errors.As(err, &fetchErr)
}
