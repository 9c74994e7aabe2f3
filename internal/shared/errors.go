package shared

import "errors"

// ErrLockBusy is returned when a distributed lock is held past the wait budget.
var ErrLockBusy = errors.New("lock busy")
