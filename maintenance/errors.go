package maintenance

import "errors"

var (
	// ErrAlreadyStarted is returned by Start on a running Retention or Watcher.
	ErrAlreadyStarted = errors.New("maintenance: already running")

	// ErrNotStarted is returned by Stop on a Retention or Watcher that is not running.
	ErrNotStarted = errors.New("maintenance: not running")
)
