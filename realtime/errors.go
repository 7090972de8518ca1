package realtime

import "errors"

var (
	// ErrHubStopped indicates the hub is shut down.
	ErrHubStopped = errors.New("realtime: hub stopped")
	// ErrNotAuthorizedTopic indicates a subscribe attempt to a topic the
	// user may not read.
	ErrNotAuthorizedTopic = errors.New("realtime: not authorized for topic")
)
