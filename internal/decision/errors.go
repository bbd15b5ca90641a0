package decision

import "errors"

var (
	// ErrInvalidRequest rejects malformed decisions before any
	// transaction opens.
	ErrInvalidRequest = errors.New("invalid decision request")
	// ErrTopicNotFound means the referenced topic does not exist.
	ErrTopicNotFound = errors.New("topic not found")
	// ErrTopicAlreadyProcessed means the topic already left pending and
	// the requested action is not a defer.
	ErrTopicAlreadyProcessed = errors.New("topic already processed")
	// ErrOptionNotFound means the referenced content option does not exist.
	ErrOptionNotFound = errors.New("option not found")
	// ErrOptionMismatch means the option belongs to a different topic.
	ErrOptionMismatch = errors.New("option does not belong to topic")
)
