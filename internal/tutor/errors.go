package tutor

import "errors"

var (
	// ErrValidation is returned for a blank message.
	ErrValidation = errors.New("message must not be blank")

	// ErrUnauthorized is returned when no user could be resolved.
	ErrUnauthorized = errors.New("user is not authenticated")

	// ErrStepLimit is returned when a run visits more nodes than any valid
	// path needs.
	ErrStepLimit = errors.New("orchestrator step limit exceeded")
)
