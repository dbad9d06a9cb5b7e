package contract

import "errors"

var (
	ErrModelInvoke      = errors.New("model invoke failed")
	ErrValidation       = errors.New("validation failed")
	ErrUnknownTool      = errors.New("unknown tool")
	ErrNotFound         = errors.New("not found")
	ErrSessionSuspended = errors.New("session suspended")
	ErrHumanActive      = errors.New("human operator active")
)
