package exception

import "errors"

var (
	ErrInvalidTransition = errors.New("task: invalid state transition")
	ErrTaskNotFound      = errors.New("task: not found")
	ErrTaskExists        = errors.New("task: already exists")
	ErrTaskInvalidConfig = errors.New("task: invalid config")
	ErrUnknownAccount    = errors.New("task: unknown account")
	ErrCancelTimeout     = errors.New("task: cancel confirmation timeout")
)
