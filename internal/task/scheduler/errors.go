package scheduler

import "errors"

var (
	ErrAlreadyRunning = errors.New("scheduler loop already running")
	ErrNilTask        = errors.New("nil task")
	ErrUnnamedTask    = errors.New("task has no name")
	ErrDuplicateTask  = errors.New("task name already registered")
)
