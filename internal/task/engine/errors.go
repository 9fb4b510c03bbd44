package engine

import "errors"

var (
	ErrAlreadyRunning = errors.New("engine already running")
	ErrUnknownTask    = errors.New("unknown task")
	ErrTriggerRefused = errors.New("trigger refused: task run in flight")
)
