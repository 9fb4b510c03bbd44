// Package task implements the recurring-task state machine.
//
// A Task owns its own scheduling state and runs in one of two modes, fixed at
// construction:
//   - diff mode: the task is due when now - lastRun >= interval. nextRun stays
//     unset for the task's whole lifetime.
//   - explicit-time mode (delay-first-run tasks): nextRun is seeded at
//     construction and advanced by exactly one interval after every completed
//     run.
//
// The job body is supplied as a Runner; any error or panic it produces is
// normalized into the Result and never propagates out of Execute.
package task
