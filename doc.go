// Package tasklet implements a small cooperative-concurrency runtime: a
// scheduler of "tasklets" (continuation-style units of work bound to a
// mutex), a set of synchronization primitives (tasklet-affine mutexes,
// counted-semaphore/broadcast wait-lists, deadline timers), and a singleton
// edge-triggered poller that bridges OS readiness notifications into the
// cooperative run queues.
//
// Tasklets never block the calling goroutine. A step function runs with its
// governing Mutex held and must either park itself on a WaitList, reschedule
// itself via Later/Goto, or terminate via Fini before returning.
package tasklet
