// Package crux is a systems concurrency toolkit: stackful coroutines
// (tasks) scheduled by a single-threaded event hub that multiplexes
// non-blocking I/O, timers, and signals, plus the building blocks the
// hub and its consumers need (a double-mapped ring buffer, a tiered
// robin-hood hash map, an incremental HTTP/1.x parser, and a DNS
// resolver/cache).
//
// A hub owns exactly one OS thread for its lifetime. Tasks never
// migrate between hubs and the scheduler never preempts a task; a task
// runs until it yields, calls a blocking primitive, or returns.
package crux
