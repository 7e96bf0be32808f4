// Package taskmanager runs a Task on a slowtask.Queue worker so that a
// latency-sensitive producer (the capture callback) never blocks on it.
//
// The producer calls Start, then Feed for every captured buffer, then Stop
// or Abort. Feed copies the buffer into a pooled slice and queues it with
// TryPut; when the queue is full the buffer is dropped and counted. Stop
// queues the stop command behind all pending feeds so the task sees every
// buffer before finishing. Abort flushes pending feeds to TaskIgnore and
// sends the abort command out of band so it overtakes anything still queued.
//
// Task and Delegate methods are always called on the queue worker
// goroutine, one at a time. TaskIgnore may run while the queue lock is held
// and must return quickly.
package taskmanager
