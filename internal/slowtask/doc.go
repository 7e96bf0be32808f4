// Package slowtask moves slow, blocking work (disk writes, file finalisation)
// off a latency-sensitive producer such as an audio capture callback.
//
// A Queue owns a fixed-size ring of (Command, payload) pairs, a single
// out-of-band slot and one worker goroutine started by New. Producers and the
// worker coordinate through one mutex and two condition variables.
//
// Flow control:
//
//   - Put blocks while the ring holds HighWatermark or more items and the
//     queue stays open.
//   - TryPut never blocks. It fails with ErrFull only at hard capacity and
//     reports PutHighWater when the insert reached the high watermark.
//   - PutOutOfBand stores one priority item that is dispatched before any
//     ring item already queued. A second one fails with ErrFull until the
//     first has been taken.
//   - Flush asks the worker to hand every queued item to the flush handler.
//   - An idle worker is woken only once LowWatermark items are queued. Wake
//     forces it to take a shorter tail, e.g. after the last Put.
//
// The worker dispatches in priority order: a pending flush first, then the
// out-of-band item, then the oldest ring item. The item handler runs without
// the queue lock held. The flush handler runs with the lock held, so it must
// be fast and must not call back into the queue. Neither handler may call
// Terminate.
//
// Handler panics are not recovered. A panic on the worker goroutine
// terminates the process.
//
// Lifecycle: New returns a queue in StateClosed. Open and Close gate
// producers; Close does not discard queued items and the worker keeps
// draining them. Terminate stops the worker, releases every blocked producer
// with ErrState and waits for the worker goroutine to exit.
package slowtask
