// Package tasks runs long podcast operations in the background with per-resource exclusivity and live progress.
//
// # Submitting
//
// [Spawner.Submit] takes a [Request] naming the job kind, the owner, the target resource and the [Work] to run:
//
//  1. The resource lock for "kind:target" is acquired. A busy resource is rejected with
//     shared.ErrAlreadyRunning; nothing is queued for later.
//  2. A queued snapshot is written to the progress tracker and announced.
//  3. The work starts on its own goroutine, moves to running, and is finalized exactly once.
//
// If the shared store cannot be reached the submission fails with shared.ErrStoreUnavailable and the work never
// runs. Exclusivity is never traded for availability.
//
// # Progress
//
// Work receives a [Reporter]. [Reporter.Report] clamps progress to 0..100, never lets it move backwards, writes
// the snapshot and publishes an event. Store hiccups while reporting are logged; the job keeps going.
//
// # Cancellation
//
// [Spawner.Cancel] only sets a flag. Work observes it through [Reporter.Checkpoint] and returns
// shared.ErrCancelled, which finalizes the job as cancelled. Cancels for jobs running on another instance are
// forwarded over the store; [Spawner.Run] applies the ones addressed to this process.
//
// # Lease
//
// The lock is renewed every third of the lease. A rejected renew, or a lease's worth of failed renews, means the
// lock may now belong to someone else: the work context is cancelled and the job fails with shared.ErrLockLost.
//
// # Finalizing
//
// The terminal snapshot is written, the lock is released, and only then is the terminal event published, so a
// client reacting to it can resubmit straight away. An optional [Recorder] keeps the outcome after the tracker
// evicts it.
package tasks
