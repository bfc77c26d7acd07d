// Package event defines graph events and the compound event dispatcher.
//
// ARCHITECTURE:
//
// Every subscriber owns a Subscription holding a pending queue guarded by
// a mutex. Producers append events; the first append after an idle period
// marks the subscription scheduled and (once the producer calls
// Outbox.Flush) submits exactly one delivery task to the executor.
//
// The delivery task:
//  1. takes the shared side of the dispatcher's read lock (the graph gate)
//  2. swaps out the pending queue
//  3. invokes the handler once with the whole ordered batch
//  4. releases the read lock and runs the optional AfterDelivery hook
//  5. resubmits itself if more events arrived, otherwise goes idle
//
// Guarantees:
//   - at most one delivery per subscription in flight
//   - no event lost or duplicated
//   - arrival order preserved within and across batches
//
// Producers must call Flush only after releasing any exclusive lock that
// the read lock guards. An inline executor would otherwise deadlock.
package event
