// Package loader schedules subresource loads issued by documents.
//
// Requests are grouped by destination endpoint (scheme, host and port). Each
// endpoint gets a Host: three FIFO priority buckets, an in-flight registry keyed
// by transport handle, and a fixed concurrency budget. The Loader routes new
// requests to Hosts, coalesces "work is ready" signals into one dispatch pass per
// tick, and offers owner-scoped cancellation plus global suspend/resume.
//
// Threading:
//   - Every Loader and Host method must run on the same scheduling goroutine
//     (see package eventloop). Nothing here takes a lock.
//   - Transport.Start and Transport.Cancel return immediately. Outcomes come back
//     later through Sink.Deliver on the scheduling goroutine, never from inside
//     Start.
//
// Admission:
//   - High before Medium before Low, FIFO inside a priority.
//   - Admitted requests are never preempted.
//   - in-flight + non-cache requests never exceed the Host budget after a pass.
//
// Outcomes:
//   - Every request reaches exactly one terminal event (Finished or Failed) at
//     its Resource.
//   - Queued requests cancelled by their owner are reported synchronously and
//     never reach the transport.
//   - In-flight cancellation waits for the transport to report
//     Failed{Cancelled: true}. There are no timeouts in this package.
package loader
