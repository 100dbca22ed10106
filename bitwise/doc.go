// Package bitwise transforms large byte buffers without monopolizing the
// worker that runs them.
//
// A transform is cut into chunks. After every chunk that does not finish the
// buffer, its measured cost is converted to a percentage of the host quantum
// and charged against a Budget. When the budget reports exhaustion the task
// stops at the chunk boundary, resizes its slice for the next episode, and
// hands a Continuation back to the host, which re-invokes the stepping
// function later, possibly on another worker.
//
// # Components
//
//   - chunkEnd plans the next half-open chunk [cursor, end).
//   - Engine.apply runs the per-byte ByteFunc over one chunk.
//   - monitor converts chunk cost to a clamped percent and asks the Budget.
//   - AdjustSliceSize picks the next episode's slice from what one episode achieved.
//   - State, Continuation and Engine.Step carry a task across suspensions.
//
// # Host functions
//
// Load registers the functions below in a core.Module:
//
//	exor(Bin, Byte)        one-shot on a regular worker; blocks it for the whole buffer
//	exor_bad(Bin, Byte)    the same function, kept under the name used to demonstrate starvation
//	exor_dirty(Bin, Byte)  the same function on the dirty pool
//	exor_yield(Bin, Byte)  chunked; reschedules exor2 until done
//
// All of them return core.Tuple{output, yields}, or the input term itself
// when the input is empty.
package bitwise
