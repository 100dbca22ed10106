// Package timeslice hosts CPU-bound native functions on cooperative worker
// pools without letting one long call starve everything else.
//
// The host model follows Chromium-style task runners: work is posted as
// tasks to a GoroutineThreadPool, and a SequencedTaskRunner runs its tasks
// one at a time on whichever worker is free. On top of that, core.Module
// runs named native functions in hops. Each hop gets a fresh timeslice
// quantum; a function that spends its quantum returns through
// core.Env.Schedule and is re-posted, so other tasks get a turn in between.
//
// # Quick Start
//
//	if err := timeslice.InitGlobalHost(4, 2); err != nil {
//		log.Fatal(err)
//	}
//	defer timeslice.ShutdownGlobalHost()
//
//	res, err := timeslice.Exor(ctx, bitwise.FnExorYield, payload, 0x5a)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(len(res.Output), res.Yields)
//
// # Entry points
//
// The bitwise package registers four functions. exor and exor_bad run the
// whole buffer in one hop and hold a regular worker for as long as that
// takes. exor_dirty does the same on the dirty pool. exor_yield cuts the
// work into chunks, sized so that each hop fits one quantum.
//
// # Observability
//
// core.Metrics receives task durations, queue depth, reschedules and the
// quantum each hop consumed; observability/prometheus exports them. The
// probe package measures how late a heartbeat task runs, which is the
// direct symptom of a starved pool.
package timeslice
