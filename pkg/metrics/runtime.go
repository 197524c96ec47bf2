package metrics

import (
	"runtime"
	"sync"
	"time"
)

// CollectRuntime samples Go runtime statistics into gauges named
// <prefix>_goroutines, <prefix>_heap_alloc_bytes, <prefix>_heap_objects and
// <prefix>_gc_cycles_total every interval. The first sample is taken before
// it returns. Call the returned func to stop sampling.
func (r *Registry) CollectRuntime(prefix string, interval time.Duration) (stop func()) {
	goroutines := r.Gauge(prefix+"_goroutines", "Current number of goroutines")
	heapAlloc := r.Gauge(prefix+"_heap_alloc_bytes", "Bytes of allocated heap objects")
	heapObjects := r.Gauge(prefix+"_heap_objects", "Number of allocated heap objects")
	gcCycles := r.Gauge(prefix+"_gc_cycles_total", "Completed GC cycles")

	sample := func() {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		goroutines.Set(int64(runtime.NumGoroutine()))
		heapAlloc.Set(int64(ms.HeapAlloc))
		heapObjects.Set(int64(ms.HeapObjects))
		gcCycles.Set(int64(ms.NumGC))
	}
	sample()

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				sample()
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
