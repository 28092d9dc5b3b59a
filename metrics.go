package main

import (
	"context"
	"log"
	"time"
)

// RunMetrics logs engine stats every interval until ctx is canceled.
func RunMetrics(ctx context.Context, e *Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastInterrupts uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			interrupts := e.recorder.Interrupts()
			avail, heap, factory, doubles := e.apool.Buffers().Stats()
			queueDrops := e.queue.Overflows()
			actionDrops := e.recorder.Actions().Overflows()
			monitorDrops := e.monitor.Dropped()

			if interrupts != lastInterrupts || factory > 0 || doubles > 0 {
				log.Printf("[metrics] interrupts=%d pool=%d/%d factory=%d doublefree=%d "+
					"clockdrops=%d actiondrops=%d monitordrops=%d layers=%d",
					interrupts, avail, heap, factory, doubles,
					queueDrops, actionDrops, monitorDrops, e.lpool.Allocated())
			}
			lastInterrupts = interrupts
		}
	}
}
