package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"strata/internal/trace"
)

var (
	errMaintenanceBusy = errors.New("maintenance thread not responding")
	errNothingToSave   = errors.New("nothing to save")
)

// maintenanceInterval is the periodic wake used when no pool signals
// arrive.
const maintenanceInterval = 100 * time.Millisecond

// stuckInterruptTicks is how many consecutive maintenance cycles may pass
// with the interrupt counter frozen while inside the callback before the
// engine declares an emergency.
const stuckInterruptTicks = 20

// RunMaintenance is the engine maintenance goroutine: it refills pools,
// drains the trace ring, executes deferred file I/O, exports state to the
// monitor, and watches for a stuck interrupt. Returns when stop closes.
func (e *Engine) RunMaintenance(stop <-chan struct{}) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	var lastInterrupts uint64
	stuck := 0

	for {
		select {
		case <-stop:
			trace.Std().Drain()
			return

		case <-e.apool.Buffers().Wake():
			e.apool.Maintain()

		case req := <-e.io:
			e.executeIO(req)

		case <-ticker.C:
			e.apool.Maintain()
			trace.Std().Drain()
			e.monitor.PublishState(e)

			// stuck-interrupt detection: the counter frozen across many
			// cycles while the callback claims to be running means the
			// audio thread is wedged
			interrupts := e.recorder.Interrupts()
			if interrupts == lastInterrupts && e.recorder.InInterrupt() {
				stuck++
				if stuck >= stuckInterruptTicks {
					e.emergencyExit()
					return
				}
			} else {
				stuck = 0
			}
			lastInterrupts = interrupts
		}
	}
}

// emergencyExit reports a wedged audio callback, drains the trace ring and
// closes the engine's stop channel; main shuts the process down on it.
func (e *Engine) emergencyExit() {
	log.Printf("[maintenance] EMERGENCY: audio interrupt stuck for %v, abandoning stream",
		time.Duration(stuckInterruptTicks)*maintenanceInterval)
	trace.Std().Drain()
	close(e.stopCh)
}

// Stopped returns a channel closed when the engine declares an emergency.
func (e *Engine) Stopped() <-chan struct{} { return e.stopCh }

// nextQuickSavePath returns the first unused numbered path for a quick
// save: name.wav, name-2.wav, ...
func nextQuickSavePath(dir, name string) string {
	path := filepath.Join(dir, name+".wav")
	for n := 2; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%d.wav", name, n))
	}
}
