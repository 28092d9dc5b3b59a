// Package trace is a lock-free logging front end for code running on the
// audio interrupt. The interrupt must never block or allocate, so it cannot
// call log directly; instead it appends fixed-size records to a ring buffer
// which the maintenance goroutine drains to the standard logger.
//
// The ring is single-producer single-consumer: only the interrupt appends,
// only the maintenance goroutine drains. Overflow drops the newest record
// and counts the drop.
package trace

import (
	"fmt"
	"log"
	"sync/atomic"
)

// Severity levels. Error records indicate broken invariants; the engine
// carries on but the condition deserves investigation.
const (
	Error = 1
	Warn  = 2
	Info  = 3
	Debug = 4
)

const ringSize = 1024 // must be power of 2

// record is one pending trace message. The format string is expected to be a
// constant; formatting is deferred until drain time so the interrupt side
// only copies a pointer and two integers.
type record struct {
	level  int32
	format string
	a, b   int64
}

// Ring buffers trace records between the interrupt and the maintenance
// goroutine.
type Ring struct {
	records [ringSize]record
	head    atomic.Int32 // next write slot; advanced only by the producer
	tail    atomic.Int32 // next read slot; advanced only by the consumer
	dropped atomic.Uint64
	level   atomic.Int32
}

// global ring used by the package-level functions. The engine has exactly one
// interrupt thread, so one ring suffices.
var std = NewRing()

// NewRing returns a ring accepting records at Info and below.
func NewRing() *Ring {
	r := &Ring{}
	r.level.Store(Info)
	return r
}

// SetLevel sets the maximum level that will be recorded.
func (r *Ring) SetLevel(level int) {
	r.level.Store(int32(level))
}

// Add appends a record. Safe to call from the interrupt; never blocks.
// format may use at most two %d-style verbs matching a and b.
func (r *Ring) Add(level int, format string, a, b int64) {
	if int32(level) > r.level.Load() {
		return
	}
	head := r.head.Load()
	next := (head + 1) & (ringSize - 1)
	if next == r.tail.Load() {
		r.dropped.Add(1)
		return
	}
	r.records[head] = record{level: int32(level), format: format, a: a, b: b}
	r.head.Store(next)
}

// Drain formats and logs every pending record. Called periodically by the
// maintenance goroutine; must not be called concurrently with itself.
func (r *Ring) Drain() int {
	n := 0
	for {
		tail := r.tail.Load()
		if tail == r.head.Load() {
			break
		}
		rec := r.records[tail]
		r.tail.Store((tail + 1) & (ringSize - 1))
		log.Printf("[trace%d] %s", rec.level, format(rec.format, rec.a, rec.b))
		n++
	}
	if d := r.dropped.Swap(0); d > 0 {
		log.Printf("[trace] dropped %d records", d)
		n += int(d)
	}
	return n
}

// format applies only as many of the deferred arguments as the record's
// format string consumes.
func format(f string, a, b int64) string {
	switch verbCount(f) {
	case 0:
		return f
	case 1:
		return fmt.Sprintf(f, a)
	default:
		return fmt.Sprintf(f, a, b)
	}
}

func verbCount(f string) int {
	n := 0
	for i := 0; i < len(f); i++ {
		if f[i] == '%' {
			if i+1 < len(f) && f[i+1] == '%' {
				i++
				continue
			}
			n++
		}
	}
	return n
}

// Pending reports whether undrained records exist.
func (r *Ring) Pending() bool {
	return r.head.Load() != r.tail.Load()
}

// Std returns the process-wide ring drained by the maintenance goroutine.
func Std() *Ring { return std }

// Printf appends a record to the process-wide ring.
func Printf(level int, format string, a, b int64) {
	std.Add(level, format, a, b)
}

// Errorf records a broken-invariant message.
func Errorf(format string, a, b int64) { std.Add(Error, format, a, b) }

// Warnf records a recoverable anomaly.
func Warnf(format string, a, b int64) { std.Add(Warn, format, a, b) }

// Infof records normal operational detail.
func Infof(format string, a, b int64) { std.Add(Info, format, a, b) }
