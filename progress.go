package ggpk

import (
	"sync"
	"sync/atomic"

	"github.com/meigma/ggpk/internal/packtype"
)

// Re-export progress types from internal/packtype.
type (
	// ProgressEvent represents a progress update during scan, replace,
	// import, extraction or check.
	ProgressEvent = packtype.ProgressEvent

	// ProgressStage identifies the current phase of an operation.
	ProgressStage = packtype.ProgressStage

	// ProgressFunc receives progress updates.
	// It is always called from a single goroutine.
	ProgressFunc = packtype.ProgressFunc
)

// Re-export progress stage constants.
const (
	StageScanning   = packtype.StageScanning
	StageResolving  = packtype.StageResolving
	StageReplacing  = packtype.StageReplacing
	StageImporting  = packtype.StageImporting
	StageExtracting = packtype.StageExtracting
	StageChecking   = packtype.StageChecking
)

// progressBuffer is the number of events queued before new ones are dropped.
const progressBuffer = 256

// progressReporter forwards events to a ProgressFunc from its own goroutine.
//
// report never blocks: when the queue is full the event is dropped, so a
// slow callback can delay nothing but its own view of progress.
type progressReporter struct {
	fn      ProgressFunc
	ch      chan ProgressEvent
	wg      sync.WaitGroup
	dropped atomic.Int64
	once    sync.Once
}

// newProgressReporter starts a reporter. A nil fn yields a nil reporter,
// whose methods are no-ops.
func newProgressReporter(fn ProgressFunc) *progressReporter {
	if fn == nil {
		return nil
	}
	r := &progressReporter{fn: fn, ch: make(chan ProgressEvent, progressBuffer)}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for ev := range r.ch {
			r.fn(ev)
		}
	}()
	return r
}

// report queues ev for delivery or drops it if the queue is full.
func (r *progressReporter) report(ev ProgressEvent) {
	if r == nil {
		return
	}
	select {
	case r.ch <- ev:
	default:
		r.dropped.Add(1)
	}
}

// close waits for queued events to be delivered and returns the number
// of events dropped.
func (r *progressReporter) close() int64 {
	if r == nil {
		return 0
	}
	r.once.Do(func() {
		close(r.ch)
		r.wg.Wait()
	})
	return r.dropped.Load()
}
