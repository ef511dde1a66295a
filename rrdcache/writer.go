package rrdcache

import (
	"sync/atomic"

	"github.com/neehar-mavuduru/rrd-write-cache/internal/rlog"
)

// WriterStats are the atomic counters the writer loop maintains,
// mirroring the kind of operational counters a flush worker typically
// exposes for its own write path.
type WriterStats struct {
	BatchesWritten atomic.Int64
	WriteErrors    atomic.Int64
	TokensWritten  atomic.Int64
}

// Snapshot copies the current counter values into a plain, copyable
// struct suitable for returning by value.
func (s *WriterStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		BatchesWritten: s.BatchesWritten.Load(),
		WriteErrors:    s.WriteErrors.Load(),
		TokensWritten:  s.TokensWritten.Load(),
	}
}

// StatsSnapshot is a point-in-time, copyable view of WriterStats.
type StatsSnapshot struct {
	BatchesWritten int64
	WriteErrors    int64
	TokensWritten  int64
}

// writer is the single dedicated background worker described in spec
// §4.4: dequeue a filename, steal its cache buffer, push the batch to
// the RRD library, free.
type writer struct {
	cache *Cache
	queue *dispatchQueue
	lib   Library
	stats *WriterStats
	done  chan struct{}
}

func newWriter(cache *Cache, queue *dispatchQueue, lib Library, stats *WriterStats) *writer {
	return &writer{
		cache: cache,
		queue: queue,
		lib:   lib,
		stats: stats,
		done:  make(chan struct{}),
	}
}

// run is the writer's main loop. It returns once dequeueBlocking
// reports shutdown and the queue has fully drained.
func (w *writer) run() {
	defer close(w.done)

	for {
		filename, ok := w.queue.dequeueBlocking()
		if !ok {
			return
		}
		w.writeOne(filename)
	}
}

// writeOne steals filename's buffer under the cache mutex, releases it,
// and pushes the batch to the library. A failed update drops the batch
// and logs a warning; it is never re-enqueued, since retrying a
// structurally bad file would starve the queue.
func (w *writer) writeOne(filename string) {
	tokens := w.cache.steal(filename)
	if len(tokens) == 0 {
		return
	}

	if err := w.lib.Update(filename, tokens); err != nil {
		w.stats.WriteErrors.Add(1)
		rlog.Warnf("rrd update failed for %s (%d tokens dropped): %v", filename, len(tokens), err)
		return
	}

	w.stats.BatchesWritten.Add(1)
	w.stats.TokensWritten.Add(int64(len(tokens)))
}
