package rrdcache

import (
	"fmt"
	"sync"
	"time"
)

// forceFlushAge is the age_threshold sweep() treats as "queue
// everything non-empty, delete everything empty", used by shutdown's
// drain.
const forceFlushAge = -1

// Cache is the per-file accumulator: a mutex-protected map of filename
// to cacheEntry, plus the shared dispatch queue that insert/sweep feed.
// One Cache instance backs one Core.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry

	queue           *dispatchQueue
	cacheTimeout    int64 // seconds; <2 disables time-based queueing
	cacheFlushEvery int64 // seconds between in-line sweeps
	cacheFlushLast  int64 // unix seconds of the last sweep

	// onGC, if set, is invoked with a filename just removed by sweep's
	// empty-entry GC, after the cache mutex has been released. Used by
	// Core to hand finalized files to the optional archival uploader.
	onGC func(filename string)

	now func() int64 // injectable for tests; defaults to wall clock
}

// NewCache constructs a Cache bound to queue. cacheTimeout < 2 disables
// all time-based queueing: inserts never enqueue on age, only an
// explicit flushOne does, and the in-line sweep is disabled by forcing
// cacheFlushEvery to 0 too.
func NewCache(queue *dispatchQueue, cacheTimeout, cacheFlushEvery int64) *Cache {
	if cacheTimeout < 2 {
		cacheTimeout = 0
		cacheFlushEvery = 0
	}
	c := &Cache{
		entries:         make(map[string]*cacheEntry),
		queue:           queue,
		cacheTimeout:    cacheTimeout,
		cacheFlushEvery: cacheFlushEvery,
		now:             func() int64 { return time.Now().Unix() },
	}
	c.cacheFlushLast = c.now()
	return c
}

// markQueued enqueues filename (at pos) and sets the entry's flag, the
// one and only place the cache and queue mutexes are both touched for a
// given transition. The cache mutex must already be held by the caller;
// markQueued acquires the queue mutex strictly after, so the cache lock
// always nests outside the queue lock and the two can never deadlock
// against each other.
func (c *Cache) markQueued(e *cacheEntry, filename string, pos queuePosition) {
	e.flags = flagQueued
	c.queue.enqueue(filename, pos)
}

// Insert appends token (timestamped t) to filename's buffer, creating
// the entry on first sight. It enforces strict monotonicity, and
// enqueues the file once its batch spans cacheTimeout seconds. It also
// runs the in-line sweep if more than cacheFlushEvery seconds have
// elapsed since the last one; filenames that sweep GCs are reported to
// onGC after the cache mutex is released.
func (c *Cache) Insert(filename, token string, t int64) error {
	var gc []string
	// Deferred before the Unlock below, so it runs after the mutex is released.
	defer func() {
		if c.onGC != nil {
			for _, fn := range gc {
				c.onGC(fn)
			}
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[filename]
	if !ok {
		e = newCacheEntry()
		c.entries[filename] = e
	}

	if err := e.append(token, t); err != nil {
		return err
	}

	if c.cacheTimeout > 0 && e.flags != flagQueued && e.age(t) >= c.cacheTimeout {
		c.markQueued(e, filename, Back)
	}

	if c.cacheTimeout > 0 && c.cacheFlushEvery > 0 {
		now := c.now()
		if now-c.cacheFlushLast > c.cacheFlushEvery {
			gc = c.sweepLocked(c.cacheFlushEvery, now)
		}
	}

	return nil
}

// Sweep runs the background pass: promote entries whose batch is at
// least ageThreshold seconds old, and garbage-collect empty entries whose
// last accepted sample is at least as old. ageThreshold == forceFlushAge
// forces every non-queued non-empty entry to be queued (the shutdown
// drain).
//
// Any filenames GC'd during this sweep are reported to onGC after the
// cache mutex is released, except in a forceFlushAge sweep, which
// deletes every empty entry without reporting it.
func (c *Cache) Sweep(ageThreshold int64) {
	c.mu.Lock()
	now := c.now()
	gc := c.sweepLocked(ageThreshold, now)
	c.mu.Unlock()

	if c.onGC != nil && ageThreshold != forceFlushAge {
		for _, fn := range gc {
			c.onGC(fn)
		}
	}
}

// sweepLocked is Sweep's body; caller must hold c.mu. It returns the
// filenames collected for deletion so the caller can notify onGC
// outside the lock.
func (c *Cache) sweepLocked(ageThreshold, now int64) []string {
	var toDelete []string

	for filename, e := range c.entries {
		if e.flags == flagQueued {
			continue
		}

		force := ageThreshold == forceFlushAge
		if !e.empty() {
			if force || e.age(now) >= ageThreshold {
				c.markQueued(e, filename, Back)
			}
			continue
		}

		// empty, non-queued: candidate for GC once sufficiently idle.
		if force || now-e.lastValue >= ageThreshold {
			toDelete = append(toDelete, filename)
		}
	}

	for _, filename := range toDelete {
		delete(c.entries, filename)
	}

	c.cacheFlushLast = now
	return toDelete
}

// FlushOne is the host-facing targeted flush: promote filename to the
// queue head if already queued, enqueue it at the front if its age
// clears ageThreshold, or report ErrNotFound if no such entry exists.
// A file already at the queue head, or too young to flush, is a no-op
// that still reports success.
func (c *Cache) FlushOne(ageThreshold int64, filename string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[filename]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, filename)
	}

	if e.flags == flagQueued {
		c.queue.promote(filename)
		return nil
	}

	if e.empty() {
		return nil
	}

	now := c.now()
	if e.age(now) < ageThreshold {
		return nil
	}

	c.markQueued(e, filename, Front)
	return nil
}

// steal locks the cache, removes filename's entry's buffer (invariant:
// the entry must exist, since only queued files are dequeued and
// queued ⇒ present), and returns it. Used exclusively by the writer.
func (c *Cache) steal(filename string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[filename]
	if !ok {
		// Defensive: invariant 3 says this can't happen. Returning nil
		// lets the writer log and move on instead of panicking.
		return nil
	}
	return e.steal()
}

// Len reports the number of tracked filenames. Test/diagnostic use.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
