package rrdcache

import (
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/neehar-mavuduru/rrd-write-cache/internal/rlog"
)

// Stater abstracts the stat(2) collaborator Write treats as external:
// it decides whether a file needs creating.
type Stater interface {
	// Stat reports whether filename exists and, if so, whether it is a
	// regular file.
	Stat(filename string) (exists bool, isRegular bool, err error)
}

type osStater struct{}

func (osStater) Stat(filename string) (bool, bool, error) {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, info.Mode().IsRegular(), nil
}

// Core is the host-facing entry point wiring the cache, dispatch queue,
// writer, and external collaborators into four operations: Open/Write/
// Flush/Shutdown. The host owns exactly one Core per process, expressed
// here as an explicit struct rather than package-level globals, so
// tests can run several in parallel.
type Core struct {
	config Config
	cache  *Cache
	queue  *dispatchQueue
	lib    Library
	stater Stater

	writer *writer
	stats  WriterStats

	sweepTicker *time.Ticker
	sweepDone   chan struct{}

	mu     sync.Mutex
	closed bool
}

// Open validates config, wires the cache/queue/writer, spawns the
// writer goroutine and the periodic sweep, and returns a ready Core.
func Open(config Config, lib Library, stater Stater) (*Core, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("rrdcache: invalid config: %w", err)
	}
	if stater == nil {
		stater = osStater{}
	}

	queue := newDispatchQueue()
	cache := NewCache(queue, config.CacheTimeout, config.CacheFlush)

	c := &Core{
		config: config,
		cache:  cache,
		queue:  queue,
		lib:    lib,
		stater: stater,
	}

	c.writer = newWriter(cache, queue, lib, &c.stats)
	go c.writer.run()

	if config.CacheTimeout > 0 {
		c.startSweepLoop()
	}

	return c, nil
}

// SetArchiver registers a callback invoked, outside the cache lock,
// whenever the periodic or in-line sweep garbage-collects a long-idle
// empty entry. The forced sweep of Shutdown does not invoke it. See
// archive.Uploader for the intended consumer.
func (c *Core) SetArchiver(fn func(filename string)) {
	c.cache.onGC = fn
}

// startSweepLoop runs the periodic background sweep. Its interval is
// CacheFlush plus a random jitter of up to config.RandomTimeout seconds,
// picked once here; every file in this Core is swept on the same tick.
func (c *Core) startSweepLoop() {
	interval := c.config.sweepInterval()
	if c.config.RandomTimeout > 0 {
		jitter := time.Duration(rand.Int64N(c.config.RandomTimeout+1)) * time.Second
		interval += jitter
	}
	if interval <= 0 {
		return
	}

	c.sweepTicker = time.NewTicker(interval)
	c.sweepDone = make(chan struct{})

	go func() {
		for {
			select {
			case <-c.sweepTicker.C:
				c.cache.Sweep(c.config.CacheFlush)
			case <-c.sweepDone:
				return
			}
		}
	}()
}

// Write stats the target file, invokes the file-creation collaborator
// on first sight, then inserts the sample into the cache.
func (c *Core) Write(schema TypeSchema, sample Sample) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || c.cache == nil {
		return ErrClosed
	}

	filename, err := EncodeFilename(c.config.DataDir, sample)
	if err != nil {
		return err
	}

	exists, isRegular, err := c.stater.Stat(filename)
	if err != nil {
		return fmt.Errorf("rrdcache: stat %s: %w", filename, err)
	}
	if exists && !isRegular {
		return fmt.Errorf("rrdcache: %s exists and is not a regular file", filename)
	}

	if !exists {
		create := func() error {
			return c.lib.Create(filename, schema, sample, c.config.createConfig())
		}
		if c.config.CreateFilesAsync {
			go func() {
				if err := create(); err != nil {
					rlog.Errorf("async create failed for %s: %v", filename, err)
				}
			}()
			return nil
		}
		if err := create(); err != nil {
			return fmt.Errorf("rrdcache: create %s: %w", filename, err)
		}
	}

	token, err := EncodeUpdate(schema, sample)
	if err != nil {
		return err
	}

	if err := c.cache.Insert(filename, token, sample.Time); err != nil {
		rlog.Warnf("dropping sample for %s: %v", filename, err)
		return err
	}
	return nil
}

// Flush treats a Core that is not yet Open, or already Shutdown, as
// trivially successful, checked via the closed flag and a nil cache
// rather than a nil receiver.
func (c *Core) Flush(ageThreshold int64, identifier string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || c.cache == nil {
		return nil
	}

	if identifier == "" {
		c.cache.Sweep(ageThreshold)
		return nil
	}

	filename := identifier
	if c.config.DataDir != "" {
		filename = c.config.DataDir + "/" + identifier
	}
	filename += ".rrd"

	return c.cache.FlushOne(ageThreshold, filename)
}

// Shutdown performs a two-phase drain: force every non-empty entry into
// the queue, signal the writer, and block until it has fully drained
// and exited. Safe to call more than once.
func (c *Core) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.sweepTicker != nil {
		c.sweepTicker.Stop()
		close(c.sweepDone)
	}

	// Phase 1: force every non-empty entry into the queue.
	c.cache.Sweep(forceFlushAge)

	// Phase 2: signal shutdown and wait for the writer to drain and exit.
	c.queue.requestShutdown()
	<-c.writer.done
}

// Stats returns a snapshot of the writer's operational counters.
func (c *Core) Stats() StatsSnapshot {
	return c.stats.Snapshot()
}
