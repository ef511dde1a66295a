package rrdcache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLibrary struct {
	mu      sync.Mutex
	updates map[string][][]string
	failFor map[string]bool
}

func newFakeLibrary() *fakeLibrary {
	return &fakeLibrary{
		updates: make(map[string][][]string),
		failFor: make(map[string]bool),
	}
}

func (f *fakeLibrary) Create(string, TypeSchema, Sample, CreateConfig) error { return nil }

func (f *fakeLibrary) Update(filename string, tokens []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[filename] {
		return errors.New("simulated rrd update failure")
	}
	cp := append([]string(nil), tokens...)
	f.updates[filename] = append(f.updates[filename], cp)
	return nil
}

func (f *fakeLibrary) batchesFor(filename string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates[filename]
}

func TestWriter_DeliversStolenBatchInOrder(t *testing.T) {
	clock := int64(0)
	q := newDispatchQueue()
	cache := NewCache(q, 1000, 1000)
	cache.now = func() int64 { return clock }
	lib := newFakeLibrary()
	var stats WriterStats
	w := newWriter(cache, q, lib, &stats)
	go w.run()
	defer func() {
		q.requestShutdown()
		<-w.done
	}()

	for i, t64 := range []int64{100, 101, 102} {
		require.NoError(t, cache.Insert("A.rrd", "tok"+string(rune('0'+i)), t64))
	}
	cache.Sweep(forceFlushAge)

	require.Eventually(t, func() bool {
		return len(lib.batchesFor("A.rrd")) == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, []string{"tok0", "tok1", "tok2"}, lib.batchesFor("A.rrd")[0])
	assert.Equal(t, int64(1), stats.BatchesWritten.Load())
}

func TestWriter_FailedUpdateDropsBatchWithoutRequeue(t *testing.T) {
	q := newDispatchQueue()
	cache := NewCache(q, 1000, 1000)
	lib := newFakeLibrary()
	lib.failFor["bad.rrd"] = true
	var stats WriterStats
	w := newWriter(cache, q, lib, &stats)
	go w.run()
	defer func() {
		q.requestShutdown()
		<-w.done
	}()

	require.NoError(t, cache.Insert("bad.rrd", "t", 1))
	cache.Sweep(forceFlushAge)

	require.Eventually(t, func() bool {
		return stats.WriteErrors.Load() == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, int64(0), stats.BatchesWritten.Load())
	assert.False(t, q.promote("bad.rrd"), "a failed batch must not be re-enqueued")
}
