package rrdcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStater reports every filename as already existing, so Write never
// invokes the create collaborator unless told to via missing.
type fakeStater struct {
	missing map[string]bool
}

func (f *fakeStater) Stat(filename string) (bool, bool, error) {
	if f.missing != nil && f.missing[filename] {
		return false, false, nil
	}
	return true, true, nil
}

var cpuSchema = TypeSchema{Name: "cpu", DS: []DataSource{{Name: "value", Kind: Counter}}}

func cpuSample(host string, t int64, v uint64) Sample {
	return Sample{
		Time:   t,
		Host:   host,
		Plugin: "cpu",
		Type:   "cpu",
		Values: []Value{{Kind: Counter, U64: v}},
	}
}

func TestCore_WriteCreatesOnFirstSight(t *testing.T) {
	lib := newFakeLibrary()
	stater := &fakeStater{missing: map[string]bool{}}
	stater.missing["/d/h/cpu/cpu.rrd"] = true

	core, err := Open(Config{DataDir: "/d", CacheTimeout: 1000, CacheFlush: 1000}, lib, stater)
	require.NoError(t, err)
	defer core.Shutdown()

	require.NoError(t, core.Write(cpuSchema, cpuSample("h", 100, 1)))
}

func TestCore_ScenarioElevenSampleBatch(t *testing.T) {
	lib := newFakeLibrary()
	core, err := Open(Config{DataDir: "/d", CacheTimeout: 10, CacheFlush: 0}, lib, &fakeStater{})
	require.NoError(t, err)
	defer core.Shutdown()

	filename := "/d/h/cpu/cpu.rrd"
	for i := int64(0); i <= 10; i++ {
		require.NoError(t, core.Write(cpuSchema, cpuSample("h", 100+i, uint64(i))))
	}

	require.Eventually(t, func() bool {
		return len(lib.batchesFor(filename)) == 1
	}, time.Second, time.Millisecond)

	batch := lib.batchesFor(filename)[0]
	require.Len(t, batch, 11)
	assert.Equal(t, "100:0", batch[0])
	assert.Equal(t, "110:10", batch[10])
}

func TestCore_FlushPromotesNamedFileAheadOfAnother(t *testing.T) {
	lib := newFakeLibrary()
	core, err := Open(Config{DataDir: "/d", CacheTimeout: 1000, CacheFlush: 1000}, lib, &fakeStater{})
	require.NoError(t, err)
	defer core.Shutdown()

	require.NoError(t, core.Write(cpuSchema, cpuSample("h", 0, 1))) // -> A: h/cpu/cpu.rrd
	bSample := Sample{Time: 0, Host: "h2", Plugin: "cpu", Type: "cpu", Values: []Value{{Kind: Counter, U64: 1}}}
	require.NoError(t, core.Write(cpuSchema, bSample)) // -> B: h2/cpu/cpu.rrd

	// Force both into the queue (in map iteration order, so B may
	// already be behind A).
	require.NoError(t, core.Flush(forceFlushAge, ""))

	require.NoError(t, core.Flush(0, "h2/cpu/cpu"))

	fn, ok := core.queue.dequeueBlocking()
	require.True(t, ok)
	assert.Equal(t, "/d/h2/cpu/cpu.rrd", fn)
}

func TestCore_OutOfOrderSecondInsertRejected(t *testing.T) {
	lib := newFakeLibrary()
	core, err := Open(Config{DataDir: "/d", CacheTimeout: 1000, CacheFlush: 1000}, lib, &fakeStater{})
	require.NoError(t, err)
	defer core.Shutdown()

	require.NoError(t, core.Write(cpuSchema, cpuSample("h", 100, 1)))
	err = core.Write(cpuSchema, cpuSample("h", 99, 2))
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestCore_ShutdownDrainsPendingEntries(t *testing.T) {
	lib := newFakeLibrary()
	core, err := Open(Config{DataDir: "/d", CacheTimeout: 1000, CacheFlush: 1000}, lib, &fakeStater{})
	require.NoError(t, err)

	hosts := []string{"h1", "h2", "h3"}
	for _, h := range hosts {
		require.NoError(t, core.Write(cpuSchema, cpuSample(h, 0, 1)))
	}

	core.Shutdown()

	for _, h := range hosts {
		filename := "/d/" + h + "/cpu/cpu.rrd"
		assert.Len(t, lib.batchesFor(filename), 1)
	}
}

func TestCore_FlushOnNilCoreEquivalentIsSuccess(t *testing.T) {
	lib := newFakeLibrary()
	core, err := Open(Config{DataDir: "/d", CacheTimeout: 1000, CacheFlush: 1000}, lib, &fakeStater{})
	require.NoError(t, err)
	core.Shutdown()

	// Post-shutdown Flush must still report success.
	assert.NoError(t, core.Flush(0, ""))
}

func TestConfig_DataDirTrailingSlashStripped(t *testing.T) {
	c := Config{DataDir: "/var/lib/rrd/", CacheTimeout: 10}
	require.NoError(t, c.Validate())
	assert.Equal(t, "/var/lib/rrd", c.DataDir)
	assert.Equal(t, int64(100), c.CacheFlush, "CacheFlush must auto-raise to 10x CacheTimeout")
}

func TestConfig_BelowTwoDisablesCaching(t *testing.T) {
	for _, timeout := range []int64{0, 1} {
		c := Config{CacheTimeout: timeout, CacheFlush: 500}
		require.NoError(t, c.Validate())
		assert.Equal(t, int64(0), c.CacheTimeout)
		assert.Equal(t, int64(0), c.CacheFlush)
	}
}
