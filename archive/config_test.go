package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ValidateRequiresBucket(t *testing.T) {
	c := Config{}
	err := c.Validate()
	require.Error(t, err)
}

func TestConfig_ValidateFillsDefaults(t *testing.T) {
	c := Config{Bucket: "metrics-archive"}
	require.NoError(t, c.Validate())

	assert.Equal(t, 32*1024*1024, c.ChunkSize)
	assert.Equal(t, 32, c.MaxChunksPerCompose)
	assert.Equal(t, 3, c.MaxRetries)
	assert.Equal(t, 5*time.Second, c.RetryDelay)
	assert.Equal(t, 64, c.GRPCPoolSize)
	assert.Equal(t, 100, c.ChannelBufferSize)
}

func TestDefaultConfig_DeletesAfterUpload(t *testing.T) {
	c := DefaultConfig("metrics-archive")
	assert.True(t, c.DeleteAfterUpload)
	require.NoError(t, c.Validate())
}
