// Package archive uploads RRD ring files the cache has garbage
// collected (or that an operator has retired) to Google Cloud Storage,
// so cold metrics history survives past local disk retention.
package archive

import (
	"fmt"
	"time"
)

// Config holds the configuration for the GCS archive uploader.
type Config struct {
	Bucket              string        // GCS bucket name (required)
	ObjectPrefix        string        // object prefix, e.g. "rrd-archive/"
	ChunkSize           int           // preferred parallel-chunk size in bytes (default: 32MB); raised per file so it never splits into more than MaxChunksPerCompose chunks
	MaxChunksPerCompose int           // GCS compose limit (default: 32)
	MaxRetries          int           // max retry attempts per file (default: 3)
	RetryDelay          time.Duration // delay between retries (default: 5s)
	GRPCPoolSize        int           // GCS client gRPC connection pool size (default: 64)
	ChannelBufferSize   int           // upload channel buffer size (default: 100)
	DeleteAfterUpload   bool          // remove the local ring file once archived
}

// DefaultConfig returns a Config with baseline defaults for bucket.
func DefaultConfig(bucket string) Config {
	return Config{
		Bucket:              bucket,
		ChunkSize:           32 * 1024 * 1024,
		MaxChunksPerCompose: 32,
		MaxRetries:          3,
		RetryDelay:          5 * time.Second,
		GRPCPoolSize:        64,
		ChannelBufferSize:   100,
		DeleteAfterUpload:   true,
	}
}

// Validate checks the configuration and fills in defaults for anything
// left at its zero value.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("archive: bucket name is required")
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 32 * 1024 * 1024
	}
	if c.MaxChunksPerCompose <= 0 {
		c.MaxChunksPerCompose = 32
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.GRPCPoolSize <= 0 {
		c.GRPCPoolSize = 64
	}
	if c.ChannelBufferSize <= 0 {
		c.ChannelBufferSize = 100
	}
	return nil
}
