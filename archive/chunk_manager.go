package archive

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/neehar-mavuduru/rrd-write-cache/internal/rlog"
)

// chunkManager composes parallel-uploaded chunk objects into the final
// archived object.
//
// A log shipper has to worry about a file growing without bound, so a
// fixed chunk size can blow past GCS's 32-source compose limit and force
// an intermediate level of composes. A ring file can't: its size is
// bounded at creation time (never more than the header plus RRARows
// rows times the per-row byte stride), and it is known before the
// upload starts, so the upload
// path can work backward from that bound instead — pick a chunk size
// large enough that the file never splits into more than
// maxChunksPerCompose pieces, and a single compose call always
// suffices.
type chunkManager struct {
	maxChunksPerCompose int
}

func newChunkManager(maxChunksPerCompose int) *chunkManager {
	if maxChunksPerCompose <= 0 {
		maxChunksPerCompose = 32
	}
	return &chunkManager{maxChunksPerCompose: maxChunksPerCompose}
}

// chunkSize returns the chunk size to use for a file of fileSize bytes:
// configuredSize, raised if necessary so fileSize splits into at most
// maxChunksPerCompose chunks. Ring files are bounded and known ahead of
// the upload, so this computation always succeeds in one shot; there is
// no case where the resulting chunk count still exceeds the compose
// limit and a second compose level is needed.
func (cm *chunkManager) chunkSize(fileSize int64, configuredSize int) int {
	if fileSize <= 0 {
		return configuredSize
	}
	minSize := int((fileSize + int64(cm.maxChunksPerCompose) - 1) / int64(cm.maxChunksPerCompose))
	if configuredSize > minSize {
		return configuredSize
	}
	return minSize
}

// compose combines chunkObjects into a single destination object.
func (cm *chunkManager) compose(ctx context.Context, client *storage.Client, bucket, object string, chunkObjects []string) error {
	if len(chunkObjects) == 0 {
		return fmt.Errorf("archive: no chunks to compose")
	}
	if len(chunkObjects) > cm.maxChunksPerCompose {
		return fmt.Errorf("archive: %d chunks exceeds the %d-source compose limit; raise ChunkSize", len(chunkObjects), cm.maxChunksPerCompose)
	}

	bkt := client.Bucket(bucket)
	dst := bkt.Object(object)

	sources := make([]*storage.ObjectHandle, len(chunkObjects))
	for i, chunkObj := range chunkObjects {
		sources[i] = bkt.Object(chunkObj)
	}

	composer := dst.ComposerFrom(sources...)
	composer.ContentType = "application/octet-stream"

	if _, err := composer.Run(ctx); err != nil {
		return fmt.Errorf("archive: compose failed: %w", err)
	}
	return nil
}

func (cm *chunkManager) cleanup(ctx context.Context, client *storage.Client, bucket string, objects []string) {
	bkt := client.Bucket(bucket)
	for _, obj := range objects {
		if err := bkt.Object(obj).Delete(ctx); err != nil {
			rlog.Warnf("archive: cleanup object %s: %v", obj, err)
		}
	}
}
