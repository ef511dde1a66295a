package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/neehar-mavuduru/rrd-write-cache/internal/rlog"
)

// Uploader archives RRD ring files to GCS, one file at a time, off of
// an internal channel. Wire Enqueue into rrdcache.Core.SetArchiver so
// every file the background sweep garbage-collects gets archived
// automatically.
type Uploader struct {
	config     Config
	client     *storage.Client
	uploadChan chan string
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	stats      Stats
	statsMu    sync.RWMutex
	chunkMgr   *chunkManager
	stopOnce   sync.Once
}

// Stats tracks upload statistics.
type Stats struct {
	TotalFiles     int64
	Successful     int64
	Failed         int64
	TotalBytes     int64
	TotalDuration  time.Duration
	LastUploadTime time.Time
}

// NewUploader creates a GCS archive uploader. The returned Uploader is
// not yet accepting work; call Start.
func NewUploader(ctx context.Context, config Config) (*Uploader, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	uploadCtx, cancel := context.WithCancel(ctx)

	client, err := storage.NewClient(uploadCtx, option.WithGRPCConnectionPool(config.GRPCPoolSize))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("archive: create storage client: %w", err)
	}

	return &Uploader{
		config:     config,
		client:     client,
		uploadChan: make(chan string, config.ChannelBufferSize),
		ctx:        uploadCtx,
		cancel:     cancel,
		chunkMgr:   newChunkManager(config.MaxChunksPerCompose),
	}, nil
}

// Start spawns the background upload worker.
func (u *Uploader) Start() {
	u.wg.Add(1)
	go u.uploadWorker()
}

// Stop drains the pending queue, then tears down the GCS client. Safe
// to call more than once.
func (u *Uploader) Stop() {
	u.stopOnce.Do(func() {
		close(u.uploadChan)
		u.wg.Wait()
		u.cancel()
		u.client.Close()
	})
}

// Enqueue submits a local RRD file path for archival. Intended as the
// callback passed to rrdcache.Core.SetArchiver; it never blocks on the
// network, only on the channel buffer filling up.
func (u *Uploader) Enqueue(filePath string) {
	select {
	case u.uploadChan <- filePath:
	case <-u.ctx.Done():
	}
}

// Stats returns a snapshot of the current upload counters.
func (u *Uploader) Stats() Stats {
	u.statsMu.RLock()
	defer u.statsMu.RUnlock()
	return u.stats
}

func (u *Uploader) uploadWorker() {
	defer u.wg.Done()

	for filePath := range u.uploadChan {
		if filePath == "" {
			continue
		}

		if err := u.uploadFileWithRetry(filePath); err != nil {
			rlog.Errorf("archive: upload %s failed after %d retries: %v", filePath, u.config.MaxRetries, err)
			u.statsMu.Lock()
			u.stats.Failed++
			u.stats.TotalFiles++
			u.statsMu.Unlock()
			continue
		}

		u.statsMu.Lock()
		u.stats.Successful++
		u.stats.TotalFiles++
		u.stats.LastUploadTime = time.Now()
		u.statsMu.Unlock()
	}
}

func (u *Uploader) uploadFileWithRetry(filePath string) error {
	fileInfo, statErr := os.Stat(filePath)
	var fileSize int64
	if statErr == nil {
		fileSize = fileInfo.Size()
	}

	var lastErr error
	for attempt := 0; attempt <= u.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-u.ctx.Done():
				return fmt.Errorf("archive: uploader stopped")
			case <-time.After(u.config.RetryDelay):
			}
		}

		start := time.Now()
		err := u.uploadFile(filePath)
		duration := time.Since(start)

		if err == nil {
			if statErr == nil && fileSize > 0 {
				u.statsMu.Lock()
				u.stats.TotalBytes += fileSize
				u.stats.TotalDuration += duration
				u.statsMu.Unlock()
			}
			return nil
		}

		lastErr = err
		if attempt < u.config.MaxRetries {
			rlog.Warnf("archive: upload attempt %d/%d failed for %s: %v, retrying", attempt+1, u.config.MaxRetries+1, filePath, err)
		}
	}

	return fmt.Errorf("archive: upload failed after %d attempts: %w", u.config.MaxRetries+1, lastErr)
}

func (u *Uploader) uploadFile(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", filePath, err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("archive: stat %s: %w", filePath, err)
	}
	fileSize := fileInfo.Size()

	buf := make([]byte, fileSize)
	if _, err := io.ReadFull(file, buf); err != nil {
		return fmt.Errorf("archive: read %s: %w", filePath, err)
	}

	objectName := u.generateObjectName(filePath)
	if err := u.uploadParallel(u.ctx, objectName, buf); err != nil {
		return fmt.Errorf("archive: parallel upload of %s failed: %w", filePath, err)
	}

	if u.config.DeleteAfterUpload {
		if err := os.Remove(filePath); err != nil {
			rlog.Warnf("archive: remove local file %s after upload: %v", filePath, err)
		}
	}
	return nil
}

func (u *Uploader) generateObjectName(filePath string) string {
	name := filepath.Base(filePath)
	if u.config.ObjectPrefix != "" {
		return u.config.ObjectPrefix + name
	}
	return name
}

// uploadParallel splits buf into chunks, uploads each as a temporary
// object concurrently, then composes them into the final object in a
// single compose call. chunkMgr sizes the chunks against the known,
// bounded size of a ring file so the chunk count never needs to exceed
// GCS's 32-source compose limit in the first place.
func (u *Uploader) uploadParallel(ctx context.Context, object string, buf []byte) error {
	chunkSize := u.chunkMgr.chunkSize(int64(len(buf)), u.config.ChunkSize)
	numChunks := (len(buf) + chunkSize - 1) / chunkSize
	if numChunks == 0 {
		numChunks = 1
	}

	tempPrefix := fmt.Sprintf("%s.tmp.%d", object, time.Now().UnixNano())

	type chunkResult struct {
		object string
		err    error
	}
	results := make([]chunkResult, numChunks)
	var wg sync.WaitGroup

	for i := 0; i < numChunks; i++ {
		offset := i * chunkSize
		end := offset + chunkSize
		if end > len(buf) {
			end = len(buf)
		}

		wg.Add(1)
		go func(idx int, chunkData []byte) {
			defer wg.Done()
			chunkObject := fmt.Sprintf("%s.chunk.%d", tempPrefix, idx)

			w := u.client.Bucket(u.config.Bucket).Object(chunkObject).NewWriter(ctx)
			w.ChunkSize = chunkSize
			w.ContentType = "application/octet-stream"

			if _, err := w.Write(chunkData); err != nil {
				results[idx] = chunkResult{err: fmt.Errorf("write: %w", err)}
				return
			}
			if err := w.Close(); err != nil {
				results[idx] = chunkResult{err: fmt.Errorf("close: %w", err)}
				return
			}
			results[idx] = chunkResult{object: chunkObject}
		}(i, buf[offset:end])
	}
	wg.Wait()

	chunkObjects := make([]string, numChunks)
	for i, r := range results {
		if r.err != nil {
			u.chunkMgr.cleanup(ctx, u.client, u.config.Bucket, chunkObjects[:i])
			return fmt.Errorf("chunk %d: %w", i, r.err)
		}
		chunkObjects[i] = r.object
	}

	if err := u.chunkMgr.compose(ctx, u.client, u.config.Bucket, object, chunkObjects); err != nil {
		u.chunkMgr.cleanup(ctx, u.client, u.config.Bucket, chunkObjects)
		return fmt.Errorf("compose: %w", err)
	}

	attrs, err := u.client.Bucket(u.config.Bucket).Object(object).Attrs(ctx)
	if err != nil {
		u.chunkMgr.cleanup(ctx, u.client, u.config.Bucket, chunkObjects)
		return fmt.Errorf("attrs: %w", err)
	}
	if attrs.Size != int64(len(buf)) {
		u.chunkMgr.cleanup(ctx, u.client, u.config.Bucket, chunkObjects)
		_ = u.client.Bucket(u.config.Bucket).Object(object).Delete(ctx)
		return fmt.Errorf("size mismatch: expected %d, got %d", len(buf), attrs.Size)
	}

	u.chunkMgr.cleanup(ctx, u.client, u.config.Bucket, chunkObjects)
	return nil
}
