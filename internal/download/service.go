package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/floostack/transcoder"
	"github.com/google/uuid"
	"github.com/telegrab/telegrab/internal/event"
	"github.com/telegrab/telegrab/internal/ffmpeg"
	"github.com/telegrab/telegrab/internal/ytdlp"
	"github.com/telegrab/telegrab/pkg/logger"
	"github.com/telegrab/telegrab/pkg/worker"
)

var log = logger.Get("DownloadServ")

var ErrItemNotFound = errors.New("no download item found with the ID provided")

type (
	// Fetcher is the downloader used to pull media from the source site.
	Fetcher interface {
		Download(ctx context.Context, url string, mode ytdlp.Mode, height int, workdir string) (*ytdlp.Result, error)
		ListPlaylist(ctx context.Context, url string, limit int) ([]string, error)
	}

	// Shrinker re-encodes oversized video files down towards a target size.
	Shrinker interface {
		Shrink(ctx context.Context, inputPath string, outputPath string, targetMB int, height int, onProgress ffmpeg.ProgressCallback) error
	}

	// DataStore persists finalised downloads for later retrieval (history).
	// A nil DataStore disables persistence entirely.
	DataStore interface {
		SaveCompleted(item *DownloadItem, delivered bool) error
	}

	// downloadService manages a queue of download items and a pool of
	// workers which process them. Items are processed through a fetch stage
	// and, for oversized videos, a shrink stage. Terminal items remain in
	// the queue (so their outcome can be inspected and delivered) until
	// Finish is called for them.
	downloadService struct {
		*sync.Mutex

		config     Config
		fetcher    Fetcher
		shrinker   Shrinker
		dataStore  DataStore
		eventBus   event.EventCoordinator
		workerPool *worker.WorkerPool

		items []*DownloadItem
		ctx   context.Context
	}
)

// New creates a new downloadService, creating the scratch directory if it
// does not exist.
func New(config Config, fetcher Fetcher, shrinker Shrinker, dataStore DataStore, eventBus event.EventCoordinator) (*downloadService, error) {
	if config.ScratchPath != "" {
		if err := os.MkdirAll(config.ScratchPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create scratch directory '%s': %w", config.ScratchPath, err)
		}
	}

	return &downloadService{
		Mutex:      &sync.Mutex{},
		config:     config,
		fetcher:    fetcher,
		shrinker:   shrinker,
		dataStore:  dataStore,
		eventBus:   eventBus,
		workerPool: worker.NewWorkerPool(),
		items:      make([]*DownloadItem, 0),
	}, nil
}

// Run spawns the download workers and blocks until the context is cancelled.
func (service *downloadService) Run(ctx context.Context) error {
	service.ctx = ctx

	parallelism := service.config.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	for i := 0; i < parallelism; i++ {
		if err := service.workerPool.PushWorker(worker.NewWorker(fmt.Sprintf("download-worker-%d", i), service.PerformItemDownload)); err != nil {
			return fmt.Errorf("failed to push download worker: %w", err)
		}
	}

	if err := service.workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start download worker pool: %w", err)
	}
	<-ctx.Done()

	// Wait for in-flight workers before sweeping the scratch space; items
	// awaiting delivery at shutdown are never Finished by their handler.
	service.workerPool.Close()
	service.removeRemainingWorkdirs()
	return nil
}

// removeRemainingWorkdirs deletes the scratch directory of every item still
// queued. Only called during shutdown, once the worker pool has drained.
func (service *downloadService) removeRemainingWorkdirs() {
	service.Lock()
	defer service.Unlock()

	for _, item := range service.items {
		if item.workdir == "" {
			continue
		}

		if err := os.RemoveAll(item.workdir); err != nil {
			log.Emit(logger.WARNING, "Failed to cleanup working directory '%s': %v\n", item.workdir, err)
		}
	}
}

// Submit queues a new download for the request provided, waking the worker
// pool. The URL must belong to one of the allowed hosts. A non-positive
// height is replaced with the configured default.
func (service *downloadService) Submit(request Request) (*DownloadItem, error) {
	if !IsAllowedURL(request.URL, service.config.HostAllowlist()) {
		return nil, fmt.Errorf("URL '%s' is not from an allowed host", request.URL)
	}

	if request.Height <= 0 {
		request.Height = service.config.DefaultHeight
	}

	item := newItem(request)

	service.Lock()
	service.items = append(service.items, item)
	service.Unlock()

	log.Emit(logger.NEW, "Queued %s\n", item)
	service.eventBus.Dispatch(event.DOWNLOAD_UPDATE, item.ID)
	if err := service.workerPool.WakeupWorkers(); err != nil {
		log.Emit(logger.DEBUG, "Failed to wakeup download workers: %v\n", err)
	}

	return item, nil
}

// ListPlaylist enumerates the entries of a playlist or channel URL. A limit
// of zero applies the configured default; a negative limit returns all
// entries.
func (service *downloadService) ListPlaylist(ctx context.Context, url string, limit int) ([]string, error) {
	if !IsAllowedURL(url, service.config.HostAllowlist()) {
		return nil, fmt.Errorf("URL '%s' is not from an allowed host", url)
	}

	if limit == 0 {
		limit = service.config.PlaylistDefaultLimit
	} else if limit < 0 {
		limit = 0
	}

	return service.fetcher.ListPlaylist(ctx, url, limit)
}

// PerformItemDownload claims an idle item from the queue and runs it through
// the download pipeline. If no work is available, the worker goes back to
// sleep.
func (service *downloadService) PerformItemDownload(w worker.Worker) (bool, error) {
	if item := service.claimIdleItem(); item != nil {
		log.Emit(logger.DEBUG, "Worker '%s' claimed %s\n", w.Label(), item)
		service.runPipeline(item)
		return true, nil
	}

	return false, nil
}

// claimIdleItem scans the queue for a WAITING item and transitions it to
// FETCHING, attaching the cancellation function used by Cancel.
func (service *downloadService) claimIdleItem() *DownloadItem {
	service.Lock()
	defer service.Unlock()

	for _, item := range service.items {
		if item.State == WAITING {
			itemCtx, cancel := context.WithCancel(service.ctx)
			item.State = FETCHING
			item.cancel = cancel
			item.ctx = itemCtx
			return item
		}
	}

	return nil
}

// runPipeline performs the fetch and (conditional) shrink stages for the
// item provided, leaving it in a terminal state and closing it's done
// channel. Errors are recorded as troubles on the item rather than returned.
func (service *downloadService) runPipeline(item *DownloadItem) {
	service.eventBus.Dispatch(event.DOWNLOAD_UPDATE, item.ID)

	workdir, err := os.MkdirTemp(service.config.ScratchPath, "dl-*")
	if err != nil {
		service.concludeWithTrouble(item, NewTrouble(fmt.Errorf("failed to create working directory: %w", err), FETCH_FAILURE))
		return
	}
	item.workdir = workdir

	result, err := service.fetcher.Download(item.ctx, item.Request.URL, item.Request.Mode, item.Request.Height, workdir)
	if err != nil {
		if item.ctx.Err() != nil {
			service.concludeCancelled(item)
			return
		}

		service.concludeWithTrouble(item, NewTrouble(err, FETCH_FAILURE))
		return
	}

	stat, err := os.Stat(result.Path)
	if err != nil {
		service.concludeWithTrouble(item, NewTrouble(fmt.Errorf("downloaded file missing from disk: %w", err), FETCH_FAILURE))
		return
	}
	item.setFetchResult(result.Title, result.Path, stat.Size())

	targetBytes := int64(service.config.TargetMB) * 1024 * 1024
	if item.Request.Mode == ytdlp.VIDEO && item.SizeBytes() > targetBytes {
		service.runShrinkStage(item)
	}

	if item.ctx.Err() != nil {
		service.concludeCancelled(item)
		return
	}

	service.setItemState(item, READY)
	log.Emit(logger.SUCCESS, "%s complete (%.1fMB on disk)\n", item, float64(item.SizeBytes())/(1024*1024))
	service.eventBus.Dispatch(event.DOWNLOAD_COMPLETE, item.ID)
	close(item.done)
}

// runShrinkStage re-encodes the fetched file towards the target size, capped
// at the configured shrink height. Shrink failures are logged and ignored
// (the oversized original remains on the item); the shrunk file only
// replaces the original when it is actually smaller.
func (service *downloadService) runShrinkStage(item *DownloadItem) {
	service.setItemState(item, SHRINKING)
	service.eventBus.Dispatch(event.DOWNLOAD_UPDATE, item.ID)

	height := item.Request.Height
	if height > service.config.MaxShrinkHeight {
		height = service.config.MaxShrinkHeight
	}

	inputPath := item.OutputPath()
	shrunkPath := inputPath + ".small.mp4"
	onProgress := func(progress transcoder.Progress) {
		item.setProgress(&Progress{
			Stage:    "shrink",
			Frames:   progress.GetFramesProcessed(),
			Elapsed:  progress.GetCurrentTime(),
			Bitrate:  progress.GetCurrentBitrate(),
			Speed:    progress.GetSpeed(),
			Progress: progress.GetProgress(),
		})
		service.eventBus.Dispatch(event.DOWNLOAD_PROGRESS, item.ID)
	}

	if err := service.shrinker.Shrink(item.ctx, inputPath, shrunkPath, service.config.TargetMB, height, onProgress); err != nil {
		log.Emit(logger.WARNING, "Shrink of %s failed (%v), delivering original file\n", item, err)
		return
	}

	stat, err := os.Stat(shrunkPath)
	if err != nil {
		log.Emit(logger.WARNING, "Shrink of %s produced no readable output (%v), delivering original file\n", item, err)
		return
	}

	if stat.Size() >= item.SizeBytes() {
		log.Emit(logger.WARNING, "Shrunk output for %s is no smaller than the original (%d >= %d bytes), delivering original file\n", item, stat.Size(), item.SizeBytes())
		return
	}

	item.setOutput(shrunkPath, stat.Size())
}

// Cancel aborts the download item with the ID provided. Items already in a
// terminal state cannot be cancelled.
func (service *downloadService) Cancel(id uuid.UUID) error {
	service.Lock()
	defer service.Unlock()

	for _, item := range service.items {
		if item.ID != id {
			continue
		}

		switch item.State {
		case READY, TROUBLED, CANCELLED:
			return fmt.Errorf("download %s has already concluded (%s)", id, item.State)
		case WAITING:
			item.State = CANCELLED
			close(item.done)
			service.eventBus.Dispatch(event.DOWNLOAD_UPDATE, item.ID)
		default:
			// A worker owns the item. Cancelling it's context kills the
			// running command and the pipeline concludes the item.
			item.cancel()
		}

		return nil
	}

	return ErrItemNotFound
}

// Finish finalises a terminal item with the outcome of it's delivery: a
// READY item becomes SENT on a nil deliveryErr, or TROUBLED with a delivery
// trouble otherwise. The outcome is persisted (when a data store is
// configured), the scratch directory is removed, and the item is dropped
// from the queue.
func (service *downloadService) Finish(id uuid.UUID, deliveryErr error) error {
	service.Lock()
	defer service.Unlock()

	for i, item := range service.items {
		if item.ID != id {
			continue
		}

		if item.State == WAITING || item.State == FETCHING || item.State == SHRINKING {
			return fmt.Errorf("download %s is still in progress (%s)", id, item.State)
		}

		delivered := false
		if item.State == READY {
			if deliveryErr == nil {
				item.State = SENT
				delivered = true
			} else {
				item.State = TROUBLED
				item.Trouble = NewTrouble(deliveryErr, DELIVERY_FAILURE)
			}
		}

		if service.dataStore != nil {
			if err := service.dataStore.SaveCompleted(item, delivered); err != nil {
				log.Emit(logger.ERROR, "Failed to persist outcome of %s: %v\n", item, err)
			}
		}

		if item.workdir != "" {
			if err := os.RemoveAll(item.workdir); err != nil {
				log.Emit(logger.WARNING, "Failed to cleanup working directory '%s': %v\n", item.workdir, err)
			}
		}

		service.items = append(service.items[:i], service.items[i+1:]...)
		service.eventBus.Dispatch(event.DOWNLOAD_UPDATE, id)
		return nil
	}

	return ErrItemNotFound
}

// Item returns the download item with the ID provided, or nil.
func (service *downloadService) Item(id uuid.UUID) *DownloadItem {
	service.Lock()
	defer service.Unlock()

	for _, item := range service.items {
		if item.ID == id {
			return item
		}
	}

	return nil
}

// AllItems returns a copy of the current download queue.
func (service *downloadService) AllItems() []*DownloadItem {
	service.Lock()
	defer service.Unlock()

	items := make([]*DownloadItem, len(service.items))
	copy(items, service.items)
	return items
}

func (service *downloadService) setItemState(item *DownloadItem, state DownloadItemState) {
	service.Lock()
	defer service.Unlock()
	item.State = state
}

func (service *downloadService) concludeWithTrouble(item *DownloadItem, trouble *Trouble) {
	log.Emit(logger.ERROR, "Trouble raised during %s stage of %s: %v\n", trouble.Stage(), item, trouble.Error())
	service.Lock()
	item.State = TROUBLED
	item.Trouble = trouble
	service.Unlock()

	service.eventBus.Dispatch(event.DOWNLOAD_UPDATE, item.ID)
	close(item.done)
}

func (service *downloadService) concludeCancelled(item *DownloadItem) {
	log.Emit(logger.STOP, "%s was cancelled\n", item)
	service.Lock()
	item.State = CANCELLED
	service.Unlock()

	service.eventBus.Dispatch(event.DOWNLOAD_UPDATE, item.ID)
	close(item.done)
}
