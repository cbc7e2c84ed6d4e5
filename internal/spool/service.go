package spool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rjeczalik/notify"
	"github.com/telegrab/telegrab/internal/download"
	"github.com/telegrab/telegrab/internal/event"
	"github.com/telegrab/telegrab/internal/ytdlp"
	"github.com/telegrab/telegrab/pkg/logger"
	"github.com/telegrab/telegrab/pkg/worker"
)

var log = logger.Get("SpoolServ")

type (
	// submitter is the download queue that spooled requests are pushed to.
	submitter interface {
		Submit(download.Request) (*download.DownloadItem, error)
		Finish(id uuid.UUID, deliveryErr error) error
	}

	// deliverer uploads a completed download to it's chat. The bot gateway
	// satisfies this.
	deliverer interface {
		DeliverDownload(item *download.DownloadItem) error
	}

	// spoolService watches a directory for request files and feeds their
	// contents through the download service. Each line of a request file is
	// a URL optionally followed by 'video'/'audio' and a height, the same
	// tokens accepted by the /get command. Files are deleted once processed.
	spoolService struct {
		*sync.Mutex

		config        Config
		submitter     submitter
		deliverer     deliverer
		eventBus      event.EventCoordinator
		defaultHeight int

		items      []*SpoolItem
		holdTimers map[uuid.UUID]*time.Timer
		workerPool *worker.WorkerPool
		ctx        context.Context
	}
)

// New creates a new spoolService watching the configured path. The spool
// directory is created if it is missing; an error is returned if the path
// points at an existing file.
func New(config Config, submitter submitter, deliverer deliverer, eventBus event.EventCoordinator, defaultHeight int) (*spoolService, error) {
	if info, err := os.Stat(config.Path); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("spool path '%s' is not a directory", config.Path)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(config.Path, 0o755); err != nil {
			return nil, fmt.Errorf("spool path '%s' could not be created: %w", config.Path, err)
		}
	} else {
		return nil, fmt.Errorf("spool path '%s' could not be accessed: %w", config.Path, err)
	}

	service := &spoolService{
		Mutex:         &sync.Mutex{},
		config:        config,
		submitter:     submitter,
		deliverer:     deliverer,
		eventBus:      eventBus,
		defaultHeight: defaultHeight,
		items:         make([]*SpoolItem, 0),
		holdTimers:    make(map[uuid.UUID]*time.Timer),
		workerPool:    worker.NewWorkerPool(),
	}

	service.workerPool.PushWorker(worker.NewWorker("spool-worker", service.PerformItemProcess))
	return service, nil
}

// Run is the main entry point of this service. It listens to the OS file
// system for changes inside the spool directory, and regularly polls the
// directory irrespective of the watcher. To kill the service, the calling
// code should cancel the context provided.
func (service *spoolService) Run(ctx context.Context) error {
	service.ctx = ctx

	fsNotifyChannel := make(chan notify.EventInfo, 8)
	if err := notify.Watch(filepath.Join(service.config.Path, "..."), fsNotifyChannel, notify.All); err != nil {
		return fmt.Errorf("failed to watch spool path '%s': %w", service.config.Path, err)
	}
	defer notify.Stop(fsNotifyChannel)

	forceSyncChannel := time.NewTicker(time.Second * time.Duration(service.config.ForceSyncSeconds)).C

	if err := service.workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start spool worker pool: %w", err)
	}
	defer service.workerPool.Close()
	defer service.clearAllHoldTimers()

	service.DiscoverNewFiles()

	for {
		select {
		case <-fsNotifyChannel:
			service.DiscoverNewFiles()
		case <-forceSyncChannel:
			service.DiscoverNewFiles()
		case <-ctx.Done():
			return nil
		}
	}
}

// DiscoverNewFiles scans the spool directory for request files which are not
// yet represented by an item in this service. Fresh files are held until
// their modtime is old enough to assume the writer has finished.
//
// Note: this function takes ownership of the mutex, and releases it when returning
func (service *spoolService) DiscoverNewFiles() {
	service.Lock()
	defer service.Unlock()

	known := make(map[string]bool, len(service.items))
	for _, item := range service.items {
		known[item.Path] = true
	}

	newFiles, err := walkSpoolDirectory(service.config.Path, known)
	if err != nil {
		log.Emit(logger.ERROR, "Spool directory polling failed: %v\n", err)
		return
	}

	minModtimeAge := service.config.RequiredModTimeAgeDuration()
	dirty := false
	for path, info := range newFiles {
		itemID := uuid.New()
		timeDiff := time.Since(info.ModTime())

		itemState := HOLD
		if timeDiff > minModtimeAge {
			dirty = true
			itemState = IDLE
		}

		service.items = append(service.items, &SpoolItem{
			ID:    itemID,
			Path:  path,
			State: itemState,
		})

		log.Emit(logger.NEW, "Discovered spool file '%s'\n", path)
		service.eventBus.Dispatch(event.SPOOL_UPDATE, itemID)
		if itemState == HOLD {
			service.scheduleHoldTimer(itemID, minModtimeAge-timeDiff)
		}
	}

	if dirty {
		service.workerPool.WakeupWorkers()
	}
}

// PerformItemProcess is the worker function for the spool service. It claims
// the first IDLE item it finds and feeds it's requests through the download
// service one at a time.
func (service *spoolService) PerformItemProcess(w worker.Worker) (bool, error) {
	item := service.claimIdleItem()
	if item == nil {
		return false, nil
	}

	if err := service.processFile(item); err != nil {
		service.Lock()
		item.Trouble = &SpoolItemTrouble{err}
		item.State = TROUBLED
		service.Unlock()
		service.eventBus.Dispatch(event.SPOOL_UPDATE, item.ID)
		return true, nil
	}

	service.concludeItem(item)
	return true, nil
}

// processFile parses each line of the request file and runs the resulting
// downloads sequentially, delivering each to the configured chat. A line
// which fails to download does not abort the remaining lines.
func (service *spoolService) processFile(item *SpoolItem) error {
	requests, err := service.parseFile(item.Path)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		return errors.New("request file contains no usable lines")
	}

	for _, request := range requests {
		dlItem, err := service.submitter.Submit(request)
		if err != nil {
			log.Emit(logger.WARNING, "Spool request for '%s' rejected: %v\n", request.URL, err)
			continue
		}

		select {
		case <-service.ctx.Done():
			return service.ctx.Err()
		case <-dlItem.Done():
		}

		var deliveryErr error
		if dlItem.State == download.READY {
			if deliveryErr = service.deliverer.DeliverDownload(dlItem); deliveryErr != nil {
				log.Emit(logger.ERROR, "Failed to deliver spooled download %s: %v\n", dlItem, deliveryErr)
			}
		} else if dlItem.Trouble != nil {
			log.Emit(logger.WARNING, "Spooled download %s failed: %v\n", dlItem, dlItem.Trouble)
		}

		if err := service.submitter.Finish(dlItem.ID, deliveryErr); err != nil {
			log.Emit(logger.ERROR, "Failed to finalise spooled download %s: %v\n", dlItem, err)
		}
	}

	return nil
}

// parseFile reads the request file at the path provided. Blank lines and
// lines starting with '#' are skipped.
func (service *spoolService) parseFile(path string) ([]download.Request, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spool file: %w", err)
	}
	defer file.Close()

	requests := make([]download.Request, 0)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		requests = append(requests, service.parseLine(line))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read spool file: %w", err)
	}

	return requests, nil
}

// parseLine interprets a single request line: a URL optionally followed by a
// mode and a height, in any order. Unrecognised tokens are ignored.
func (service *spoolService) parseLine(line string) download.Request {
	tokens := strings.Fields(line)
	request := download.Request{
		ChatID: service.config.DeliveryChatID,
		URL:    tokens[0],
		Mode:   ytdlp.VIDEO,
		Height: service.defaultHeight,
	}

	for _, token := range tokens[1:] {
		token = strings.ToLower(token)
		if mode, ok := ytdlp.ParseMode(token); ok {
			request.Mode = mode
		} else if height, err := strconv.Atoi(token); err == nil && height > 0 {
			request.Height = height
		}
	}

	return request
}

// concludeItem marks the item COMPLETE, deletes it's source file, and drops
// it from the queue.
func (service *spoolService) concludeItem(item *SpoolItem) {
	if err := os.Remove(item.Path); err != nil {
		log.Emit(logger.WARNING, "Failed to remove processed spool file '%s': %v\n", item.Path, err)
	}

	service.Lock()
	item.State = COMPLETE
	for k, v := range service.items {
		if v.ID == item.ID {
			service.items = append(service.items[:k], service.items[k+1:]...)
			break
		}
	}
	service.Unlock()

	log.Emit(logger.SUCCESS, "Processed spool file '%s'\n", item.Path)
	service.eventBus.Dispatch(event.SPOOL_UPDATE, item.ID)
}

// evaluateItemHold checks whether an item on HOLD can be moved to IDLE. If
// the source file still fails the modtime requirement, a new timer is
// scheduled; if the file has gone away, the item is dropped.
//
// Note: this function takes ownership of the mutex, and releases it when returning
func (service *spoolService) evaluateItemHold(id uuid.UUID) {
	service.Lock()
	defer service.Unlock()

	item := service.itemLocked(id)
	if item == nil || item.State != HOLD {
		return
	}

	timeDiff, err := item.modtimeDiff()
	if err != nil {
		for k, v := range service.items {
			if v.ID == id {
				service.items = append(service.items[:k], service.items[k+1:]...)
				break
			}
		}
		return
	}

	threshold := service.config.RequiredModTimeAgeDuration()
	if *timeDiff < threshold {
		service.scheduleHoldTimer(id, threshold-*timeDiff)
		return
	}

	item.State = IDLE
	service.workerPool.WakeupWorkers()
}

// scheduleHoldTimer will call evaluateItemHold for the item provided after
// the delay specified. Any existing hold timer for the item is cancelled
// before the new timer is created.
func (service *spoolService) scheduleHoldTimer(id uuid.UUID, delay time.Duration) {
	service.clearHoldTimer(id)
	service.holdTimers[id] = time.AfterFunc(delay, func() {
		service.evaluateItemHold(id)
	})
}

func (service *spoolService) clearHoldTimer(id uuid.UUID) {
	if timer, ok := service.holdTimers[id]; ok {
		timer.Stop()
		delete(service.holdTimers, id)
	}
}

func (service *spoolService) clearAllHoldTimers() {
	for key, timer := range service.holdTimers {
		timer.Stop()
		delete(service.holdTimers, key)
	}
}

// claimIdleItem will try and find an IDLE item in the spool service, and set
// it's state to PROCESSING to prevent another worker from claiming it once
// the mutex lock is released.
func (service *spoolService) claimIdleItem() *SpoolItem {
	service.Lock()
	defer service.Unlock()

	for _, item := range service.items {
		if item.State == IDLE {
			item.State = PROCESSING
			return item
		}
	}

	return nil
}

func (service *spoolService) itemLocked(id uuid.UUID) *SpoolItem {
	for _, item := range service.items {
		if item.ID == id {
			return item
		}
	}

	return nil
}

// AllItems returns a copy of the spool queue.
func (service *spoolService) AllItems() []*SpoolItem {
	service.Lock()
	defer service.Unlock()

	items := make([]*SpoolItem, len(service.items))
	copy(items, service.items)
	return items
}

// walkSpoolDirectory collects the request files inside the directory
// provided, skipping any whose paths are included in the 'known' map. Only
// '.txt' and '.url' files are considered request files.
func walkSpoolDirectory(rootDirPath string, known map[string]bool) (map[string]fs.FileInfo, error) {
	foundItems := make(map[string]fs.FileInfo, 0)
	err := filepath.WalkDir(rootDirPath, func(path string, dir fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if dir.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".txt" && ext != ".url" {
			return nil
		}

		fileInfo, err := dir.Info()
		if err != nil {
			return err
		}

		if _, ok := known[path]; !ok {
			foundItems[path] = fileInfo
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk spool directory: %s", err.Error())
	}

	return foundItems, nil
}
