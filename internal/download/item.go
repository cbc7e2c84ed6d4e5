package download

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/telegrab/telegrab/internal/ytdlp"
)

type DownloadItemState int

const (
	WAITING DownloadItemState = iota
	FETCHING
	SHRINKING
	READY
	SENT
	TROUBLED
	CANCELLED
)

type (
	// Request describes a single download to perform, and the chat the
	// result should be delivered to. Batch fields are informational and
	// only set for requests originating from a bulk (/getall) command.
	Request struct {
		ChatID     int64
		URL        string
		Mode       ytdlp.Mode
		Height     int
		BatchIndex int
		BatchTotal int
	}

	// Progress captures the last update reported by the underlying
	// commands (yt-dlp has none; ffmpeg shrinks report regularly).
	Progress struct {
		Stage    string  `json:"stage"`
		Frames   string  `json:"frames"`
		Elapsed  string  `json:"elapsed"`
		Bitrate  string  `json:"bitrate"`
		Speed    string  `json:"speed"`
		Progress float64 `json:"progress"`
	}

	// DownloadItem represents an active download being processed by the
	// download service. The ID held inside of the item is what should be
	// used to retrieve the item from the service for management and
	// monitoring.
	DownloadItem struct {
		ID       uuid.UUID
		Request  Request
		State    DownloadItemState
		Trouble  *Trouble
		QueuedAt time.Time

		// mu guards the fields the worker mutates mid-pipeline while the
		// API and /status may be reading the item concurrently.
		mu         sync.Mutex
		title      string
		outputPath string
		sizeBytes  int64

		workdir      string
		ctx          context.Context
		cancel       context.CancelFunc
		done         chan struct{}
		lastProgress *Progress
	}
)

func newItem(request Request) *DownloadItem {
	return &DownloadItem{
		ID:       uuid.New(),
		Request:  request,
		State:    WAITING,
		QueuedAt: time.Now(),
		done:     make(chan struct{}),
	}
}

// Done returns a channel which is closed once this item reaches a terminal
// state (READY, TROUBLED or CANCELLED). Callers wanting to deliver the
// result should wait on this channel and then inspect the item state.
func (item *DownloadItem) Done() <-chan struct{} { return item.done }

// LastProgress is an accessor to the latest progress update from the
// underlying command. If no progress is available, nil is returned.
func (item *DownloadItem) LastProgress() *Progress {
	item.mu.Lock()
	defer item.mu.Unlock()
	return item.lastProgress
}

// Title is the media title reported by the fetch stage, empty until then.
func (item *DownloadItem) Title() string {
	item.mu.Lock()
	defer item.mu.Unlock()
	return item.title
}

// OutputPath is the on-disk location of the file to deliver.
func (item *DownloadItem) OutputPath() string {
	item.mu.Lock()
	defer item.mu.Unlock()
	return item.outputPath
}

// SizeBytes is the on-disk size of the file at OutputPath.
func (item *DownloadItem) SizeBytes() int64 {
	item.mu.Lock()
	defer item.mu.Unlock()
	return item.sizeBytes
}

func (item *DownloadItem) setFetchResult(title string, path string, size int64) {
	item.mu.Lock()
	defer item.mu.Unlock()
	item.title = title
	item.outputPath = path
	item.sizeBytes = size
}

func (item *DownloadItem) setOutput(path string, size int64) {
	item.mu.Lock()
	defer item.mu.Unlock()
	item.outputPath = path
	item.sizeBytes = size
}

func (item *DownloadItem) setProgress(progress *Progress) {
	item.mu.Lock()
	defer item.mu.Unlock()
	item.lastProgress = progress
}

func (item *DownloadItem) String() string {
	return fmt.Sprintf("DownloadItem{ID=%s url=%s state=%s}", item.ID, item.Request.URL, item.State)
}

func (s DownloadItemState) String() string {
	switch s {
	case WAITING:
		return fmt.Sprintf("WAITING[%d]", s)
	case FETCHING:
		return fmt.Sprintf("FETCHING[%d]", s)
	case SHRINKING:
		return fmt.Sprintf("SHRINKING[%d]", s)
	case READY:
		return fmt.Sprintf("READY[%d]", s)
	case SENT:
		return fmt.Sprintf("SENT[%d]", s)
	case TROUBLED:
		return fmt.Sprintf("TROUBLED[%d]", s)
	case CANCELLED:
		return fmt.Sprintf("CANCELLED[%d]", s)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}

// Label returns the plain lowercase name for the state, suitable for
// persistence and API payloads.
func (s DownloadItemState) Label() string {
	switch s {
	case WAITING:
		return "waiting"
	case FETCHING:
		return "fetching"
	case SHRINKING:
		return "shrinking"
	case READY:
		return "ready"
	case SENT:
		return "sent"
	case TROUBLED:
		return "troubled"
	case CANCELLED:
		return "cancelled"
	default:
		return "unknown"
	}
}
