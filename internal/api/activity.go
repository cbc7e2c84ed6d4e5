package api

import (
	"github.com/google/uuid"
	"github.com/telegrab/telegrab/internal/api/downloads"
	"github.com/telegrab/telegrab/internal/http/websocket"
)

const (
	TITLE_DOWNLOAD_UPDATE          = "DOWNLOAD_UPDATE"
	TITLE_DOWNLOAD_PROGRESS_UPDATE = "DOWNLOAD_PROGRESS_UPDATE"
	TITLE_DOWNLOAD_COMPLETE        = "DOWNLOAD_COMPLETE"
	TITLE_SPOOL_UPDATE             = "SPOOL_UPDATE"
)

type (
	DownloadUpdate struct {
		DownloadId uuid.UUID      `json:"download_id"`
		Download   *downloads.Dto `json:"download"`
	}

	broadcaster struct {
		socketHub       *websocket.SocketHub
		downloadService downloads.Service
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, downloadService downloads.Service) *broadcaster {
	return &broadcaster{socketHub, downloadService}
}

// BroadcastDownloadUpdate pushes the current state of the download with the
// ID provided to all connected clients. A nil download is broadcast for
// items which have left the queue, so clients know to drop them.
func (hub *broadcaster) BroadcastDownloadUpdate(id uuid.UUID) error {
	update := DownloadUpdate{DownloadId: id}
	if item := hub.downloadService.Item(id); item != nil {
		update.Download = downloads.NewDto(item)
	}

	hub.broadcast(TITLE_DOWNLOAD_UPDATE, update)
	return nil
}

func (hub *broadcaster) BroadcastDownloadProgressUpdate(id uuid.UUID) error {
	item := hub.downloadService.Item(id)
	if item == nil {
		return nil
	}

	hub.broadcast(TITLE_DOWNLOAD_PROGRESS_UPDATE, DownloadUpdate{DownloadId: id, Download: downloads.NewDto(item)})
	return nil
}

func (hub *broadcaster) BroadcastDownloadComplete(id uuid.UUID) error {
	item := hub.downloadService.Item(id)
	if item == nil {
		return nil
	}

	hub.broadcast(TITLE_DOWNLOAD_COMPLETE, DownloadUpdate{DownloadId: id, Download: downloads.NewDto(item)})
	return nil
}

// BroadcastSpoolUpdate notifies clients that the spool queue changed. The
// payload carries only the item ID as spool items are transient.
func (hub *broadcaster) BroadcastSpoolUpdate(id uuid.UUID) error {
	hub.broadcast(TITLE_SPOOL_UPDATE, map[string]interface{}{"spool_id": id})
	return nil
}

func (hub *broadcaster) broadcast(title string, update any) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  map[string]interface{}{"arguments": update},
		Type:  websocket.Update,
	})
}
