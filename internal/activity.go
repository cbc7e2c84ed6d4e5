package internal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/telegrab/telegrab/internal/event"
	"github.com/telegrab/telegrab/pkg/logger"
)

const (
	DEBOUNCE_DURATION  time.Duration = time.Second * 2
	MAX_TIMER_DURATION time.Duration = time.Second * 5

	RAPID_EVENT_DEBOUNCE_DURATION  time.Duration = time.Millisecond * 500
	RAPID_EVENT_MAX_TIMER_DURATION time.Duration = time.Second * 2
)

type (
	broadcastHandler func(uuid.UUID) error

	broadcaster interface {
		BroadcastDownloadUpdate(uuid.UUID) error
		BroadcastDownloadProgressUpdate(uuid.UUID) error
		BroadcastDownloadComplete(uuid.UUID) error
		BroadcastSpoolUpdate(uuid.UUID) error
	}

	eventKey struct {
		ev event.Event
		id uuid.UUID
	}

	// activityService listens to the event bus and forwards state changes
	// to the websocket broadcaster. Broadcasts are debounced per-resource
	// so that rapid streams of events (such as shrink progress) do not
	// flood connected clients.
	activityService struct {
		*sync.Mutex
		broadcaster
		eventBus       event.EventHandler
		debounceTimers map[eventKey]*time.Timer
		maxTimers      map[eventKey]*time.Timer
	}
)

func newActivityService(broadcaster broadcaster, event event.EventHandler) *activityService {
	return &activityService{
		Mutex:          &sync.Mutex{},
		broadcaster:    broadcaster,
		eventBus:       event,
		debounceTimers: make(map[eventKey]*time.Timer),
		maxTimers:      make(map[eventKey]*time.Timer),
	}
}

func (service *activityService) Run(ctx context.Context) error {
	messageChan := make(chan event.HandlerEvent, 100)
	service.eventBus.RegisterHandlerChannel(messageChan,
		event.DOWNLOAD_UPDATE, event.DOWNLOAD_PROGRESS,
		event.DOWNLOAD_COMPLETE, event.SPOOL_UPDATE)

	log.Emit(logger.NEW, "Activity service started\n")
	for {
		select {
		case ev := <-messageChan:
			if err := service.handleEvent(ev); err != nil {
				log.Emit(logger.ERROR, "Handling of event %v failed: %v\n", ev, err)
			}
		case <-ctx.Done():
			log.Emit(logger.STOP, "Activity service closed\n")
			return nil
		}
	}
}

func (service *activityService) handleEvent(ev event.HandlerEvent) error {
	resourceID, ok := ev.Payload.(uuid.UUID)
	if !ok {
		return errors.New("illegal payload (expected UUID)")
	}

	resourceKey := eventKey{id: resourceID, ev: ev.Event}

	switch ev.Event {
	case event.DOWNLOAD_UPDATE:
		service.scheduleEventBroadcast(resourceKey, service.BroadcastDownloadUpdate)
	case event.DOWNLOAD_COMPLETE:
		service.scheduleEventBroadcast(resourceKey, service.BroadcastDownloadComplete)
	case event.DOWNLOAD_PROGRESS:
		service.scheduleRapidEventBroadcast(resourceKey, service.BroadcastDownloadProgressUpdate)
	case event.SPOOL_UPDATE:
		service.scheduleEventBroadcast(resourceKey, service.BroadcastSpoolUpdate)
	default:
		return errors.New("unknown event type")
	}

	return nil
}

func (service *activityService) scheduleEventBroadcast(resourceKey eventKey, handler broadcastHandler) {
	service._scheduleEventBroadcast(resourceKey, handler, DEBOUNCE_DURATION, MAX_TIMER_DURATION)
}

// scheduleRapidEventBroadcast is the same as scheduleEventBroadcast, except it uses a much
// shorter debounce and max timer duration. This is intended for use with events which
// occur many times per second (progress updates).
func (service *activityService) scheduleRapidEventBroadcast(resourceKey eventKey, handler broadcastHandler) {
	service._scheduleEventBroadcast(resourceKey, handler, RAPID_EVENT_DEBOUNCE_DURATION, RAPID_EVENT_MAX_TIMER_DURATION)
}

// _scheduleEventBroadcast will schedule a broadcast for an event after the debounce duration
// provided. If a broadcast for the same resourceKey is already pending, it is pushed back.
// A max timer ensures a steady stream of events cannot defer the broadcast forever.
func (service *activityService) _scheduleEventBroadcast(resourceKey eventKey, handler broadcastHandler, debounceTime time.Duration, maxTime time.Duration) {
	service.Lock()
	defer service.Unlock()

	broadcaster := func() { service.broadcast(resourceKey, handler) }

	if timer, ok := service.debounceTimers[resourceKey]; ok {
		timer.Stop()
	}
	service.debounceTimers[resourceKey] = time.AfterFunc(debounceTime, broadcaster)

	if _, ok := service.maxTimers[resourceKey]; !ok {
		service.maxTimers[resourceKey] = time.AfterFunc(maxTime, broadcaster)
	}
}

// broadcast cancels any outstanding timers for the resourceKey provided before
// invoking the broadcast handler.
func (service *activityService) broadcast(resourceKey eventKey, handler broadcastHandler) {
	service.Lock()
	defer service.Unlock()

	if timer, ok := service.debounceTimers[resourceKey]; ok {
		timer.Stop()
		delete(service.debounceTimers, resourceKey)
	}

	if timer, ok := service.maxTimers[resourceKey]; ok {
		timer.Stop()
		delete(service.maxTimers, resourceKey)
	}

	if err := handler(resourceKey.id); err != nil {
		log.Emit(logger.ERROR, "Broadcast for resource %v failed: %v\n", resourceKey.id, err)
	}
}
