package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/telegrab/telegrab/internal/api"
	"github.com/telegrab/telegrab/internal/api/downloads"
	"github.com/telegrab/telegrab/internal/bot"
	"github.com/telegrab/telegrab/internal/database"
	"github.com/telegrab/telegrab/internal/download"
	"github.com/telegrab/telegrab/internal/event"
	"github.com/telegrab/telegrab/internal/ffmpeg"
	"github.com/telegrab/telegrab/internal/history"
	"github.com/telegrab/telegrab/internal/spool"
	"github.com/telegrab/telegrab/internal/ytdlp"
	"github.com/telegrab/telegrab/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	DownloadService interface {
		RunnableService
		Submit(download.Request) (*download.DownloadItem, error)
		ListPlaylist(ctx context.Context, url string, limit int) ([]string, error)
		Cancel(id uuid.UUID) error
		Finish(id uuid.UUID, deliveryErr error) error
		Item(id uuid.UUID) *download.DownloadItem
		AllItems() []*download.DownloadItem
	}

	BotGateway interface {
		RunnableService
		DeliverDownload(item *download.DownloadItem) error
	}

	RestGateway interface {
		RunnableService
		BroadcastDownloadUpdate(uuid.UUID) error
		BroadcastDownloadProgressUpdate(uuid.UUID) error
		BroadcastDownloadComplete(uuid.UUID) error
		BroadcastSpoolUpdate(uuid.UUID) error
	}
)

// Telegrab represents the top-level object for the bot, and is responsible
// for initialising the services, stores and event handling which compose it.
type telegrabImpl struct {
	eventBus        event.EventCoordinator
	config          TelegrabConfig
	db              database.Manager
	historyStore    *history.Store
	activityService *activityService

	downloadService DownloadService
	botGateway      BotGateway
	restGateway     RestGateway
	spoolService    RunnableService
}

func New(config TelegrabConfig) *telegrabImpl {
	telegrab := &telegrabImpl{
		eventBus: event.New(),
		config:   config,
	}

	fetcher, err := ytdlp.New(config.Ytdlp)
	if err != nil {
		panic(fmt.Sprintf("failed to construct yt-dlp client due to error: %s", err.Error()))
	}

	var dataStore download.DataStore
	var historyProvider *chatHistoryProvider
	if config.Database.Enabled {
		telegrab.db = database.New()
		telegrab.historyStore = history.NewStore()
		dataStore = &downloadDataStore{telegrab.db, telegrab.historyStore}
		historyProvider = &chatHistoryProvider{telegrab.db, telegrab.historyStore}
	}

	if serv, err := download.New(config.Downloader, fetcher, ffmpeg.NewShrinker(config.Ffmpeg), dataStore, telegrab.eventBus); err == nil {
		telegrab.downloadService = serv
	} else {
		panic(fmt.Sprintf("failed to construct download service due to error: %s", err.Error()))
	}

	var botHistory bot.HistoryProvider
	if historyProvider != nil {
		botHistory = historyProvider
	}

	if gateway, err := bot.New(config.Telegram, telegrab.downloadService, botHistory, config.Downloader.DefaultHeight); err == nil {
		telegrab.botGateway = gateway
	} else {
		panic(fmt.Sprintf("failed to construct Telegram gateway due to error: %s", err.Error()))
	}

	if config.API.Enabled {
		var apiHistory downloads.HistoryService
		if historyProvider != nil {
			apiHistory = historyProvider
		}

		restGateway := api.NewRestGateway(&config.API, telegrab.downloadService, apiHistory)
		telegrab.restGateway = restGateway
		telegrab.activityService = newActivityService(restGateway, telegrab.eventBus)
	}

	if config.Spool.Enabled {
		if serv, err := spool.New(config.Spool, telegrab.downloadService, telegrab.botGateway, telegrab.eventBus, config.Downloader.DefaultHeight); err == nil {
			telegrab.spoolService = serv
		} else {
			panic(fmt.Sprintf("failed to construct spool service due to error: %s", err.Error()))
		}
	}

	return telegrab
}

// Run will start all of Telegrab by bringing up all enabled services and
// connections.
//
// This function will not return until Telegrab is stopped. To stop Telegrab,
// the provided context must be cancelled. Errors from which Telegrab cannot
// recover will also cause it to stop.
func (telegrab *telegrabImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	if telegrab.config.Database.Enabled {
		log.Emit(logger.NEW, "Connecting to database...\n")
		if err := telegrab.db.Connect(telegrab.config.Database); err != nil {
			return err
		}
	}

	wg := &sync.WaitGroup{}
	telegrab.spawnAsyncService(ctx, wg, telegrab.downloadService, "download-service", crashHandler)
	telegrab.spawnAsyncService(ctx, wg, telegrab.botGateway, "telegram-gateway", crashHandler)
	if telegrab.restGateway != nil {
		telegrab.spawnAsyncService(ctx, wg, telegrab.restGateway, "rest-gateway", crashHandler)
		telegrab.spawnAsyncService(ctx, wg, telegrab.activityService, "activity-service", crashHandler)
	}
	if telegrab.spoolService != nil {
		telegrab.spawnAsyncService(ctx, wg, telegrab.spoolService, "spool-service", crashHandler)
	}
	log.Emit(logger.SUCCESS, "Telegrab services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the Telegrab service waitgroup is updated correctly
func (telegrab *telegrabImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}

type (
	// downloadDataStore persists finalised download items as history records.
	downloadDataStore struct {
		db    database.Manager
		store *history.Store
	}

	// chatHistoryProvider serves the persisted records back to the bot for
	// the /history command, and across all chats for the REST gateway.
	chatHistoryProvider struct {
		db    database.Manager
		store *history.Store
	}
)

func (dataStore *downloadDataStore) SaveCompleted(item *download.DownloadItem, delivered bool) error {
	var failureReason *string
	if item.Trouble != nil {
		reason := item.Trouble.Error()
		failureReason = &reason
	}

	record := &history.Record{
		ID:            item.ID,
		ChatID:        item.Request.ChatID,
		URL:           item.Request.URL,
		Title:         item.Title(),
		Mode:          string(item.Request.Mode),
		Height:        item.Request.Height,
		State:         item.State.Label(),
		SizeBytes:     item.SizeBytes(),
		Delivered:     delivered,
		FailureReason: failureReason,
		CreatedAt:     item.QueuedAt,
	}

	return dataStore.db.WrapTx(func(tx *sqlx.Tx) error {
		return dataStore.store.Save(tx, record)
	})
}

func (provider *chatHistoryProvider) LatestForChat(chatID int64, limit int) ([]*history.Record, error) {
	return provider.store.LatestForChat(provider.db.GetSqlxDb(), chatID, limit)
}

func (provider *chatHistoryProvider) Latest(limit int) ([]*history.Record, error) {
	return provider.store.Latest(provider.db.GetSqlxDb(), limit)
}
