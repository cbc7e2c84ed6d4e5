package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/telegrab/telegrab/internal/download"
	"github.com/telegrab/telegrab/internal/history"
	"github.com/telegrab/telegrab/pkg/logger"
)

var log = logger.Get("TelegramBot")

type (
	// DownloadService is the download queue the gateway submits work to and
	// delivers results from.
	DownloadService interface {
		Submit(download.Request) (*download.DownloadItem, error)
		ListPlaylist(ctx context.Context, url string, limit int) ([]string, error)
		Cancel(id uuid.UUID) error
		Finish(id uuid.UUID, deliveryErr error) error
		Item(id uuid.UUID) *download.DownloadItem
		AllItems() []*download.DownloadItem
	}

	// HistoryProvider serves previously completed downloads for the
	// /history command. A nil provider disables the command.
	HistoryProvider interface {
		LatestForChat(chatID int64, limit int) ([]*history.Record, error)
	}

	// botGateway receives Telegram updates via long polling and translates
	// bot commands into operations against the download service. Each
	// command is handled on it's own goroutine so a long download does not
	// block the update loop.
	botGateway struct {
		config        Config
		api           *tgbotapi.BotAPI
		downloads     DownloadService
		history       HistoryProvider
		defaultHeight int
	}
)

func New(config Config, downloads DownloadService, historyProvider HistoryProvider, defaultHeight int) (*botGateway, error) {
	api, err := tgbotapi.NewBotAPI(config.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to authorise with the Telegram Bot API: %w", err)
	}

	return &botGateway{
		config:        config,
		api:           api,
		downloads:     downloads,
		history:       historyProvider,
		defaultHeight: defaultHeight,
	}, nil
}

// Run consumes the Telegram update channel until the context is cancelled.
func (gateway *botGateway) Run(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = gateway.config.UpdateTimeoutSeconds
	updates := gateway.api.GetUpdatesChan(updateConfig)

	go func() {
		<-ctx.Done()
		gateway.api.StopReceivingUpdates()
	}()

	log.Emit(logger.SUCCESS, "Telegram gateway polling as @%s\n", gateway.api.Self.UserName)
	for update := range updates {
		message := update.Message
		if message == nil || !message.IsCommand() {
			continue
		}

		if !gateway.chatAllowed(message.Chat.ID) {
			log.Emit(logger.WARNING, "Ignoring command '%s' from disallowed chat %d\n", message.Command(), message.Chat.ID)
			continue
		}

		go gateway.handleCommand(ctx, message)
	}

	return nil
}

func (gateway *botGateway) chatAllowed(chatID int64) bool {
	if len(gateway.config.AllowedChats) == 0 {
		return true
	}

	for _, allowed := range gateway.config.AllowedChats {
		if allowed == chatID {
			return true
		}
	}

	return false
}

func (gateway *botGateway) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	log.Emit(logger.INFO, "Handling command '/%s' from chat %d\n", message.Command(), message.Chat.ID)
	switch message.Command() {
	case "start":
		gateway.reply(message, startText)
	case "help":
		gateway.sendHelp(message)
	case "guide":
		gateway.sendGuide(message)
	case "get":
		gateway.handleGet(ctx, message)
	case "getall":
		gateway.handleGetAll(ctx, message)
	case "status":
		gateway.handleStatus(message)
	case "cancel":
		gateway.handleCancel(message)
	case "history":
		gateway.handleHistory(message)
	default:
		gateway.reply(message, "Unknown command. See /help for what I can do.")
	}
}

func (gateway *botGateway) sendHelp(message *tgbotapi.Message) {
	msg := tgbotapi.NewMessage(message.Chat.ID, guideText)
	msg.ParseMode = tgbotapi.ModeHTML
	gateway.send(msg)
}

func (gateway *botGateway) sendGuide(message *tgbotapi.Message) {
	document := tgbotapi.NewDocument(message.Chat.ID, tgbotapi.FileBytes{
		Name:  guideFileName,
		Bytes: []byte(guideText),
	})
	document.Caption = "Bot guide"
	gateway.send(document)
}

func (gateway *botGateway) handleGet(ctx context.Context, message *tgbotapi.Message) {
	args, err := parseGetArgs(strings.Fields(message.CommandArguments()), gateway.defaultHeight)
	if err != nil {
		gateway.reply(message, "Usage: /get <YouTube URL> [video|audio] [360|480|720]")
		return
	}

	item, err := gateway.downloads.Submit(download.Request{
		ChatID: message.Chat.ID,
		URL:    args.URL,
		Mode:   args.Mode,
		Height: args.Height,
	})
	if err != nil {
		gateway.reply(message, "That does not look like a link I can download from.")
		return
	}

	gateway.reply(message, fmt.Sprintf("Ok, downloading %s... this can take a minute", item.Request.Mode))

	select {
	case <-ctx.Done():
		return
	case <-item.Done():
	}

	gateway.concludeItem(item, nil)
}

func (gateway *botGateway) handleGetAll(ctx context.Context, message *tgbotapi.Message) {
	args, err := parseGetAllArgs(strings.Fields(message.CommandArguments()), gateway.defaultHeight)
	if err != nil {
		gateway.reply(message, "Usage: /getall <channel or playlist URL> [video|audio] [360|480|720] [limit=ALL|N]")
		return
	}

	limitLabel := "ALL"
	if args.Limit > 0 {
		limitLabel = fmt.Sprint(args.Limit)
	} else if args.Limit == 0 {
		limitLabel = "default"
	}
	gateway.reply(message, fmt.Sprintf("Collecting the list... limit=%s", limitLabel))

	urls, err := gateway.downloads.ListPlaylist(ctx, args.URL, args.Limit)
	if err != nil {
		gateway.reply(message, fmt.Sprintf("Could not list the videos: %v", err))
		return
	}
	if len(urls) == 0 {
		gateway.reply(message, "No videos found. A channel may need it's /videos tab URL.")
		return
	}

	total := len(urls)
	sent := 0
	gateway.reply(message, fmt.Sprintf("Found %d videos. Starting delivery...", total))

	pause := time.Duration(gateway.config.InterSendPauseMillis) * time.Millisecond
	for idx, watchURL := range urls {
		if ctx.Err() != nil {
			return
		}

		note := gateway.reply(message, fmt.Sprintf("%d/%d - downloading...", idx+1, total))
		item, err := gateway.downloads.Submit(download.Request{
			ChatID:     message.Chat.ID,
			URL:        watchURL,
			Mode:       args.Mode,
			Height:     args.Height,
			BatchIndex: idx + 1,
			BatchTotal: total,
		})
		if err != nil {
			gateway.editNote(message.Chat.ID, note, fmt.Sprintf("%d/%d - rejected: %v", idx+1, total, err))
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-item.Done():
		}

		if gateway.concludeItem(item, note) {
			sent++
		}

		time.Sleep(pause)
	}

	gateway.reply(message, fmt.Sprintf("Done. Sent %d of %d.", sent, total))
}

// concludeItem delivers the outcome of a terminal item to it's chat and
// finalises it with the download service. The note (when present) is the
// per-item progress message of a bulk request, which is edited in place.
// Returns true when a file was successfully delivered.
func (gateway *botGateway) concludeItem(item *download.DownloadItem, note *tgbotapi.Message) bool {
	var deliveryErr error
	delivered := false
	switch item.State {
	case download.READY:
		if deliveryErr = gateway.DeliverDownload(item); deliveryErr != nil {
			gateway.editNote(item.Request.ChatID, note, gateway.sendFailureText(item, deliveryErr))
		} else {
			delivered = true
			gateway.editNote(item.Request.ChatID, note, gateway.doneText(item))
		}
	case download.TROUBLED:
		gateway.editNote(item.Request.ChatID, note, gateway.troubleText(item))
	case download.CANCELLED:
		gateway.editNote(item.Request.ChatID, note, gateway.cancelledText(item))
	}

	if err := gateway.downloads.Finish(item.ID, deliveryErr); err != nil {
		log.Emit(logger.ERROR, "Failed to finalise %s: %v\n", item, err)
	}

	return delivered
}

// DeliverDownload uploads the items output file to it's chat as a document.
func (gateway *botGateway) DeliverDownload(item *download.DownloadItem) error {
	document := tgbotapi.NewDocument(item.Request.ChatID, tgbotapi.FilePath(item.OutputPath()))
	document.Caption = fmt.Sprintf("%s\n(via yt-dlp)", item.Title())

	if _, err := gateway.api.Send(document); err != nil {
		return fmt.Errorf("failed to upload document: %w", err)
	}

	return nil
}

func (gateway *botGateway) doneText(item *download.DownloadItem) string {
	if item.Request.BatchTotal > 0 {
		return fmt.Sprintf("%d/%d - done ✅", item.Request.BatchIndex, item.Request.BatchTotal)
	}

	return "Done ✅"
}

func (gateway *botGateway) troubleText(item *download.DownloadItem) string {
	if item.Request.BatchTotal > 0 {
		return fmt.Sprintf("%d/%d - download failed: %v", item.Request.BatchIndex, item.Request.BatchTotal, item.Trouble)
	}

	return fmt.Sprintf("Could not download: %v", item.Trouble)
}

func (gateway *botGateway) cancelledText(item *download.DownloadItem) string {
	if item.Request.BatchTotal > 0 {
		return fmt.Sprintf("%d/%d - cancelled", item.Request.BatchIndex, item.Request.BatchTotal)
	}

	return "Download cancelled."
}

func (gateway *botGateway) sendFailureText(item *download.DownloadItem, err error) string {
	sizeMB := float64(item.SizeBytes()) / (1024 * 1024)
	if item.Request.BatchTotal > 0 {
		return fmt.Sprintf("%d/%d - could not send the file: %v", item.Request.BatchIndex, item.Request.BatchTotal, err)
	}

	return fmt.Sprintf("Could not send the file. Size: %.1f MB. Try /get <url> video 360 or audio.\nReason: %v", sizeMB, err)
}

func (gateway *botGateway) handleStatus(message *tgbotapi.Message) {
	items := gateway.downloads.AllItems()
	if len(items) == 0 {
		gateway.reply(message, "Nothing is downloading right now.")
		return
	}

	var builder strings.Builder
	builder.WriteString("Active downloads:\n")
	for _, item := range items {
		label := item.Title()
		if label == "" {
			label = item.Request.URL
		}

		fmt.Fprintf(&builder, "• %s [%s] %s", shortID(item.ID), item.State.Label(), label)
		if progress := item.LastProgress(); progress != nil && item.State == download.SHRINKING {
			fmt.Fprintf(&builder, " (%.0f%%)", progress.Progress)
		}
		builder.WriteString("\n")
	}

	gateway.reply(message, builder.String())
}

func (gateway *botGateway) handleCancel(message *tgbotapi.Message) {
	prefix := strings.TrimSpace(message.CommandArguments())
	if prefix == "" {
		gateway.reply(message, "Usage: /cancel <download id from /status>")
		return
	}

	for _, item := range gateway.downloads.AllItems() {
		if !strings.HasPrefix(item.ID.String(), strings.ToLower(prefix)) {
			continue
		}

		if err := gateway.downloads.Cancel(item.ID); err != nil {
			gateway.reply(message, fmt.Sprintf("Could not cancel %s: %v", shortID(item.ID), err))
		} else {
			gateway.reply(message, fmt.Sprintf("Cancelling %s...", shortID(item.ID)))
		}

		return
	}

	gateway.reply(message, fmt.Sprintf("No active download matches '%s'.", prefix))
}

func (gateway *botGateway) handleHistory(message *tgbotapi.Message) {
	if gateway.history == nil {
		gateway.reply(message, "History is not enabled on this bot.")
		return
	}

	limit := gateway.config.HistoryDefaultLimit
	if arg := strings.TrimSpace(message.CommandArguments()); arg != "" {
		if _, err := fmt.Sscanf(arg, "%d", &limit); err != nil || limit < 1 {
			gateway.reply(message, "Usage: /history [n]")
			return
		}
	}

	records, err := gateway.history.LatestForChat(message.Chat.ID, limit)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to fetch history for chat %d: %v\n", message.Chat.ID, err)
		gateway.reply(message, "Could not fetch the download history.")
		return
	}
	if len(records) == 0 {
		gateway.reply(message, "No downloads on record for this chat.")
		return
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "Last %d downloads:\n", len(records))
	for _, record := range records {
		outcome := "✅"
		if !record.Delivered {
			outcome = "❌"
		}

		label := record.Title
		if label == "" {
			label = record.URL
		}

		fmt.Fprintf(&builder, "• %s %s (%s, %.1f MB, %s)\n",
			outcome, label, record.Mode,
			float64(record.SizeBytes)/(1024*1024),
			record.CompletedAt.Format("2006-01-02 15:04"))
	}

	gateway.reply(message, builder.String())
}

// reply sends a message in reply to the one provided, returning the sent
// message (or nil if sending failed) so callers can edit it later.
func (gateway *botGateway) reply(message *tgbotapi.Message, text string) *tgbotapi.Message {
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ReplyToMessageID = message.MessageID
	return gateway.send(msg)
}

func (gateway *botGateway) send(chattable tgbotapi.Chattable) *tgbotapi.Message {
	sent, err := gateway.api.Send(chattable)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to send Telegram message: %v\n", err)
		return nil
	}

	return &sent
}

func (gateway *botGateway) editNote(chatID int64, note *tgbotapi.Message, text string) {
	if note == nil {
		gateway.send(tgbotapi.NewMessage(chatID, text))
		return
	}

	if _, err := gateway.api.Send(tgbotapi.NewEditMessageText(chatID, note.MessageID, text)); err != nil {
		log.Emit(logger.WARNING, "Failed to edit note message %d: %v\n", note.MessageID, err)
	}
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
