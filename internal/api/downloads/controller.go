package downloads

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/telegrab/telegrab/internal/download"
	"github.com/telegrab/telegrab/internal/history"
)

type (
	StateDto string

	TroubleDto struct {
		Stage   string `json:"stage"`
		Message string `json:"message"`
	}

	// Dto is the response used by endpoints that return the items in the
	// download queue (e.g., list, get)
	Dto struct {
		Id        uuid.UUID          `json:"id"`
		Url       string             `json:"url"`
		ChatId    int64              `json:"chat_id"`
		Mode      string             `json:"mode"`
		Height    int                `json:"height"`
		Title     string             `json:"title"`
		State     StateDto           `json:"state"`
		SizeBytes int64              `json:"size_bytes"`
		QueuedAt  time.Time          `json:"queued_at"`
		Trouble   *TroubleDto        `json:"trouble"`
		Progress  *download.Progress `json:"progress"`
	}

	// RecordDto is the response shape for finalised downloads served from
	// the history store.
	RecordDto struct {
		Id            uuid.UUID `json:"id"`
		ChatId        int64     `json:"chat_id"`
		Url           string    `json:"url"`
		Title         string    `json:"title"`
		Mode          string    `json:"mode"`
		Height        int       `json:"height"`
		State         string    `json:"state"`
		SizeBytes     int64     `json:"size_bytes"`
		Delivered     bool      `json:"delivered"`
		FailureReason *string   `json:"failure_reason"`
		CompletedAt   time.Time `json:"completed_at"`
	}

	Service interface {
		AllItems() []*download.DownloadItem
		Item(uuid.UUID) *download.DownloadItem
		Cancel(uuid.UUID) error
	}

	// HistoryService serves finalised downloads across all chats. A nil
	// service disables the history route.
	HistoryService interface {
		Latest(limit int) ([]*history.Record, error)
	}

	// Controller is the struct which is responsible for defining the
	// routes for this controller. Additionally, it holds the reference to
	// the download service used to retrieve information about the queue
	Controller struct {
		service Service
		history HistoryService
	}
)

const (
	WAITING   StateDto = "WAITING"
	FETCHING  StateDto = "FETCHING"
	SHRINKING StateDto = "SHRINKING"
	READY     StateDto = "READY"
	SENT      StateDto = "SENT"
	TROUBLED  StateDto = "TROUBLED"
	CANCELLED StateDto = "CANCELLED"
)

const defaultHistoryLimit = 25

func New(serv Service, history HistoryService) *Controller {
	return &Controller{service: serv, history: history}
}

// SetRoutes accepts the Echo group for the download endpoints
// and sets the routes on them.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	if controller.history != nil {
		eg.GET("/history/", controller.latestHistory)
	}
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.cancel)
}

// list returns all queued downloads - represented as DTOs - from the
// underlying service.
func (controller *Controller) list(ec echo.Context) error {
	items := controller.service.AllItems()
	dtos := make([]*Dto, len(items))
	for k, v := range items {
		dtos[k] = NewDto(v)
	}

	return ec.JSON(http.StatusOK, dtos)
}

// get uses the 'id' path param from the context and retrieves the download
// from the underlying service. If found, a DTO representing it is returned
func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Download ID is not a valid UUID")
	}

	item := controller.service.Item(id)
	if item == nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return ec.JSON(http.StatusOK, NewDto(item))
}

// cancel uses the 'id' path param from the context and aborts the matching
// download, if any.
func (controller *Controller) cancel(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Download ID is not a valid UUID")
	}

	if err := controller.service.Cancel(id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

// latestHistory returns the most recently finalised downloads across all
// chats, newest first. The 'limit' query param caps the result count.
func (controller *Controller) latestHistory(ec echo.Context) error {
	limit := defaultHistoryLimit
	if raw := ec.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "Limit must be a positive integer")
		}
		limit = parsed
	}

	records, err := controller.history.Latest(limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	dtos := make([]*RecordDto, len(records))
	for k, v := range records {
		dtos[k] = NewRecordDto(v)
	}

	return ec.JSON(http.StatusOK, dtos)
}

// NewDto creates a Dto using the DownloadItem model.
func NewDto(item *download.DownloadItem) *Dto {
	var trbl *TroubleDto = nil
	if item.Trouble != nil {
		trbl = &TroubleDto{
			Stage:   item.Trouble.Stage().String(),
			Message: item.Trouble.Error(),
		}
	}

	return &Dto{
		Id:        item.ID,
		Url:       item.Request.URL,
		ChatId:    item.Request.ChatID,
		Mode:      string(item.Request.Mode),
		Height:    item.Request.Height,
		Title:     item.Title(),
		State:     StateModelToDto(item.State),
		SizeBytes: item.SizeBytes(),
		QueuedAt:  item.QueuedAt,
		Trouble:   trbl,
		Progress:  item.LastProgress(),
	}
}

// NewRecordDto creates a RecordDto using the history Record model.
func NewRecordDto(record *history.Record) *RecordDto {
	return &RecordDto{
		Id:            record.ID,
		ChatId:        record.ChatID,
		Url:           record.URL,
		Title:         record.Title,
		Mode:          record.Mode,
		Height:        record.Height,
		State:         record.State,
		SizeBytes:     record.SizeBytes,
		Delivered:     record.Delivered,
		FailureReason: record.FailureReason,
		CompletedAt:   record.CompletedAt,
	}
}

func StateModelToDto(modelState download.DownloadItemState) StateDto {
	switch modelState {
	case download.WAITING:
		return WAITING
	case download.FETCHING:
		return FETCHING
	case download.SHRINKING:
		return SHRINKING
	case download.READY:
		return READY
	case download.SENT:
		return SENT
	case download.TROUBLED:
		return TROUBLED
	case download.CANCELLED:
		return CANCELLED
	}

	panic(fmt.Sprintf("download state %s is not recognized by API layer, DTO cannot be created. Please report this error.", modelState))
}
