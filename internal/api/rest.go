package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/telegrab/telegrab/internal/api/downloads"
	"github.com/telegrab/telegrab/internal/http/websocket"
	"github.com/telegrab/telegrab/pkg/logger"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		// Enabled controls whether the HTTP gateway is served at all. The
		// bot is fully functional without it.
		Enabled  bool   `toml:"enabled" env:"API_ENABLED" env-default:"false"`
		HostAddr string `toml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. It's sole
	// responsibility is to create the routes Telegrab exposes and to manage
	// ongoing web socket connections and events.
	RestGateway struct {
		*broadcaster
		config             *RestConfig
		ec                 *echo.Echo
		socket             *websocket.SocketHub
		downloadController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers. A nil historyService simply
// omits the history route.
func NewRestGateway(config *RestConfig, downloadService downloads.Service, historyService downloads.HistoryService) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	socket := websocket.New()
	gateway := &RestGateway{
		broadcaster:        newBroadcaster(socket, downloadService),
		config:             config,
		ec:                 ec,
		socket:             socket,
		downloadController: downloads.New(downloadService, historyService),
	}

	socket.BindCommand("DOWNLOAD_LIST", gateway.socketListDownloads)
	socket.BindCommand("DOWNLOAD_CANCEL", gateway.socketCancelDownload)

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/telegrab/v1/health/", func(ec echo.Context) error {
		return ec.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	ec.GET("/api/telegrab/v1/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	downloadGroup := ec.Group("/api/telegrab/v1/downloads")
	gateway.downloadController.SetRoutes(downloadGroup)

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}

// socketListDownloads replies to the requesting client with the current
// download queue.
func (gateway *RestGateway) socketListDownloads(hub *websocket.SocketHub, message *websocket.SocketMessage) error {
	items := gateway.downloadService.AllItems()
	dtos := make([]*downloads.Dto, len(items))
	for k, v := range items {
		dtos[k] = downloads.NewDto(v)
	}

	hub.Send(message.FormReply("DOWNLOAD_LIST", map[string]interface{}{"downloads": dtos}, websocket.Response))
	return nil
}

// socketCancelDownload aborts the download named by the commands 'id'
// argument.
func (gateway *RestGateway) socketCancelDownload(hub *websocket.SocketHub, message *websocket.SocketMessage) error {
	if err := message.ValidateArguments(map[string]string{"id": "string"}); err != nil {
		return err
	}

	id, err := uuid.Parse(fmt.Sprintf("%v", message.Body["id"]))
	if err != nil {
		return err
	}

	if err := gateway.downloadService.Cancel(id); err != nil {
		return err
	}

	hub.Send(message.FormReply("DOWNLOAD_CANCELLED", map[string]interface{}{"id": id}, websocket.Response))
	return nil
}
