package websocket

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/auth"
)

// Handler upgrades HTTP requests on /ws and starts the connection pumps.
type Handler struct {
	ctx      context.Context
	gateway  *Gateway
	upgrader gorillawebsocket.Upgrader
}

// NewHandler builds the upgrade handler. ctx bounds the work done on behalf
// of every connection; cancel it on shutdown. An origin list containing "*"
// or nothing accepts any origin.
func NewHandler(ctx context.Context, gateway *Gateway, allowedOrigins []string) *Handler {
	return &Handler{
		ctx:     ctx,
		gateway: gateway,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.TrimRight(o, "/")] = true
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Non-browser clients send no Origin header.
		return origin == "" || set[origin]
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.HandleConnect)
}

// HandleConnect upgrades the connection. When the upgrade request carried a
// verified token the connection is pinned to that identity.
func (h *Handler) HandleConnect(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		return nil
	}

	client := h.gateway.NewClient(uuid.NewString(), ws)
	reqCtx := c.Request().Context()
	if id, role, err := auth.IdentityFromContext(reqCtx); err == nil && auth.IsVerified(reqCtx) {
		client.bindVerified(id, role)
	}

	h.gateway.Connect(client)
	go client.writePump()
	go client.readPump(h.ctx, h.gateway)
	return nil
}
