package conversation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/conversations", auth.RequireIdentity())
	g.POST("", h.StartConversation, auth.RequireRole(auth.RolePatient))
	g.GET("", h.ListConversations)
	g.GET("/unread-count", h.GetUnreadCount)
	g.GET("/:id", h.GetConversation)
	g.PUT("/:id/close", h.CloseConversation)
	g.GET("/:id/messages", h.ListMessages)
	g.POST("/:id/messages", h.SendMessage)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotParticipant):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrClosed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		// The cause reaches the access log through Internal, never the client.
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func identity(c echo.Context) (int64, string, error) {
	id, role, err := auth.IdentityFromContext(c.Request().Context())
	if err != nil {
		return 0, "", echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, role, nil
}

func (h *Handler) StartConversation(c echo.Context) error {
	userID, _, err := identity(c)
	if err != nil {
		return err
	}
	var in StartInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if in.ProviderProfileID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "doctorId is required")
	}
	in.PatientID = userID

	conv, created, err := h.svc.Start(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, conv)
}

func (h *Handler) ListConversations(c echo.Context) error {
	userID, role, err := identity(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), userID, role, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetUnreadCount(c echo.Context) error {
	userID, role, err := identity(c)
	if err != nil {
		return err
	}
	n, err := h.svc.UnreadCount(c.Request().Context(), userID, role)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"unreadCount": n})
}

func (h *Handler) GetConversation(c echo.Context) error {
	userID, _, err := identity(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	conv, err := h.svc.Get(c.Request().Context(), id, userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *Handler) CloseConversation(c echo.Context) error {
	userID, _, err := identity(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	conv, err := h.svc.Close(c.Request().Context(), id, userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *Handler) ListMessages(c echo.Context) error {
	userID, _, err := identity(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMessages(c.Request().Context(), id, userID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) SendMessage(c echo.Context) error {
	userID, _, err := identity(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in SendMessageInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in.ConversationID = id
	in.SenderID = userID

	msg, err := h.svc.SendMessage(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}
