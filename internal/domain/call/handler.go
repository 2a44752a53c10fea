package call

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
	g := api.Group("/calls", auth.RequireIdentity())
	g.GET("/missed", h.ListMissed)
	g.GET("/missed/count", h.CountMissed)
	g.PUT("/missed/mark-seen", h.MarkSeen)
	g.GET("/history", h.ListHistory)
	g.GET("/:id", h.GetCall)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotParticipant):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		// The cause reaches the access log through Internal, never the client.
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

func requester(c echo.Context) (int64, error) {
	id, _, err := auth.IdentityFromContext(c.Request().Context())
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func (h *Handler) ListMissed(c echo.Context) error {
	userID, err := requester(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Missed(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*CallLog{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) CountMissed(c echo.Context) error {
	userID, err := requester(c)
	if err != nil {
		return err
	}
	n, err := h.svc.MissedCount(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}

type markSeenRequest struct {
	CallIDs []int64 `json:"callIds"`
}

func (h *Handler) MarkSeen(c echo.Context) error {
	userID, err := requester(c)
	if err != nil {
		return err
	}
	var body markSeenRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	n, err := h.svc.MarkSeen(c.Request().Context(), userID, body.CallIDs)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": n})
}

func (h *Handler) ListHistory(c echo.Context) error {
	userID, err := requester(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), userID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetCall(c echo.Context) error {
	userID, err := requester(c)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.Get(c.Request().Context(), id, userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}
