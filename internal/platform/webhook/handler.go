package webhook

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/dispatchdesk/pkg/pagination"
)

// Handler exposes endpoint management over HTTP.
type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.RegisterEndpoint)
	g.GET("", h.ListEndpoints)
	g.GET("/:id", h.GetEndpoint)
	g.DELETE("/:id", h.DeleteEndpoint)
	g.POST("/:id/pause", h.PauseEndpoint)
	g.POST("/:id/resume", h.ResumeEndpoint)
	g.GET("/:id/deliveries", h.ListDeliveries)
}

type registerRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

func (h *Handler) RegisterEndpoint(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ep, err := h.manager.RegisterEndpoint(c.Request().Context(), req.URL, req.Secret, req.Events)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// The secret is returned once, at registration.
	return c.JSON(http.StatusCreated, ep)
}

func (h *Handler) ListEndpoints(c echo.Context) error {
	eps, err := h.manager.store.ListEndpoints(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	for _, ep := range eps {
		ep.Secret = ""
	}
	return c.JSON(http.StatusOK, pagination.Page(eps, pagination.FromContext(c)))
}

func (h *Handler) GetEndpoint(c echo.Context) error {
	ep, err := h.manager.store.GetEndpoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		return notFound(err)
	}
	ep.Secret = ""
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) DeleteEndpoint(c echo.Context) error {
	if err := h.manager.store.DeleteEndpoint(c.Request().Context(), c.Param("id")); err != nil {
		return notFound(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PauseEndpoint(c echo.Context) error {
	if err := h.manager.PauseEndpoint(c.Request().Context(), c.Param("id")); err != nil {
		return notFound(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": StatusPaused})
}

func (h *Handler) ResumeEndpoint(c echo.Context) error {
	if err := h.manager.ResumeEndpoint(c.Request().Context(), c.Param("id")); err != nil {
		return notFound(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": StatusActive})
}

func (h *Handler) ListDeliveries(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.manager.store.GetEndpoint(c.Request().Context(), id); err != nil {
		return notFound(err)
	}
	logs, err := h.manager.store.ListDeliveries(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.Page(logs, pagination.FromContext(c)))
}

func notFound(err error) error {
	if errors.Is(err, ErrEndpointNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
