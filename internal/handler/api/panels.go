package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"CryptoAgent/internal/chart"
	"CryptoAgent/internal/domain/models"
	"CryptoAgent/internal/panel"
	"CryptoAgent/internal/service/ratelimit"
	"CryptoAgent/internal/services/analysis"
	"CryptoAgent/internal/surface"
	"CryptoAgent/internal/usecase"
	xhttp "CryptoAgent/pkg/http"
	xlogger "CryptoAgent/pkg/logger"

	"github.com/labstack/echo/v4"
)

// PanelsHandler exposes the dashboard panels over HTTP and websocket.
type PanelsHandler struct {
	logger  *xlogger.Logger
	dash    *usecase.Dashboard
	hub     *surface.Hub
	limiter *ratelimit.Limiter
}

func NewPanelsHandler(logger *xlogger.Logger, dash *usecase.Dashboard, hub *surface.Hub, limiter *ratelimit.Limiter) *PanelsHandler {
	return &PanelsHandler{logger: logger.Component("panels-api"), dash: dash, hub: hub, limiter: limiter}
}

func (h *PanelsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/analysis", h.Preview)
	g.GET("/panels", h.List)
	g.GET("/panels/:id", h.Scene)
	g.GET("/panels/:id/report", h.Report)
	g.POST("/panels/:id/load", h.Load)
	g.POST("/panels/:id/refresh", h.Refresh)
	g.POST("/panels/:id/reload", h.Reload)
	g.DELETE("/panels/:id", h.Unmount)
	g.GET("/panels/:id/chart.png", h.Image(surface.FormatPNG))
	g.GET("/panels/:id/chart.svg", h.Image(surface.FormatSVG))
	e.GET("/ws/panels/:id", h.Stream)
}

// Preview returns the render plan of a query without mounting it.
func (h *PanelsHandler) Preview(c echo.Context) error {
	req := &models.ChartRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	plan, err := h.dash.Preview(c.Request().Context(), req.Key())
	if err != nil {
		return h.fail(c, "preview", err)
	}
	return xhttp.SuccessResponse(c, plan)
}

func (h *PanelsHandler) List(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.dash.Panels())
}

func (h *PanelsHandler) Scene(c echo.Context) error {
	ref, verr := panelRef(c)
	if verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	scene, err := h.dash.Scene(ref.ID)
	if err != nil {
		return h.fail(c, "scene", err)
	}
	return xhttp.SuccessResponse(c, scene)
}

func (h *PanelsHandler) Report(c echo.Context) error {
	ref, verr := panelRef(c)
	if verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	report, err := h.dash.Report(ref.ID)
	if err != nil {
		return h.fail(c, "report", err)
	}
	return xhttp.SuccessResponse(c, report)
}

// Load accepts the query either as query parameters or as a JSON body.
func (h *PanelsHandler) Load(c echo.Context) error {
	ref, verr := panelRef(c)
	if verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	req := &models.ChartRequest{}
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, req); err != nil {
		return xhttp.BadRequestResponse(c, xhttp.BadRequestError("invalid query parameters"))
	}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	report, err := h.dash.Load(c.Request().Context(), ref.ID, req.Key())
	if err != nil {
		return h.fail(c, "load", err)
	}
	return xhttp.SuccessResponse(c, report)
}

func (h *PanelsHandler) Refresh(c echo.Context) error {
	ref, verr := panelRef(c)
	if verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	kind, err := h.dash.Refresh(c.Request().Context(), ref.ID)
	if err != nil {
		return h.fail(c, "refresh", err)
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{"update": kind, "applied": kind != ""})
}

func (h *PanelsHandler) Reload(c echo.Context) error {
	ref, verr := panelRef(c)
	if verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	report, err := h.dash.Reload(c.Request().Context(), ref.ID)
	if err != nil {
		return h.fail(c, "reload", err)
	}
	return xhttp.SuccessResponse(c, report)
}

func (h *PanelsHandler) Unmount(c echo.Context) error {
	ref, verr := panelRef(c)
	if verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.dash.Unmount(ref.ID)
	return xhttp.NoContentResponse(c)
}

// Image renders the mounted scene. Rendering is rate limited per client address.
func (h *PanelsHandler) Image(format surface.Format) echo.HandlerFunc {
	return func(c echo.Context) error {
		ref, verr := panelRef(c)
		if verr != nil {
			return xhttp.BadRequestResponse(c, verr)
		}
		req := &models.ImageRequest{}
		if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
			return xhttp.BadRequestResponse(c, verr)
		}
		if !h.limiter.Allow(c.RealIP()) {
			return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RATE_LIMITED", "", "too many render requests", http.StatusTooManyRequests))
		}

		scene, err := h.dash.Scene(ref.ID)
		if err != nil {
			return h.fail(c, "image", err)
		}
		var buf bytes.Buffer
		if err := surface.Render(&buf, scene, surface.RenderOptions{Format: format, Width: req.Width, Height: req.Height}); err != nil {
			return h.fail(c, "image", err)
		}
		c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
		return c.Blob(http.StatusOK, format.ContentType(), buf.Bytes())
	}
}

// Stream upgrades to a websocket carrying the panel's surface ops.
func (h *PanelsHandler) Stream(c echo.Context) error {
	ref, verr := panelRef(c)
	if verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.hub.ServeWS(c.Response(), c.Request(), ref.ID); err != nil {
		h.logger.Warn("websocket upgrade failed", xlogger.String("panel", ref.ID), xlogger.Error(err))
	}
	return nil
}

func panelRef(c echo.Context) (*models.PanelRef, interface{}) {
	ref := &models.PanelRef{ID: c.Param("id")}
	if err := xhttp.Validate(ref); err != nil {
		return nil, []*xhttp.AppError{xhttp.BadRequestError("invalid panel id").WithError(err)}
	}
	return ref, nil
}

// fail maps domain errors to the API error envelope.
func (h *PanelsHandler) fail(c echo.Context, op string, err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.Is(err, models.ErrInvalidKey):
		appErr = xhttp.BadRequestError(err.Error())
	case errors.Is(err, panel.ErrNotMounted):
		appErr = xhttp.NotFoundErrorf("panel %s is not mounted", c.Param("id"))
	case errors.Is(err, panel.ErrStale), errors.Is(err, panel.ErrClosed):
		appErr = xhttp.ConflictError("superseded by a newer request")
	case errors.Is(err, usecase.ErrClosed):
		appErr = xhttp.NewAppError("ERR_UNAVAILABLE", "", "shutting down", http.StatusServiceUnavailable)
	case analysis.IsNotFound(err):
		appErr = xhttp.NotFoundError("symbol not found by the analysis service")
	case errors.Is(err, analysis.ErrUpstream), errors.Is(err, context.DeadlineExceeded):
		appErr = xhttp.BadGatewayError("analysis service unavailable")
	case errors.Is(err, chart.ErrUnorderedCandles),
		errors.Is(err, surface.ErrEmptyScene),
		errors.Is(err, surface.ErrOutOfOrder),
		errors.Is(err, surface.ErrDisposed):
		appErr = xhttp.UnprocessableError(err.Error())
	default:
		appErr = xhttp.InternalError("internal error")
	}
	appErr.WithError(err)

	fields := []xlogger.Field{xlogger.String("op", op), xlogger.Int("status", appErr.Status), xlogger.Error(err)}
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error("panel request failed", fields...)
	} else {
		h.logger.Debug("panel request rejected", fields...)
	}
	return xhttp.AppErrorResponse(c, appErr)
}
