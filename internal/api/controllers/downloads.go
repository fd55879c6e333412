package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/datallboy/gotubedl/internal/app"
	"github.com/datallboy/gotubedl/internal/domain"
	"github.com/datallboy/gotubedl/internal/downloader"
	"github.com/labstack/echo/v5"
)

type DownloadController struct {
	App     *app.Context
	Service *downloader.Service
}

// Submit queues urls on the running batch or starts a new one
func (ctrl *DownloadController) Submit(c *echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	urls := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "urls must not be empty"})
	}

	runID, items, err := ctrl.Service.Submit(c.Request().Context(), urls)
	if err != nil {
		ctrl.App.Logger.Error("Submit failed: %v", err)
		return c.JSON(http.StatusInternalServerError, errorBody(err))
	}

	return c.JSON(http.StatusAccepted, SubmitResponse{RunID: runID, Items: items})
}

// Stop cancels every in-flight download of the active batch
func (ctrl *DownloadController) Stop(c *echo.Context) error {
	if err := ctrl.Service.Stop(); err != nil {
		if errors.Is(err, domain.ErrNoActiveRun) {
			return c.JSON(http.StatusConflict, errorBody(err))
		}
		return c.JSON(http.StatusInternalServerError, errorBody(err))
	}
	return c.JSON(http.StatusAccepted, ctrl.Service.Status())
}

func (ctrl *DownloadController) Status(c *echo.Context) error {
	return c.JSON(http.StatusOK, ctrl.Service.Status())
}
