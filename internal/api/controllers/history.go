package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/datallboy/gotubedl/internal/app"
	"github.com/datallboy/gotubedl/internal/domain"
	"github.com/labstack/echo/v5"
)

type HistoryController struct {
	App *app.Context
}

var errHistoryDisabled = errors.New("history store is not configured")

func (ctrl *HistoryController) ListRuns(c *echo.Context) error {
	if ctrl.App.Store == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody(errHistoryDisabled))
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
		}
		limit = n
	}

	runs, err := ctrl.App.Store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err))
	}
	if runs == nil {
		runs = []*domain.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (ctrl *HistoryController) GetRun(c *echo.Context) error {
	if ctrl.App.Store == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody(errHistoryDisabled))
	}

	run, err := ctrl.App.Store.GetRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody(err))
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err))
	}
	return c.JSON(http.StatusOK, run)
}

func (ctrl *HistoryController) ListItems(c *echo.Context) error {
	if ctrl.App.Store == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody(errHistoryDisabled))
	}

	ctx := c.Request().Context()
	id := c.Param("id")

	// 404 for unknown runs rather than an empty list
	if _, err := ctrl.App.Store.GetRun(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody(err))
		}
		return c.JSON(http.StatusInternalServerError, errorBody(err))
	}

	items, err := ctrl.App.Store.ListItems(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err))
	}
	if items == nil {
		items = []*domain.ItemRecord{}
	}
	return c.JSON(http.StatusOK, items)
}
