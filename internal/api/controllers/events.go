package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/datallboy/gotubedl/internal/app"
	"github.com/datallboy/gotubedl/internal/events"
	"github.com/labstack/echo/v5"
)

const keepAliveInterval = 15 * time.Second

type EventsController struct {
	App *app.Context
}

// Stream pushes engine events to the client as server-sent events until it disconnects
func (ctrl *EventsController) Stream(c *echo.Context) error {
	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return err
	}

	id, ch, cancel := ctrl.App.Events.Subscribe(events.DefaultBuffer)
	defer cancel()
	ctrl.App.Logger.Debug("SSE subscriber %s connected", id)
	defer ctrl.App.Logger.Debug("SSE subscriber %s disconnected", id)

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				ctrl.App.Logger.Warn("SSE encode failed: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return nil
			}
		}

		if err := rc.Flush(); err != nil {
			return nil
		}
	}
}
