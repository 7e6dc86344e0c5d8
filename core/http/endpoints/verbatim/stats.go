package verbatim

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/verbatimhq/verbatim/core/application"
	"github.com/verbatimhq/verbatim/core/schema"
)

const recentEventCount = 20

// StatsEndpoint summarizes recent pipeline activity
// @Summary Pipeline statistics
// @Description Rolling-window job counts by state and mode, average processing time and recent completion events
// @Tags stats
// @Produce json
// @Success 200 {object} schema.StatsResponse "Statistics"
// @Router /v1/stats [get]
func StatsEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		byState, byMode, avgSeconds := app.PipelineStats().Snapshot()
		return c.JSON(http.StatusOK, schema.StatsResponse{
			Window:       app.PipelineStats().Window(),
			JobsByState:  byState,
			JobsByMode:   byMode,
			AvgDuration:  avgSeconds,
			RecentEvents: app.EventBroker().Recent(recentEventCount),
		})
	}
}

// EventsEndpoint streams completion events over SSE
// @Summary Stream completion events
// @Description Server-sent event stream; one completion event per finished job until the client disconnects
// @Tags stats
// @Produce text/event-stream
// @Success 200 {string} string "SSE stream"
// @Router /v1/events [get]
func EventsEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Subscribe before committing the response so events published after
		// the client sees the headers are never missed.
		id, events := app.EventBroker().Subscribe()
		defer app.EventBroker().Unsubscribe(id)

		c.Response().Header().Set("Content-Type", "text/event-stream")
		c.Response().Header().Set("Cache-Control", "no-cache")
		c.Response().Header().Set("Connection", "keep-alive")
		c.Response().WriteHeader(http.StatusOK)
		c.Response().Flush()

		for {
			select {
			case <-c.Request().Context().Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				sendCompletionEvent(c, ev)
			}
		}
	}
}

func sendCompletionEvent(c echo.Context, ev schema.CompletionEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal completion event")
		return
	}
	fmt.Fprintf(c.Response().Writer, "event: completion\ndata: %s\n\n", string(data))
	c.Response().Flush()
}

// MetricsEndpoint serves the prometheus scrape surface
// @Summary Prometheus metrics
// @Description Expose job, stage and API metrics in prometheus exposition format
// @Tags stats
// @Produce plain
// @Success 200 {string} string "Metrics"
// @Router /metrics [get]
func MetricsEndpoint(app *application.Application) echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(app.MetricsService().Registry(), promhttp.HandlerOpts{}))
}
