package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/polyvox/notify-engine/internal/digest"
	"github.com/polyvox/notify-engine/internal/outbox"
)

type processOutboxReq struct {
	Limit int `json:"limit"`
}

// processOutboxHandler drains due outbox jobs on demand. The cron scheduler
// covers steady state; this trigger exists for ops and tests.
func processOutboxHandler(proc *outbox.Processor) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req processOutboxReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if req.Limit < 0 || req.Limit > 500 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}

		res, err := proc.Run(c.Request().Context(), req.Limit, time.Now().UTC())
		if err != nil {
			log.Errorf("outbox run failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "run failed"})
		}

		return c.JSON(http.StatusOK, res)
	}
}

type runDigestsReq struct {
	LimitEntities      int  `json:"limitEntities"`
	MaxEventsPerDigest int  `json:"maxEventsPerDigest"`
	DryRun             bool `json:"dryRun"`
}

func runDigestsHandler(agg *digest.Aggregator) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req runDigestsReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if req.LimitEntities < 0 || req.MaxEventsPerDigest < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limits"})
		}

		res, err := agg.Run(c.Request().Context(), digest.Params{
			LimitEntities:      req.LimitEntities,
			MaxEventsPerDigest: req.MaxEventsPerDigest,
			DryRun:             req.DryRun,
		}, time.Now().UTC())
		if err != nil {
			log.Errorf("digest run failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "run failed"})
		}

		return c.JSON(http.StatusOK, res)
	}
}
