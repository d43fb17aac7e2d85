package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/polyvox/notify-engine/internal/intake"
	"github.com/polyvox/notify-engine/internal/model"
)

func recordMentionHandler(svc *intake.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req intake.MentionRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.EntityID = strings.TrimSpace(req.EntityID)
		req.ContentID = strings.TrimSpace(req.ContentID)
		req.ContentURL = strings.TrimSpace(req.ContentURL)

		if req.EntityID == "" || req.ContentID == "" || req.ContentURL == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing required fields"})
		}
		if _, ok := model.ParseContentType(req.ContentType); !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid content type"})
		}

		res, err := svc.Record(c.Request().Context(), req)
		if err != nil {
			if errors.Is(err, intake.ErrEntityNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "entity not found"})
			}

			log.Errorf("record mention failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusAccepted, res)
	}
}
