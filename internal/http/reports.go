package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/polyvox/notify-engine/internal/model"
	"github.com/polyvox/notify-engine/internal/repository"
)

func listOutboxHandler(chRepo repository.CHOutboxRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		var st model.OutboxStatus
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			tmp := model.OutboxStatus(raw)
			if tmp.Valid() {
				st = tmp
			}
		}

		toEmail := strings.TrimSpace(c.QueryParam("to"))

		rows, err := chRepo.List(c.Request().Context(), st, toEmail, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
