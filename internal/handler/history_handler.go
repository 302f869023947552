package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wakestake/internal/service"
)

type historyRow struct {
	LocalDate string `json:"local_date"`
	Status    string `json:"status"`
	Source    string `json:"source,omitempty"`
}

// History 返回评估历史、扣费总额与连胜。
func (a *API) History(c *gin.Context) {
	limit := parseLimitQuery(c, 90, 366)
	view, err := a.history.History(c.Request.Context(), c.GetString(contextUserIDKey), limit)
	if err != nil {
		a.respondInternal(c, "load history failed", err)
		return
	}

	rows := make([]historyRow, 0, len(view.Rows))
	for _, row := range view.Rows {
		rows = append(rows, historyRow{LocalDate: row.LocalDate, Status: row.Status, Source: row.Source})
	}

	c.JSON(http.StatusOK, gin.H{
		"rows":      rows,
		"total_usd": view.TotalUSD,
		"streak": gin.H{
			"current": view.CurrentStreak,
			"longest": view.LongestStreak,
		},
	})
}

// StreakBadge 输出连胜徽章 PNG。
func (a *API) StreakBadge(c *gin.Context) {
	streak, err := a.streaks.Get(c.Request.Context(), c.GetString(contextUserIDKey))
	if err != nil {
		a.respondInternal(c, "load streak failed", err)
		return
	}
	image, err := service.RenderStreakBadge(streak.CurrentStreak, streak.LongestStreak)
	if err != nil {
		a.respondInternal(c, "render badge failed", err)
		return
	}
	c.Header("Cache-Control", "private, max-age=60")
	c.Data(http.StatusOK, "image/png", image)
}
