package handler

import (
	"errors"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wakestake/internal/service"
)

type checkinRequest struct {
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Accuracy *float64 `json:"accuracy"`
}

// Checkin 处理实时打卡。成功返回 200，其余结果统一为 400 + 结果码。
func (a *API) Checkin(c *gin.Context) {
	var req checkinRequest
	if !bindJSON(c, &req, "lat, lng and accuracy are required") {
		return
	}
	if req.Lat == nil || req.Lng == nil || req.Accuracy == nil {
		respondOutcome(c, http.StatusBadRequest, errBadRequest, "lat, lng and accuracy are required")
		return
	}

	result, err := a.checkins.Submit(c.Request.Context(), service.CheckinInput{
		UserID:    c.GetString(contextUserIDKey),
		Lat:       *req.Lat,
		Lng:       *req.Lng,
		AccuracyM: *req.Accuracy,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidFix) {
			respondOutcome(c, http.StatusBadRequest, errBadRequest, "Invalid position fix.")
			return
		}
		a.respondInternal(c, "checkin failed", err)
		return
	}

	if !result.OK() {
		payload := gin.H{"ok": false, "error": result.Outcome, "message": result.Message}
		if result.LocalDate != "" {
			payload["local_date"] = result.LocalDate
		}
		if result.Distance != nil {
			payload["distance_m"] = math.Round(*result.Distance)
		}
		c.JSON(http.StatusBadRequest, payload)
		return
	}

	payload := gin.H{
		"ok":         true,
		"status":     result.Outcome,
		"message":    result.Message,
		"local_date": result.LocalDate,
	}
	if result.Distance != nil {
		payload["distance_m"] = math.Round(*result.Distance)
	}
	c.JSON(http.StatusOK, payload)
}
