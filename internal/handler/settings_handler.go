package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wakestake/internal/service"
)

type setupRequest struct {
	Timezone string `json:"tz"`
	Home     *struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	} `json:"home"`
	WakeTime     string   `json:"wake_time"`
	StakeUSD     *float64 `json:"stake_usd"`
	GraceMinutes *int     `json:"grace_min"`
	Active       *bool    `json:"active"`
}

type pauseRequest struct {
	Active *bool `json:"active"`
}

type consentRequest struct {
	Kind string `json:"kind"`
}

// GetSettings 返回当前用户的配置，未设置的字段使用默认值。
func (a *API) GetSettings(c *gin.Context) {
	settings, err := a.settings.Get(c.Request.Context(), c.GetString(contextUserIDKey))
	if err != nil {
		a.respondInternal(c, "load settings failed", err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// Setup 保存家的位置、日程与押金。
func (a *API) Setup(c *gin.Context) {
	var req setupRequest
	if !bindJSON(c, &req, "bad request") {
		return
	}
	if req.Timezone == "" || req.WakeTime == "" || req.StakeUSD == nil || req.Home == nil || req.Home.Lat == nil || req.Home.Lng == nil {
		respondOutcome(c, http.StatusBadRequest, errBadRequest, "tz, home, wake_time and stake_usd are required")
		return
	}

	settings, err := a.settings.Setup(c.Request.Context(), c.GetString(contextUserIDKey), service.SetupInput{
		Timezone:     req.Timezone,
		HomeLat:      *req.Home.Lat,
		HomeLng:      *req.Home.Lng,
		WakeTime:     req.WakeTime,
		StakeUSD:     *req.StakeUSD,
		GraceMinutes: req.GraceMinutes,
		Active:       req.Active,
		UserAgent:    c.Request.UserAgent(),
	})
	if err != nil {
		a.handleSettingsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "settings": settings})
}

// Pause 启用或暂停每日评估。
func (a *API) Pause(c *gin.Context) {
	var req pauseRequest
	if !bindJSON(c, &req, "active must be a boolean") {
		return
	}
	if req.Active == nil {
		respondOutcome(c, http.StatusBadRequest, errBadRequest, "active must be a boolean")
		return
	}

	schedule, err := a.settings.SetActive(c.Request.Context(), c.GetString(contextUserIDKey), *req.Active)
	if err != nil {
		a.respondInternal(c, "toggle schedule failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"active":      schedule.ActiveEveryday,
		"active_from": schedule.ActiveFrom,
	})
}

// Status 返回配置完成度。
func (a *API) Status(c *gin.Context) {
	status, err := a.settings.Status(c.Request.Context(), c.GetString(contextUserIDKey))
	if err != nil {
		a.respondInternal(c, "load status failed", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Today 返回今天的窗口与打卡状态。
func (a *API) Today(c *gin.Context) {
	view, err := a.history.Today(c.Request.Context(), c.GetString(contextUserIDKey))
	if err != nil {
		a.respondInternal(c, "load today failed", err)
		return
	}

	payload := gin.H{
		"configured": view.Configured,
		"active":     view.Active,
		"checked":    view.Checked,
	}
	if view.Configured {
		payload["local_date"] = view.LocalDate
		if view.Status != "" {
			payload["status"] = view.Status
		}
		if view.Window != nil {
			payload["window_start"] = view.Window.Start.UTC().Format(time.RFC3339)
			payload["window_end"] = view.Window.End.UTC().Format(time.RFC3339)
		}
	}
	if view.Checked {
		payload["message"] = "Today's check-in is already complete."
	}
	c.JSON(http.StatusOK, payload)
}

// Consent 记录用户同意条款。
func (a *API) Consent(c *gin.Context) {
	var req consentRequest
	// kind 可省略
	_ = c.ShouldBindJSON(&req)
	if req.Kind == "" {
		req.Kind = "consent"
	}

	if err := a.audit.RecordConsent(c.Request.Context(), c.GetString(contextUserIDKey), req.Kind, c.Request.UserAgent()); err != nil {
		if errors.Is(err, service.ErrInvalidConsentKind) {
			respondOutcome(c, http.StatusBadRequest, errBadRequest, "invalid consent kind")
			return
		}
		a.respondInternal(c, "record consent failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *API) handleSettingsError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidTimezone):
		respondOutcome(c, http.StatusBadRequest, "invalid_timezone", "Unknown time zone.")
	case errors.Is(err, service.ErrInvalidWakeTime):
		respondOutcome(c, http.StatusBadRequest, "invalid_wake_time", "Wake time must be HH:MM.")
	case errors.Is(err, service.ErrInvalidCoordinates):
		respondOutcome(c, http.StatusBadRequest, "invalid_coordinates", "Home location is out of range.")
	case errors.Is(err, service.ErrInvalidGrace):
		respondOutcome(c, http.StatusBadRequest, "invalid_grace", "Grace must be between 0 and 180 minutes.")
	case errors.Is(err, service.ErrInvalidStake):
		respondOutcome(c, http.StatusBadRequest, "invalid_stake", "Stake must be a number.")
	default:
		a.respondInternal(c, "setup failed", err)
	}
}
