package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	errBadRequest = "bad_request"
	errUnauth     = "unauth"
	errForbidden  = "forbidden"
	errInternal   = "internal_error"
)

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// respondOutcome 返回 {ok:false,error,message}，用于时间窗口与判定类结果。
func respondOutcome(c *gin.Context, status int, code, message string) {
	payload := gin.H{"ok": false, "error": code}
	if message != "" {
		payload["message"] = message
	}
	c.JSON(status, payload)
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondOutcome(c, http.StatusBadRequest, errBadRequest, message)
		return false
	}
	return true
}

// respondInternal 记录错误并返回通用的 500。
func (a *API) respondInternal(c *gin.Context, msg string, err error) {
	a.log.Error(msg, "path", c.FullPath(), "user_id", c.GetString(contextUserIDKey), "error", err)
	respondError(c, http.StatusInternalServerError, errInternal)
}

func parseLimitQuery(c *gin.Context, def, upper int) int {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > upper {
		return upper
	}
	return limit
}

func parseFloatQuery(c *gin.Context, key string) (float64, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
