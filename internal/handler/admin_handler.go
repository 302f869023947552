package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/wakestake/internal/service"
)

const (
	sessionAdminIDKey   = "admin_id"
	sessionAdminNameKey = "admin_username"
)

type adminLoginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type policyRequest struct {
	DistanceM   *float64 `json:"distance_threshold_m"`
	AccuracyMax *float64 `json:"accuracy_max_m"`
}

// AdminLogin 处理运维登录，JSON 与表单提交均可
func (a *API) AdminLogin(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBind(&req); err != nil || strings.TrimSpace(req.Username) == "" || req.Password == "" {
		respondOutcome(c, http.StatusBadRequest, errBadRequest, "username and password are required")
		return
	}

	admin, err := a.admins.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			respondOutcome(c, http.StatusUnauthorized, "invalid_credentials", "用户名或密码错误")
			return
		}
		a.respondInternal(c, "admin login failed", err)
		return
	}

	// 设置会话
	session := sessions.Default(c)
	session.Set(sessionAdminIDKey, admin.ID)
	session.Set(sessionAdminNameKey, admin.Username)
	if err := session.Save(); err != nil {
		a.respondInternal(c, "save session failed", err)
		return
	}
	a.log.Info("admin signed in", "username", admin.Username)
	c.JSON(http.StatusOK, gin.H{"ok": true, "username": admin.Username})
}

// AdminLogout 清除会话
func (a *API) AdminLogout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		a.respondInternal(c, "clear session failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// AdminAuthRequired 是后台接口的会话校验中间件
func AdminAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		if session.Get(sessionAdminIDKey) == nil {
			respondError(c, http.StatusUnauthorized, errUnauth)
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetPolicy 返回当前生效的判定阈值
func (a *API) GetPolicy(c *gin.Context) {
	thresholds, err := a.policy.Thresholds()
	if err != nil {
		a.respondInternal(c, "load policy failed", err)
		return
	}
	c.JSON(http.StatusOK, thresholds)
}

// UpdatePolicy 更新阈值，未提供的字段保持原值
func (a *API) UpdatePolicy(c *gin.Context) {
	var req policyRequest
	if !bindJSON(c, &req, "invalid policy payload") {
		return
	}

	current, err := a.policy.Thresholds()
	if err != nil {
		a.respondInternal(c, "load policy failed", err)
		return
	}
	if req.DistanceM != nil {
		current.DistanceM = *req.DistanceM
	}
	if req.AccuracyMax != nil {
		current.AccuracyMax = *req.AccuracyMax
	}

	updated, err := a.policy.UpdateThresholds(current)
	if err != nil {
		if errors.Is(err, service.ErrInvalidThreshold) {
			respondOutcome(c, http.StatusBadRequest, "invalid_threshold", "Thresholds must be positive numbers.")
			return
		}
		a.respondInternal(c, "update policy failed", err)
		return
	}
	a.log.Info("policy updated",
		"admin", sessions.Default(c).Get(sessionAdminNameKey),
		"distance_threshold_m", updated.DistanceM,
		"accuracy_max_m", updated.AccuracyMax,
	)
	c.JSON(http.StatusOK, updated)
}

// RunReconcile 手动触发一次补偿评估
func (a *API) RunReconcile(c *gin.Context) {
	summary, err := a.reconciler.Run(c.Request.Context())
	if err != nil {
		a.respondInternal(c, "manual reconcile failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "summary": summary})
}

// RetryCharges 为扣费失败的违约补记用量
func (a *API) RetryCharges(c *gin.Context) {
	summary, err := a.billing.RetryUnbilled(c.Request.Context())
	if err != nil {
		a.respondInternal(c, "retry charges failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "summary": summary})
}

type auditRow struct {
	ID        uint            `json:"id"`
	Action    string          `json:"action"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// UserAudit 查看某个用户最近的审计日志
func (a *API) UserAudit(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		respondOutcome(c, http.StatusBadRequest, errBadRequest, "user id is required")
		return
	}
	logs, err := a.audit.List(c.Request.Context(), userID, parseLimitQuery(c, 50, 200))
	if err != nil {
		a.respondInternal(c, "list audit logs failed", err)
		return
	}

	rows := make([]auditRow, 0, len(logs))
	for _, entry := range logs {
		row := auditRow{ID: entry.ID, Action: entry.Action, CreatedAt: entry.CreatedAt.UTC()}
		if len(entry.Meta) > 0 {
			row.Meta = json.RawMessage(entry.Meta)
		}
		rows = append(rows, row)
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "rows": rows})
}
