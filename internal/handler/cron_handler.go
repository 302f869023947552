package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CronEvaluate 由外部调度器调用，对窗口已关闭的用户补做评估。
func (a *API) CronEvaluate(c *gin.Context) {
	summary, err := a.reconciler.Run(c.Request.Context())
	if err != nil {
		a.respondInternal(c, "reconcile failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"processed":  summary.Processed,
		"violations": summary.Violations,
		"failed":     summary.Failed,
	})
}
