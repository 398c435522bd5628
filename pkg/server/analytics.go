package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opscart/cloudops-cost-optimizer/pkg/analytics"
	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
)

// AnalyticsHandler serves /api/analytics/:userId/...
type AnalyticsHandler struct {
	svc *analytics.Service
	log *logger.Logger
}

func NewAnalyticsHandler(svc *analytics.Service, log *logger.Logger) *AnalyticsHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &AnalyticsHandler{svc: svc, log: log.With("handler", "analytics")}
}

func (h *AnalyticsHandler) Register(r gin.IRouter) {
	g := r.Group("/api/analytics/:userId")
	g.POST("/collect", h.Collect)
	g.GET("/metrics/history", h.History)
	g.GET("/metrics/trends", h.Trends)
}

func (h *AnalyticsHandler) Collect(c *gin.Context) {
	n, err := h.svc.Collect(c.Request.Context(), c.Param("userId"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": "Metrics collected", "count": n})
}

func (h *AnalyticsHandler) History(c *gin.Context) {
	q := analytics.HistoryQuery{
		Service:    c.Query("service"),
		MetricName: c.Query("metricName"),
		Range:      analytics.TimeRange(c.DefaultQuery("timeRange", string(analytics.Range24h))),
	}
	if q.Range == analytics.RangeCustom {
		var ok bool
		if q.Start, ok = parseDate(c, "startDate"); !ok {
			return
		}
		if q.End, ok = parseDate(c, "endDate"); !ok {
			return
		}
	}

	samples, err := h.svc.History(c.Request.Context(), c.Param("userId"), q)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"count": len(samples), "data": samples})
}

func (h *AnalyticsHandler) Trends(c *gin.Context) {
	trends, err := h.svc.Trends(c.Request.Context(), c.Param("userId"), c.Query("service"), c.Query("metricName"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"trends": trends})
}

// parseDate reads an RFC 3339 timestamp or YYYY-MM-DD date. An absent
// value yields the zero time.
func parseDate(c *gin.Context, key string) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	RespondBadRequest(c, key+" must be RFC 3339 or YYYY-MM-DD")
	return time.Time{}, false
}
