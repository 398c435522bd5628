package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
	"github.com/opscart/cloudops-cost-optimizer/pkg/optimizer"
	"github.com/opscart/cloudops-cost-optimizer/pkg/reporter"
	"github.com/opscart/cloudops-cost-optimizer/pkg/savings"
)

// OptimizerHandler serves /api/optimizer/:userId/...
type OptimizerHandler struct {
	svc     *optimizer.Service
	savings *savings.Calculator
	log     *logger.Logger
}

func NewOptimizerHandler(svc *optimizer.Service, calc *savings.Calculator, log *logger.Logger) *OptimizerHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &OptimizerHandler{svc: svc, savings: calc, log: log.With("handler", "optimizer")}
}

func (h *OptimizerHandler) Register(r gin.IRouter) {
	g := r.Group("/api/optimizer/:userId")
	g.POST("/generate-recommendations", h.Generate)
	g.GET("/recommendations", h.List)
	g.GET("/recommendations/export", h.Export)
	g.GET("/savings-potential", h.SavingsPotential)
	g.POST("/verify/:recommendationId", h.Verify)
	g.POST("/implement/:recommendationId", h.Implement)
	g.GET("/savings/total", h.SavingsTotal)
	g.GET("/savings/timeline", h.SavingsTimeline)
}

func (h *OptimizerHandler) Generate(c *gin.Context) {
	res, err := h.svc.Generate(c.Request.Context(), c.Param("userId"))
	if err != nil {
		RespondError(c, err)
		return
	}

	message := "Recommendations generated"
	if res.Count == 0 {
		message = "No recommendations - infrastructure is optimized"
	}
	RespondOK(c, gin.H{
		"message":         message,
		"count":           res.Count,
		"recommendations": res.Recommendations,
	})
}

func parseFilter(c *gin.Context) (models.RecommendationFilter, bool) {
	var f models.RecommendationFilter
	if raw := c.Query("implemented"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			RespondBadRequest(c, "implemented must be true or false")
			return f, false
		}
		f.Implemented = &v
	}
	f.Priority = models.Priority(c.Query("priority"))
	f.Category = models.Category(c.Query("category"))
	return f, true
}

func (h *OptimizerHandler) List(c *gin.Context) {
	filter, ok := parseFilter(c)
	if !ok {
		return
	}
	recs, err := h.svc.List(c.Request.Context(), c.Param("userId"), filter)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"count": len(recs), "recommendations": recs})
}

func (h *OptimizerHandler) Export(c *gin.Context) {
	format, err := reporter.ParseFormat(c.DefaultQuery("format", "csv"))
	if err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	filter, ok := parseFilter(c)
	if !ok {
		return
	}

	userID := c.Param("userId")
	recs, err := h.svc.List(c.Request.Context(), userID, filter)
	if err != nil {
		RespondError(c, err)
		return
	}

	ext := "csv"
	if format == reporter.FormatMarkdown {
		ext = "md"
	}
	c.Header("Content-Disposition", "attachment; filename=recommendations-"+userID+"."+ext)
	c.Header("Content-Type", format.ContentType())
	c.Status(http.StatusOK)
	if err := reporter.Write(reporter.Generate(userID, recs), format, c.Writer); err != nil {
		h.log.Error("failed to write export", "userId", userID, "error", err)
	}
}

func (h *OptimizerHandler) SavingsPotential(c *gin.Context) {
	p, err := h.svc.SavingsPotential(c.Request.Context(), c.Param("userId"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"totalMonthlySavings": p.TotalMonthlySavings,
		"totalYearlySavings":  p.TotalYearlySavings,
		"recommendationCount": p.RecommendationCount,
	})
}

func (h *OptimizerHandler) Verify(c *gin.Context) {
	result := h.svc.Verify(c.Request.Context(), c.Param("userId"), c.Param("recommendationId"))
	RespondOK(c, gin.H{"verified": result.Verified, "reason": result.Reason})
}

func (h *OptimizerHandler) Implement(c *gin.Context) {
	var req optimizer.ImplementRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	rec, err := h.svc.Implement(c.Request.Context(), c.Param("userId"), c.Param("recommendationId"), req)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": "Recommendation marked as implemented", "recommendation": rec})
}

func (h *OptimizerHandler) SavingsTotal(c *gin.Context) {
	timeframe := models.Timeframe(c.DefaultQuery("timeframe", string(models.TimeframeAll)))
	totals, err := h.savings.Total(c.Request.Context(), c.Param("userId"), timeframe)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"timeframe":             timeframe,
		"totalActualSavings":    totals.TotalActualSavings,
		"totalEstimatedSavings": totals.TotalEstimatedSavings,
		"savingsCount":          totals.SavingsCount,
		"accuracy":              totals.Accuracy,
	})
}

func (h *OptimizerHandler) SavingsTimeline(c *gin.Context) {
	days := savings.DefaultTimelineDays
	if raw := c.Query("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			RespondBadRequest(c, "days must be a positive integer")
			return
		}
		days = v
	}

	points, err := h.savings.Timeline(c.Request.Context(), c.Param("userId"), days)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"days": days, "timeline": points})
}
