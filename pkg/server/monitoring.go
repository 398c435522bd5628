package server

import (
	"github.com/gin-gonic/gin"

	"github.com/opscart/cloudops-cost-optimizer/pkg/actuator"
	"github.com/opscart/cloudops-cost-optimizer/pkg/inventory"
	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
)

// MonitoringBackend reads inventory and acts on resources
type MonitoringBackend interface {
	inventory.Provider
	actuator.Actuator
}

// MonitoringHandler serves the monitoring service routes
type MonitoringHandler struct {
	backend MonitoringBackend
	log     *logger.Logger
}

func NewMonitoringHandler(backend MonitoringBackend, log *logger.Logger) *MonitoringHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &MonitoringHandler{backend: backend, log: log.With("handler", "monitoring")}
}

func (h *MonitoringHandler) Register(r gin.IRouter) {
	r.GET(inventory.MonitoringPath+":userId", h.Metrics)
	r.POST(actuator.PathStopInstance, h.StopInstance)
	r.POST(actuator.PathTerminateInstance, h.TerminateInstance)
	r.POST(actuator.PathDeleteVolume, h.DeleteVolume)
}

func (h *MonitoringHandler) Metrics(c *gin.Context) {
	snap, err := h.backend.Snapshot(c.Request.Context(), c.Param("userId"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"region":      snap.Region,
		"collectedAt": snap.CollectedAt,
		"resources":   snap.Resources,
	})
}

func (h *MonitoringHandler) bind(c *gin.Context) (actuator.ActionRequest, bool) {
	var req actuator.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		RespondBadRequest(c, "userId is required")
		return req, false
	}
	return req, true
}

func (h *MonitoringHandler) StopInstance(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	if err := h.backend.StopInstance(c.Request.Context(), req.UserID, req.InstanceID, req.RecommendationID); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": "Instance " + req.InstanceID + " stopping"})
}

func (h *MonitoringHandler) TerminateInstance(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	if err := h.backend.TerminateInstance(c.Request.Context(), req.UserID, req.InstanceID, req.RecommendationID); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": "Instance " + req.InstanceID + " terminating"})
}

func (h *MonitoringHandler) DeleteVolume(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	if err := h.backend.DeleteVolume(c.Request.Context(), req.UserID, req.VolumeID, req.RecommendationID); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": "Volume " + req.VolumeID + " deleted"})
}
