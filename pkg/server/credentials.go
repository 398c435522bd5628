package server

import (
	"github.com/gin-gonic/gin"

	"github.com/opscart/cloudops-cost-optimizer/pkg/credentials"
	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
)

// CredentialsHandler serves /api/user/credentials
type CredentialsHandler struct {
	svc *credentials.Service
	log *logger.Logger
}

func NewCredentialsHandler(svc *credentials.Service, log *logger.Logger) *CredentialsHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &CredentialsHandler{svc: svc, log: log.With("handler", "credentials")}
}

func (h *CredentialsHandler) Register(r gin.IRouter) {
	r.POST("/api/user/credentials", h.Save)
	r.GET("/api/user/credentials/:userId/:provider", h.Get)
}

func (h *CredentialsHandler) Save(c *gin.Context) {
	var req credentials.SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Missing required fields.")
		return
	}
	if err := h.svc.Save(c.Request.Context(), req); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": "Credentials saved securely."})
}

func (h *CredentialsHandler) Get(c *gin.Context) {
	cred, err := h.svc.Get(c.Request.Context(), c.Param("userId"), c.Param("provider"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"decryptedSecret": gin.H{
			"accessKeyId":     cred.AccessKeyID,
			"secretAccessKey": cred.SecretAccessKey,
			"region":          cred.Region,
		},
	})
}
