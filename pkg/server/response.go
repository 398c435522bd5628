package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/opscart/cloudops-cost-optimizer/pkg/errors"
)

// RespondOK writes {success: true, ...payload}
func RespondOK(c *gin.Context, payload gin.H) {
	body := gin.H{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// RespondError writes {success: false, message, error} with the status
// derived from the error code
func RespondError(c *gin.Context, err error) {
	c.JSON(apperrors.HTTPStatus(err), gin.H{
		"success": false,
		"message": apperrors.MessageOf(err),
		"error":   err.Error(),
	})
}

// RespondBadRequest writes a 400 envelope with message
func RespondBadRequest(c *gin.Context, message string) {
	RespondError(c, apperrors.Invalid(message))
}
