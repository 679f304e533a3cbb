package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Brownster/email-ai-assistant/internal/services"
)

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func respondValidation(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "VALIDATION_ERROR",
			"message": "Invalid request body",
			"details": err.Error(),
		},
	})
}

// errorMapping pairs a service sentinel with its HTTP status and error code
type errorMapping struct {
	err    error
	status int
	code   string
}

// serviceErrors is checked in order; the first match wins
var serviceErrors = []errorMapping{
	{services.ErrEmailNotFound, http.StatusNotFound, "EMAIL_NOT_FOUND"},
	{services.ErrProviderNotFound, http.StatusNotFound, "PROVIDER_NOT_FOUND"},
	{services.ErrAttachmentNotFound, http.StatusNotFound, "ATTACHMENT_NOT_FOUND"},
	{services.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND"},
	{services.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{services.ErrDraftLocked, http.StatusConflict, "DRAFT_LOCKED"},
	{services.ErrDraftEdited, http.StatusConflict, "DRAFT_EDITED"},
	{services.ErrFetchInProgress, http.StatusConflict, "FETCH_IN_PROGRESS"},
	{services.ErrUserAlreadyExists, http.StatusConflict, "USER_EXISTS"},
	{services.ErrLastUser, http.StatusConflict, "LAST_USER"},
	{services.ErrSendPreconditionFailed, http.StatusPreconditionFailed, "SEND_PRECONDITION_FAILED"},
	{services.ErrSendDelivery, http.StatusBadGateway, "SEND_DELIVERY_FAILED"},
	{services.ErrModelProvider, http.StatusBadGateway, "MODEL_PROVIDER_ERROR"},
	{services.ErrProviderAuth, http.StatusBadGateway, "PROVIDER_AUTH_FAILED"},
	{services.ErrProviderTransient, http.StatusBadGateway, "PROVIDER_UNAVAILABLE"},
	{services.ErrInvalidProviderConfig, http.StatusBadRequest, "INVALID_PROVIDER_CONFIG"},
	{services.ErrCapabilityUnsupported, http.StatusBadRequest, "CAPABILITY_UNSUPPORTED"},
	{services.ErrInvalidStatus, http.StatusBadRequest, "INVALID_STATUS"},
	{services.ErrInvalidCredentials, http.StatusBadRequest, "INVALID_PASSWORD"},
	{services.ErrPasswordTooShort, http.StatusBadRequest, "VALIDATION_ERROR"},
	{services.ErrInvalidUsername, http.StatusBadRequest, "VALIDATION_ERROR"},
}

// respondServiceError maps err to the envelope. Unknown errors are 500s.
func respondServiceError(c *gin.Context, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			respondError(c, m.status, m.code, err.Error())
			return
		}
	}
	respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}

// idParam parses a positive numeric path parameter, answering 400 when it
// is not one.
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Invalid "+name)
		return 0, false
	}
	return uint(id), true
}
