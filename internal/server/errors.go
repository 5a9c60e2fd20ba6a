package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	appdomain "github.com/smallbiznis/shipyard/internal/app/domain"
	"github.com/smallbiznis/shipyard/internal/applock"
	archivedomain "github.com/smallbiznis/shipyard/internal/archive/domain"
	billingdomain "github.com/smallbiznis/shipyard/internal/billing/domain"
	deploydomain "github.com/smallbiznis/shipyard/internal/deploy/domain"
	hostingdomain "github.com/smallbiznis/shipyard/internal/hosting/domain"
)

var ErrNotFound = errors.New("not_found")

type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string { return e.Code }

func invalidRequestError() error {
	return &apiError{
		Status:  http.StatusBadRequest,
		Code:    "invalid_request",
		Message: "request body could not be parsed",
	}
}

func newValidationError(field, rule, message string) error {
	return &apiError{
		Status:  http.StatusBadRequest,
		Code:    "validation_failed:" + field + ":" + rule,
		Message: message,
	}
}

func tooManyRequestsError() error {
	return &apiError{
		Status:  http.StatusTooManyRequests,
		Code:    "rate_limited",
		Message: "too many requests, slow down",
	}
}

// AbortWithError translates domain errors into the JSON error envelope.
func AbortWithError(c *gin.Context, err error) {
	var known *apiError
	if errors.As(err, &known) {
		c.AbortWithStatusJSON(known.Status, gin.H{"error": known})
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"
	message := "something went wrong"

	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, appdomain.ErrAppNotFound),
		errors.Is(err, appdomain.ErrVersionNotFound),
		errors.Is(err, archivedomain.ErrVersionNotArchived):
		status = http.StatusNotFound
		code = "not_found"
		message = "the requested resource was not found"

	case errors.Is(err, deploydomain.ErrNoVersions),
		errors.Is(err, deploydomain.ErrNotDeployed),
		errors.Is(err, deploydomain.ErrEmptySnapshot),
		errors.Is(err, appdomain.ErrInvalidVersionLabel):
		status = http.StatusUnprocessableEntity
		code = "operation_not_applicable"
		message = "the operation cannot be applied to this app"

	case errors.Is(err, applock.ErrAppBusy):
		status = http.StatusConflict
		code = applock.ErrAppBusy.Error()
		message = "another operation is in progress for this app"

	case errors.Is(err, billingdomain.ErrInvalidSignature):
		status = http.StatusBadRequest
		code = billingdomain.ErrInvalidSignature.Error()
		message = "webhook signature verification failed"

	case errors.Is(err, billingdomain.ErrUnknownProvider):
		status = http.StatusNotFound
		code = billingdomain.ErrUnknownProvider.Error()
		message = "unknown billing provider"

	case errors.Is(err, hostingdomain.ErrPublishSubmit),
		errors.Is(err, hostingdomain.ErrPublishRuntime),
		errors.Is(err, archivedomain.ErrMetadataWriteFailed),
		errors.Is(err, archivedomain.ErrArchiveUnavailable):
		status = http.StatusBadGateway
		code = "upstream_provider_failed"
		message = "an upstream provider rejected the operation"
	}

	c.AbortWithStatusJSON(status, gin.H{"error": &apiError{
		Status:  status,
		Code:    code,
		Message: message,
	}})
}
