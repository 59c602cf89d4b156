package errorhandler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/pkg/logger"
	"github.com/tokenbridge/settlement-api/internal/pkg/response"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidState, apperr.KindConcurrencyConflict, apperr.KindReferenceConflict:
		return http.StatusConflict
	case apperr.KindInsufficientFunds, apperr.KindInsufficientAgentFunds, apperr.KindWalletFrozen, apperr.KindLimitExceeded:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err as a standard error envelope. Internal errors are logged
// with their cause and answered with a generic message.
func Respond(ctx context.Context, w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)

	if status >= http.StatusInternalServerError {
		log.Error().
			Str("request_id", getRequestID(ctx)).
			Str("error_code", string(kind)).
			Err(err).
			Msg("Request error")
		response.InternalError(w)
		return
	}

	logger.LogDebug(ctx, "Request rejected",
		"request_id", getRequestID(ctx),
		"error_code", string(kind),
		"error", err.Error(),
	)
	response.Error(w, status, string(kind), apperr.MessageOf(err))
}

// HandleErrorWithDetails logs and writes an error envelope carrying field details.
func HandleErrorWithDetails(ctx context.Context, w http.ResponseWriter, status int, code, message string, details map[string]string) {
	event := log.Warn().
		Str("request_id", getRequestID(ctx)).
		Str("error_code", code).
		Int("status_code", status)
	if details != nil {
		event.Interface("error_details", details)
	}
	event.Msg(message)

	response.ErrorWithDetails(w, status, code, message, details)
}

// LogValidationError logs validation errors with details
func LogValidationError(ctx context.Context, fieldErrors map[string]string) {
	errJSON, _ := json.Marshal(fieldErrors)
	log.Warn().
		Str("request_id", getRequestID(ctx)).
		RawJSON("validation_errors", errJSON).
		Msg("Validation error")
}

// LogExternalServiceError logs errors from external service calls
func LogExternalServiceError(ctx context.Context, service string, endpoint string, err error) {
	log.Error().
		Str("request_id", getRequestID(ctx)).
		Str("external_service", service).
		Str("endpoint", endpoint).
		Err(err).
		Msg("External service error")
}

func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(logger.RequestIDKey).(string); ok && id != "" {
		return id
	}
	return "unknown"
}
