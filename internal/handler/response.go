package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/folioforge/backend/internal/contextkeys"
	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/internal/logger"
	"go.uber.org/zap"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logger.L().Warn("failed to encode JSON response", zap.Error(err))
		}
	}
}

// Error writes an error JSON response, using AppError status codes when
// available and mapping settlement errors otherwise.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := domain.AsAppError(err); ok {
		if appErr.Code >= http.StatusInternalServerError {
			logger.FromContext(r.Context()).Error(appErr.Message, zap.Error(appErr.Err))
		}
		JSON(w, appErr.Code, map[string]string{"error": appErr.Message})
		return
	}
	if status, msg, ok := settlementStatus(err); ok {
		JSON(w, status, map[string]string{"error": msg})
		return
	}
	logger.FromContext(r.Context()).Error("unhandled error", zap.Error(err))
	JSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

func settlementStatus(err error) (int, string, bool) {
	switch {
	case errors.Is(err, domain.ErrVerificationFailed):
		return http.StatusBadRequest, "signature verification failed", true
	case errors.Is(err, domain.ErrMalformedPayload):
		return http.StatusBadRequest, "malformed payload", true
	case errors.Is(err, domain.ErrInvalidReference), errors.Is(err, domain.ErrMalformedReference):
		return http.StatusBadRequest, "invalid transaction reference", true
	case errors.Is(err, domain.ErrUnknownTransaction):
		return http.StatusNotFound, "transaction not found", true
	case errors.Is(err, domain.ErrAmountMismatch):
		return http.StatusUnprocessableEntity, "amount mismatch", true
	case errors.Is(err, domain.ErrDuplicateTransaction):
		return http.StatusConflict, "duplicate transaction", true
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusBadGateway, "payment gateway unavailable", true
	}
	return 0, "", false
}

// DecodeJSON decodes a JSON request body into the given struct.
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrBadRequest("invalid JSON body")
	}
	return nil
}

// currentUser returns the authenticated caller set by the auth middleware.
func currentUser(r *http.Request) (id, email string, ok bool) {
	id, _ = r.Context().Value(contextkeys.UserID).(string)
	email, _ = r.Context().Value(contextkeys.UserEmail).(string)
	return id, email, id != ""
}
