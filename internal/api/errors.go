package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"labreserve/internal/domain"
	"labreserve/internal/service"

	"github.com/rs/zerolog"
)

var errUnauthenticated = errors.New("authentication required")

type errorDetail struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Fields    map[string]string `json:"fields,omitempty"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps err onto a status code and the error envelope.
func writeError(w http.ResponseWriter, logger *zerolog.Logger, err error) {
	status, detail := classify(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: detail})
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorDetail{Code: code, Message: message}})
}

func classify(err error) (int, errorDetail) {
	var de *domain.Error
	if errors.As(err, &de) {
		detail := errorDetail{
			Code:      string(de.Kind),
			Message:   de.Error(),
			Retryable: de.Retryable(),
			Fields:    de.Fields,
		}
		switch de.Kind {
		case domain.KindValidation, domain.KindInvalidRange:
			return http.StatusBadRequest, detail
		case domain.KindPermission:
			return http.StatusForbidden, detail
		case domain.KindNotFound:
			return http.StatusNotFound, detail
		case domain.KindConflict, domain.KindInvalidState:
			return http.StatusConflict, detail
		case domain.KindResourceBusy:
			return http.StatusServiceUnavailable, detail
		}
	}

	switch {
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, errorDetail{Code: "unauthenticated", Message: err.Error()}
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, errorDetail{Code: "invalid_credentials", Message: "invalid email or password"}
	}
	return http.StatusInternalServerError, errorDetail{Code: "internal", Message: "internal server error"}
}
