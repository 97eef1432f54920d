package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"trainingcenter/backend/internal/domain"
	"trainingcenter/backend/internal/service/scheduling"
)

const (
	codeValidation        = "validation"
	codeNotFound          = "not_found"
	codeConflict          = "conflict"
	codePolicy            = "policy"
	codeInvalidTransition = "invalid_transition"
	codeCanceled          = "canceled"
	codeInternal          = "internal"
)

// classify maps an engine error to its HTTP status and response body.
func classify(err error) (int, ErrorResponse) {
	var (
		vErr  *scheduling.ValidationError
		nfErr *scheduling.NotFoundError
		cErr  *scheduling.ConflictError
		pErr  *scheduling.PolicyError
		tErr  *domain.TransitionError
	)
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, ErrorResponse{Error: vErr.Error(), Code: codeValidation}
	case errors.As(err, &nfErr):
		return http.StatusNotFound, ErrorResponse{
			Error:   nfErr.Error(),
			Code:    codeNotFound,
			Details: map[string]any{"kind": nfErr.Kind, "id": nfErr.ID},
		}
	case errors.As(err, &cErr):
		details := map[string]any{"reason": cErr.Reason}
		if cErr.Role != "" {
			details["role"] = string(cErr.Role)
		}
		if cErr.ConflictingID != uuid.Nil {
			details["conflicting_id"] = cErr.ConflictingID.String()
		}
		return http.StatusConflict, ErrorResponse{Error: cErr.Error(), Code: codeConflict, Details: details}
	case errors.As(err, &pErr):
		return http.StatusConflict, ErrorResponse{
			Error:   pErr.Error(),
			Code:    codePolicy,
			Details: map[string]any{"reason": pErr.Reason, "student_id": pErr.StudentID},
		}
	case errors.As(err, &tErr):
		return http.StatusConflict, ErrorResponse{
			Error:   tErr.Error(),
			Code:    codeInvalidTransition,
			Details: map[string]any{"from": string(tErr.From), "to": string(tErr.To)},
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "request canceled", Code: codeCanceled}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: codeInternal}
	}
}

// fail writes the error response for err, logs it and counts the outcome.
func (h *Handler) fail(c *gin.Context, log *slog.Logger, op string, err error) {
	status, body := classify(err)
	h.observe(op, body.Code)

	switch {
	case status >= http.StatusInternalServerError:
		log.Error("request failed", slog.Any("err", err), slog.Int("status", status))
	case status == http.StatusBadRequest:
		log.Warn("invalid request", slog.Any("err", err))
	default:
		log.Info("request rejected", slog.Any("err", err), slog.String("code", body.Code))
	}
	c.AbortWithStatusJSON(status, body)
}

func (h *Handler) badRequest(c *gin.Context, log *slog.Logger, op, reason, message string) {
	h.observe(op, codeValidation)
	log.Warn("invalid request", slog.String("reason", reason))
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: message, Code: codeValidation})
}
