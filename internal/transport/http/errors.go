package http

import (
	"context"
	"errors"
	"log/slog"
	nethttp "net/http"

	"github.com/gin-gonic/gin"

	"fitbook/backend/internal/service/appointments"
	"fitbook/backend/internal/service/availability"
)

// ErrorBody is the JSON shape of every non-2xx response.
type ErrorBody struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeErrorBody(c *gin.Context, status int, body ErrorBody) {
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, field, message string) {
	writeErrorBody(c, nethttp.StatusBadRequest, ErrorBody{Code: "validation_failed", Message: message, Field: field})
}

// writeError maps service errors onto status codes.
func writeError(c *gin.Context, log *slog.Logger, err error) {
	var (
		vErr *appointments.ValidationError
		aErr *appointments.AuthorizationError
	)
	switch {
	case errors.As(err, &vErr):
		badRequest(c, vErr.Field, vErr.Message)
	case errors.Is(err, availability.ErrNoAvailability):
		writeErrorBody(c, nethttp.StatusNotFound, ErrorBody{Code: "no_availability", Message: "No trainer is available for this service at the requested time."})
	case errors.Is(err, appointments.ErrServiceNotFound):
		writeErrorBody(c, nethttp.StatusNotFound, ErrorBody{Code: "service_not_found", Message: "The requested service does not exist."})
	case errors.Is(err, appointments.ErrTrainerNotFound):
		writeErrorBody(c, nethttp.StatusNotFound, ErrorBody{Code: "trainer_not_found", Message: "The requested trainer does not exist."})
	case errors.Is(err, appointments.ErrAppointmentNotFound):
		writeErrorBody(c, nethttp.StatusNotFound, ErrorBody{Code: "appointment_not_found", Message: "Appointment not found."})
	case errors.Is(err, appointments.ErrSlotConflict):
		writeErrorBody(c, nethttp.StatusConflict, ErrorBody{Code: "slot_conflict", Message: "The trainer already has an appointment during that time. Pick a different slot."})
	case errors.Is(err, appointments.ErrAppointmentChanged):
		writeErrorBody(c, nethttp.StatusConflict, ErrorBody{Code: "appointment_changed", Message: "The appointment was changed by someone else. Reload it and try again."})
	case errors.As(err, &aErr) && errors.Is(err, appointments.ErrUnauthenticated):
		writeErrorBody(c, nethttp.StatusUnauthorized, ErrorBody{Code: "unauthenticated", Message: "Authentication required."})
	case errors.As(err, &aErr):
		writeErrorBody(c, nethttp.StatusForbidden, ErrorBody{Code: "forbidden", Message: aErr.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		writeErrorBody(c, nethttp.StatusGatewayTimeout, ErrorBody{Code: "timeout", Message: "The request timed out."})
	default:
		log.Error("request failed", slog.Any("err", err), slog.String("path", c.FullPath()))
		writeErrorBody(c, nethttp.StatusInternalServerError, ErrorBody{Code: "internal_error", Message: "internal error"})
	}
}
