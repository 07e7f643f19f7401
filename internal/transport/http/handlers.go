package http

import (
	"context"
	"errors"
	"log/slog"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"fitbook/backend/internal/domain"
	"fitbook/backend/internal/service/appointments"
	"fitbook/backend/internal/service/availability"
)

type availableTrainerResponse struct {
	TrainerID              int64  `json:"trainerId"`
	Name                   string `json:"name"`
	QualifiedServicesText  string `json:"qualifiedServicesText"`
	AvailabilityWindowText string `json:"availabilityWindowText"`
}

// findAvailability serves GET /availability?date=YYYY-MM-DD&startTime=HH:mm&duration=<minutes>&serviceId=<id>.
func (h *handler) findAvailability(c *gin.Context) {
	serviceID, err := strconv.ParseInt(strings.TrimSpace(c.Query("serviceId")), 10, 64)
	if err != nil || serviceID <= 0 {
		badRequest(c, "serviceId", "serviceId must be a positive integer")
		return
	}
	start, err := time.ParseInLocation("2006-01-02 15:04", strings.TrimSpace(c.Query("date"))+" "+strings.TrimSpace(c.Query("startTime")), h.loc)
	if err != nil {
		badRequest(c, "date", "date must be YYYY-MM-DD and startTime must be HH:mm")
		return
	}
	minutes, err := strconv.Atoi(strings.TrimSpace(c.Query("duration")))
	if err != nil || minutes <= 0 {
		badRequest(c, "duration", "duration must be a positive number of minutes")
		return
	}

	found, err := h.availability.Find(c.Request.Context(), availability.Query{
		ServiceID: serviceID,
		Start:     start,
		Duration:  time.Duration(minutes) * time.Minute,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	out := make([]availableTrainerResponse, 0, len(found))
	for _, t := range found {
		out = append(out, availableTrainerResponse{
			TrainerID:              t.TrainerID,
			Name:                   t.Name,
			QualifiedServicesText:  t.QualifiedServicesText,
			AvailabilityWindowText: t.AvailabilityWindowText,
		})
	}
	c.JSON(nethttp.StatusOK, out)
}

type serviceResponse struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	DurationMinutes int     `json:"durationMinutes"`
	Price           float64 `json:"price"`
}

type trainerResponse struct {
	ID                    int64    `json:"id"`
	Name                  string   `json:"name"`
	Services              []string `json:"services"`
	QualifiedServicesText string   `json:"qualifiedServicesText"`
}

func (h *handler) listTrainers(c *gin.Context) {
	trainers, err := h.catalog.ListTrainers(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if len(trainers) == 0 {
		writeErrorBody(c, nethttp.StatusNotFound, ErrorBody{Code: "no_trainers", Message: "No trainers are registered."})
		return
	}
	out := make([]trainerResponse, 0, len(trainers))
	for _, t := range trainers {
		names := make([]string, 0, len(t.Services))
		for _, s := range t.Services {
			names = append(names, s.Name)
		}
		out = append(out, trainerResponse{ID: t.ID, Name: t.Name, Services: names, QualifiedServicesText: t.QualifiedServicesText()})
	}
	c.JSON(nethttp.StatusOK, out)
}

func (h *handler) listServices(c *gin.Context) {
	services, err := h.catalog.ListServices(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	out := make([]serviceResponse, 0, len(services))
	for _, s := range services {
		out = append(out, serviceResponse{
			ID:              s.ID,
			Name:            s.Name,
			Description:     s.Description,
			DurationMinutes: s.DurationMinutes,
			Price:           s.Price,
		})
	}
	c.JSON(nethttp.StatusOK, out)
}

type appointmentRequest struct {
	ServiceID int64     `json:"serviceId" binding:"required,gt=0"`
	TrainerID int64     `json:"trainerId" binding:"required,gt=0"`
	Start     time.Time `json:"start" binding:"required"`
	Notes     string    `json:"notes" binding:"max=1000"`
}

type appointmentResponse struct {
	ID        string    `json:"id"`
	TrainerID int64     `json:"trainerId"`
	ServiceID int64     `json:"serviceId"`
	OwnerID   string    `json:"ownerId"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type resultResponse struct {
	Appointment appointmentResponse `json:"appointment"`
	Notice      string              `json:"notice"`
}

type listResponse struct {
	Data  []appointmentResponse `json:"data"`
	Total int                   `json:"total"`
}

func toAppointmentResponse(a domain.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:        a.ID.String(),
		TrainerID: a.TrainerID,
		ServiceID: a.ServiceID,
		OwnerID:   a.OwnerID,
		Start:     a.StartTime.UTC(),
		End:       a.EndTime.UTC(),
		Status:    string(a.Status),
		Notes:     a.Notes,
		CreatedAt: a.CreatedAt.UTC(),
		UpdatedAt: a.UpdatedAt.UTC(),
	}
}

func toListResponse(appts []domain.Appointment) listResponse {
	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentResponse(a))
	}
	return listResponse{Data: out, Total: len(out)}
}

func writeResult(c *gin.Context, status int, res appointments.Result) {
	c.JSON(status, resultResponse{Appointment: toAppointmentResponse(res.Appointment), Notice: string(res.Notice)})
}

// bindAppointment reports binding failures as field-scoped validation errors.
func bindAppointment(c *gin.Context) (appointmentRequest, bool) {
	var req appointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) && len(vErrs) > 0 {
			badRequest(c, vErrs[0].Field(), vErrs[0].Field()+" failed "+vErrs[0].Tag()+" validation")
			return appointmentRequest{}, false
		}
		badRequest(c, "", "request body must be valid JSON")
		return appointmentRequest{}, false
	}
	return req, true
}

func appointmentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "id", "appointment id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handler) createAppointment(c *gin.Context) {
	req, ok := bindAppointment(c)
	if !ok {
		return
	}
	res, err := h.appts.Create(c.Request.Context(), requester(c), appointments.CreateInput{
		ServiceID:      req.ServiceID,
		TrainerID:      req.TrainerID,
		Start:          req.Start,
		Notes:          req.Notes,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	writeResult(c, nethttp.StatusCreated, res)
}

func (h *handler) editAppointment(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}
	req, ok := bindAppointment(c)
	if !ok {
		return
	}
	res, err := h.appts.Edit(c.Request.Context(), requester(c), id, appointments.EditInput{
		ServiceID: req.ServiceID,
		TrainerID: req.TrainerID,
		Start:     req.Start,
		Notes:     req.Notes,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	writeResult(c, nethttp.StatusOK, res)
}

func (h *handler) cancelAppointment(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}
	res, err := h.appts.Cancel(c.Request.Context(), requester(c), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	writeResult(c, nethttp.StatusOK, res)
}

func (h *handler) getAppointment(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}
	appt, err := h.appts.Get(c.Request.Context(), requester(c), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(nethttp.StatusOK, toAppointmentResponse(appt))
}

func (h *handler) listMyAppointments(c *gin.Context) {
	appts, err := h.appts.ListMine(c.Request.Context(), requester(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(nethttp.StatusOK, toListResponse(appts))
}

func (h *handler) listAllAppointments(c *gin.Context) {
	var filter appointments.ListFilter
	if v := strings.TrimSpace(c.Query("trainerId")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			badRequest(c, "trainerId", "trainerId must be a positive integer")
			return
		}
		filter.TrainerID = id
	}
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		st, err := domain.ParseStatus(v)
		if err != nil {
			badRequest(c, "status", "status must be pending, confirmed, rejected or cancelled")
			return
		}
		filter.Status = st
	}
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "limit", "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	appts, err := h.appts.ListAll(c.Request.Context(), requester(c), filter)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(nethttp.StatusOK, toListResponse(appts))
}

func (h *handler) decide(d appointments.Decision) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := appointmentID(c)
		if !ok {
			return
		}
		res, err := h.appts.Decide(c.Request.Context(), requester(c), id, d)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		writeResult(c, nethttp.StatusOK, res)
	}
}

func (h *handler) healthz(c *gin.Context) {
	c.JSON(nethttp.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := make(map[string]string)
	for _, rc := range h.readiness {
		if err := rc.Check(ctx); err != nil {
			h.log.Warn("readiness check failed", slog.String("check", rc.Name), slog.Any("err", err))
			failed[rc.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(nethttp.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"status": "ready"})
}
