// Package rest exposes the scheduling engine over HTTP/JSON.
package rest

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"trainingcenter/backend/internal/domain"
	"trainingcenter/backend/internal/metrics"
	"trainingcenter/backend/internal/service/scheduling"
)

type scheduler interface {
	Book(ctx context.Context, in scheduling.BookInput) (domain.Appointment, error)
	BookWeekly(ctx context.Context, in scheduling.BookWeeklyInput) ([]domain.Appointment, error)
	Reschedule(ctx context.Context, in scheduling.RescheduleInput) (domain.Appointment, error)
	Approve(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	Refuse(ctx context.Context, id uuid.UUID, reason string) (domain.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (domain.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (scheduling.AppointmentView, error)
	ListByStudent(ctx context.Context, studentID string) ([]scheduling.AppointmentView, error)
	ListByInstructor(ctx context.Context, instructorID string) ([]scheduling.AppointmentView, error)
	ListAll(ctx context.Context) ([]scheduling.AppointmentView, error)
}

type Handler struct {
	engine  scheduler
	log     *slog.Logger
	metrics *metrics.Collector
}

// NewHandler builds the appointment handlers. m may be nil.
func NewHandler(engine scheduler, log *slog.Logger, m *metrics.Collector) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		engine:  engine,
		log:     log.With(slog.String("component", "http.appointments")),
		metrics: m,
	}
}

func (h *Handler) Register(r gin.IRouter) {
	appts := r.Group("/appointments")
	appts.POST("", h.Book)
	appts.POST("/weekly", h.BookWeekly)
	appts.GET("", h.ListAll)
	appts.GET("/:id", h.GetByID)
	appts.PUT("/:id", h.Reschedule)
	appts.POST("/:id/approve", h.Approve)
	appts.POST("/:id/refuse", h.Refuse)
	appts.POST("/:id/cancel", h.Cancel)
	appts.POST("/:id/complete", h.Complete)

	r.GET("/students/:id/appointments", h.ListByStudent)
	r.GET("/instructors/:id/appointments", h.ListByInstructor)
}

// POST /appointments
func (h *Handler) Book(c *gin.Context) {
	const op = "book"
	log := h.log.With(slog.String("op", op))

	var req bookRequest
	if !h.bindJSON(c, log, op, &req) {
		return
	}
	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if key == "" {
		key = req.IdempotencyKey
	}

	appt, err := h.engine.Book(c.Request.Context(), scheduling.BookInput{
		StudentID:      req.StudentID,
		InstructorID:   req.InstructorID,
		StartTime:      req.StartTime,
		Description:    req.Description,
		IdempotencyKey: key,
	})
	if err != nil {
		h.fail(c, log.With(slog.String("student_id", req.StudentID), slog.String("instructor_id", req.InstructorID)), op, err)
		return
	}

	h.observe(op, "ok")
	log.Info(
		"appointment booked",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("student_id", appt.StudentID),
		slog.String("instructor_id", appt.InstructorID),
		slog.Time("start_time", appt.StartTime),
		slog.Time("end_time", appt.EndTime),
	)
	c.JSON(http.StatusCreated, APIResponse[appointmentResponse]{Data: toAppointmentResponse(appt)})
}

// POST /appointments/weekly
func (h *Handler) BookWeekly(c *gin.Context) {
	const op = "book_weekly"
	log := h.log.With(slog.String("op", op))

	var req bookWeeklyRequest
	if !h.bindJSON(c, log, op, &req) {
		return
	}
	if req.DurationMinutes < 0 {
		h.badRequest(c, log, op, "negative_duration", "duration_minutes must not be negative")
		return
	}

	appts, err := h.engine.BookWeekly(c.Request.Context(), scheduling.BookWeeklyInput{
		StudentID:    req.StudentID,
		InstructorID: req.InstructorID,
		StartTime:    req.StartTime,
		Duration:     time.Duration(req.DurationMinutes) * time.Minute,
		Weekdays:     req.Weekdays,
		Interval:     req.Interval,
		Count:        req.Count,
		Until:        req.Until,
		TimeZone:     req.TimeZone,
		Description:  req.Description,
	})
	if err != nil {
		h.fail(c, log.With(slog.String("student_id", req.StudentID), slog.String("instructor_id", req.InstructorID)), op, err)
		return
	}

	h.observe(op, "ok")
	log.Info(
		"weekly plan booked",
		slog.String("student_id", req.StudentID),
		slog.String("instructor_id", req.InstructorID),
		slog.Int("sessions", len(appts)),
	)
	c.JSON(http.StatusCreated, APIResponse[[]appointmentResponse]{Data: toAppointmentResponses(appts)})
}

// PUT /appointments/:id
func (h *Handler) Reschedule(c *gin.Context) {
	const op = "reschedule"
	log := h.log.With(slog.String("op", op))

	id, ok := h.parseUUID(c, log, op)
	if !ok {
		return
	}
	var req rescheduleRequest
	if !h.bindJSON(c, log, op, &req) {
		return
	}
	in := scheduling.RescheduleInput{
		ID:          id,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Description: req.Description,
	}
	if req.Status != nil {
		st := domain.Status(strings.ToLower(strings.TrimSpace(*req.Status)))
		in.Status = &st
	}

	appt, err := h.engine.Reschedule(c.Request.Context(), in)
	if err != nil {
		h.fail(c, log.With(slog.String("appointment_id", id.String())), op, err)
		return
	}

	h.observe(op, "ok")
	log.Info(
		"appointment rescheduled",
		slog.String("appointment_id", appt.ID.String()),
		slog.Time("start_time", appt.StartTime),
		slog.Time("end_time", appt.EndTime),
		slog.String("status", string(appt.Status)),
	)
	c.JSON(http.StatusOK, APIResponse[appointmentResponse]{Data: toAppointmentResponse(appt)})
}

// POST /appointments/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	h.transition(c, "approve", false, func(ctx context.Context, id uuid.UUID, _ string) (domain.Appointment, error) {
		return h.engine.Approve(ctx, id)
	})
}

// POST /appointments/:id/refuse
func (h *Handler) Refuse(c *gin.Context) {
	h.transition(c, "refuse", true, h.engine.Refuse)
}

// POST /appointments/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	h.transition(c, "cancel", true, h.engine.Cancel)
}

// POST /appointments/:id/complete
func (h *Handler) Complete(c *gin.Context) {
	h.transition(c, "complete", false, func(ctx context.Context, id uuid.UUID, _ string) (domain.Appointment, error) {
		return h.engine.Complete(ctx, id)
	})
}

func (h *Handler) transition(c *gin.Context, op string, withReason bool, apply func(ctx context.Context, id uuid.UUID, reason string) (domain.Appointment, error)) {
	log := h.log.With(slog.String("op", op))

	id, ok := h.parseUUID(c, log, op)
	if !ok {
		return
	}
	var req reasonRequest
	if withReason && c.Request.ContentLength != 0 {
		if !h.bindJSON(c, log, op, &req) {
			return
		}
	}

	appt, err := apply(c.Request.Context(), id, req.Reason)
	if err != nil {
		h.fail(c, log.With(slog.String("appointment_id", id.String())), op, err)
		return
	}

	h.observe(op, "ok")
	log.Info("appointment status changed", slog.String("appointment_id", appt.ID.String()), slog.String("status", string(appt.Status)))
	c.JSON(http.StatusOK, APIResponse[appointmentResponse]{Data: toAppointmentResponse(appt)})
}

// GET /appointments/:id
func (h *Handler) GetByID(c *gin.Context) {
	const op = "get"
	log := h.log.With(slog.String("op", op))

	id, ok := h.parseUUID(c, log, op)
	if !ok {
		return
	}
	view, err := h.engine.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, log.With(slog.String("appointment_id", id.String())), op, err)
		return
	}
	h.observe(op, "ok")
	c.JSON(http.StatusOK, APIResponse[appointmentResponse]{Data: toViewResponse(view)})
}

// GET /appointments
func (h *Handler) ListAll(c *gin.Context) {
	h.list(c, "list_all", func(ctx context.Context) ([]scheduling.AppointmentView, error) {
		return h.engine.ListAll(ctx)
	})
}

// GET /students/:id/appointments
func (h *Handler) ListByStudent(c *gin.Context) {
	studentID := c.Param("id")
	h.list(c, "list_by_student", func(ctx context.Context) ([]scheduling.AppointmentView, error) {
		return h.engine.ListByStudent(ctx, studentID)
	})
}

// GET /instructors/:id/appointments
func (h *Handler) ListByInstructor(c *gin.Context) {
	instructorID := c.Param("id")
	h.list(c, "list_by_instructor", func(ctx context.Context) ([]scheduling.AppointmentView, error) {
		return h.engine.ListByInstructor(ctx, instructorID)
	})
}

func (h *Handler) list(c *gin.Context, op string, fetch func(ctx context.Context) ([]scheduling.AppointmentView, error)) {
	log := h.log.With(slog.String("op", op))

	views, err := fetch(c.Request.Context())
	if err != nil {
		h.fail(c, log, op, err)
		return
	}
	h.observe(op, "ok")
	log.Debug("appointments listed", slog.Int("count", len(views)))
	c.JSON(http.StatusOK, APIResponse[[]appointmentResponse]{Data: toViewResponses(views)})
}

func (h *Handler) bindJSON(c *gin.Context, log *slog.Logger, op string, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.badRequest(c, log, op, "malformed_json", "invalid request: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) parseUUID(c *gin.Context, log *slog.Logger, op string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.badRequest(c, log, op, "invalid_uuid", "invalid id: must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) observe(op, outcome string) {
	if h.metrics == nil {
		return
	}
	h.metrics.SchedulingOutcomes.WithLabelValues(op, outcome).Inc()
}
