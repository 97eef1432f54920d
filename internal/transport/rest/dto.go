package rest

import (
	"time"

	"trainingcenter/backend/internal/domain"
	"trainingcenter/backend/internal/service/scheduling"
)

type APIResponse[T any] struct {
	Data T `json:"data"`
}

type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type bookRequest struct {
	StudentID      string    `json:"student_id"`
	InstructorID   string    `json:"instructor_id"`
	StartTime      time.Time `json:"start_time"`
	Description    string    `json:"description"`
	IdempotencyKey string    `json:"idempotency_key"`
}

type bookWeeklyRequest struct {
	StudentID       string     `json:"student_id"`
	InstructorID    string     `json:"instructor_id"`
	StartTime       time.Time  `json:"start_time"`
	DurationMinutes int        `json:"duration_minutes"`
	Weekdays        []int16    `json:"weekdays"`
	Interval        int        `json:"interval"`
	Count           int        `json:"count"`
	Until           *time.Time `json:"until"`
	TimeZone        string     `json:"time_zone"`
	Description     string     `json:"description"`
}

type rescheduleRequest struct {
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Description *string   `json:"description"`
	Status      *string   `json:"status"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type appointmentResponse struct {
	ID             string    `json:"id"`
	StudentID      string    `json:"student_id"`
	StudentName    string    `json:"student_name,omitempty"`
	InstructorID   string    `json:"instructor_id"`
	InstructorName string    `json:"instructor_name,omitempty"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Status         string    `json:"status"`
	Description    string    `json:"description,omitempty"`
	CancelReason   string    `json:"cancel_reason,omitempty"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toAppointmentResponse(a domain.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:           a.ID.String(),
		StudentID:    a.StudentID,
		InstructorID: a.InstructorID,
		StartTime:    a.StartTime.UTC(),
		EndTime:      a.EndTime.UTC(),
		Status:       string(a.Status),
		Description:  a.Description,
		CancelReason: a.CancelReason,
		Version:      a.Version,
		CreatedAt:    a.CreatedAt.UTC(),
		UpdatedAt:    a.UpdatedAt.UTC(),
	}
}

func toViewResponse(v scheduling.AppointmentView) appointmentResponse {
	out := toAppointmentResponse(v.Appointment)
	out.StudentName = v.StudentName
	out.InstructorName = v.InstructorName
	return out
}

func toViewResponses(views []scheduling.AppointmentView) []appointmentResponse {
	out := make([]appointmentResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toViewResponse(v))
	}
	return out
}

func toAppointmentResponses(appts []domain.Appointment) []appointmentResponse {
	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentResponse(a))
	}
	return out
}
