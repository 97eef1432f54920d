package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"trainingcenter/backend/internal/domain"
	"trainingcenter/backend/internal/health"
	"trainingcenter/backend/internal/metrics"
	"trainingcenter/backend/internal/service/scheduling"
	"trainingcenter/backend/internal/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testNow = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

type testServer struct {
	router   *gin.Engine
	payments *memory.Payments
	metrics  *metrics.Collector
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	people := memory.NewPeople(
		domain.Person{ID: "S1", DisplayName: "Ada", Role: domain.RoleStudent, Active: true},
		domain.Person{ID: "S2", DisplayName: "Grace", Role: domain.RoleStudent, Active: true},
		domain.Person{ID: "I1", DisplayName: "Coach Kim", Role: domain.RoleInstructor, Active: true},
	)
	payments := memory.NewPayments()
	engine := scheduling.NewEngine(memory.NewAppointmentRepo(), people, payments,
		scheduling.WithClock(func() time.Time { return testNow }))

	m := metrics.NewCollector("test", prometheus.NewRegistry())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(RouterConfig{
		Handler: NewHandler(engine, log, m),
		Metrics: m,
		Logger:  log,
	})
	return &testServer{router: router, payments: payments, metrics: m}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out APIResponse[T]
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var out ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

const bookS1 = `{"student_id":"S1","instructor_id":"I1","start_time":"2025-06-01T10:00:00Z","description":"warm-up"}`

func TestBook_CreatedThenFetchedWithNames(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/appointments", bookS1)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	created := decodeData[appointmentResponse](t, rec)
	if created.Status != "pending" {
		t.Fatalf("status = %q, want pending", created.Status)
	}
	if got := created.EndTime.Sub(created.StartTime); got != time.Hour {
		t.Fatalf("duration = %v, want 1h", got)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/appointments/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decodeData[appointmentResponse](t, rec)
	if got.StudentName != "Ada" || got.InstructorName != "Coach Kim" {
		t.Fatalf("names = %q/%q", got.StudentName, got.InstructorName)
	}
	if got.Description != "warm-up" {
		t.Fatalf("description = %q", got.Description)
	}

	if n := testutil.ToFloat64(s.metrics.SchedulingOutcomes.WithLabelValues("book", "ok")); n != 1 {
		t.Fatalf("book ok = %v, want 1", n)
	}
	if n := testutil.ToFloat64(s.metrics.RequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/appointments", "201")); n != 1 {
		t.Fatalf("requests_total = %v, want 1", n)
	}
}

func TestBook_IdempotencyKeyHeader(t *testing.T) {
	s := newTestServer(t)

	first := decodeData[appointmentResponse](t, s.do(t, http.MethodPost, "/api/v1/appointments", bookS1, "Idempotency-Key", "abc"))
	rec := s.do(t, http.MethodPost, "/api/v1/appointments", bookS1, "Idempotency-Key", "abc")
	if rec.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, want 201", rec.Code)
	}
	if replay := decodeData[appointmentResponse](t, rec); replay.ID != first.ID {
		t.Fatalf("replay id = %s, want %s", replay.ID, first.ID)
	}

	other := `{"student_id":"S1","instructor_id":"I1","start_time":"2025-06-01T12:00:00Z"}`
	rec = s.do(t, http.MethodPost, "/api/v1/appointments", other, "Idempotency-Key", "abc")
	if rec.Code != http.StatusConflict {
		t.Fatalf("reuse status = %d, want 409", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != codeConflict || body.Details["reason"] != scheduling.ReasonIdempotencyReuse {
		t.Fatalf("body = %+v", body)
	}
}

func TestBook_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	s.payments.Put(domain.Payment{ID: uuid.New(), StudentID: "S2", AmountCents: 100, DueDate: testNow, Status: domain.PaymentOverdue})

	if rec := s.do(t, http.MethodPost, "/api/v1/appointments", `{"student_id":"S1","instructor_id":"I1","start_time":"2025-06-01T09:00:00Z"}`); rec.Code != http.StatusCreated {
		t.Fatalf("seed status = %d", rec.Code)
	}

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"malformed json", `{"student_id":`, http.StatusBadRequest, codeValidation},
		{"missing start", `{"student_id":"S1","instructor_id":"I1"}`, http.StatusBadRequest, codeValidation},
		{"unknown student", `{"student_id":"S9","instructor_id":"I1","start_time":"2025-06-01T15:00:00Z"}`, http.StatusNotFound, codeNotFound},
		{"delinquent", `{"student_id":"S2","instructor_id":"I1","start_time":"2025-06-01T15:00:00Z"}`, http.StatusConflict, codePolicy},
		{"overlap", `{"student_id":"S1","instructor_id":"I1","start_time":"2025-06-01T09:30:00Z"}`, http.StatusConflict, codeConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/appointments", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if body := decodeError(t, rec); body.Code != tt.wantCode {
				t.Fatalf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestTransitions(t *testing.T) {
	s := newTestServer(t)
	created := decodeData[appointmentResponse](t, s.do(t, http.MethodPost, "/api/v1/appointments", bookS1))
	base := "/api/v1/appointments/" + created.ID

	rec := s.do(t, http.MethodPost, base+"/approve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d", rec.Code)
	}
	if got := decodeData[appointmentResponse](t, rec); got.Status != "approved" {
		t.Fatalf("status = %q, want approved", got.Status)
	}

	rec = s.do(t, http.MethodPost, base+"/refuse", `{"reason":"late"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("refuse approved status = %d, want 409", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Code != codeInvalidTransition || body.Details["from"] != "approved" || body.Details["to"] != "refused" {
		t.Fatalf("body = %+v", body)
	}

	rec = s.do(t, http.MethodPost, base+"/cancel", `{"reason":"sick"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}
	if got := decodeData[appointmentResponse](t, rec); got.Status != "cancelled" || got.CancelReason != "sick" {
		t.Fatalf("cancelled = %+v", got)
	}

	if rec := s.do(t, http.MethodPost, base+"/complete", ""); rec.Code != http.StatusConflict {
		t.Fatalf("complete cancelled status = %d, want 409", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/v1/appointments/not-a-uuid/approve", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad uuid status = %d, want 400", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/v1/appointments/"+uuid.NewString()+"/approve", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", rec.Code)
	}
}

func TestReschedule(t *testing.T) {
	s := newTestServer(t)
	created := decodeData[appointmentResponse](t, s.do(t, http.MethodPost, "/api/v1/appointments", bookS1))
	path := "/api/v1/appointments/" + created.ID

	rec := s.do(t, http.MethodPut, path, `{"start_time":"2025-06-01T14:00:00Z","end_time":"2025-06-01T15:30:00Z","status":"rescheduled"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	got := decodeData[appointmentResponse](t, rec)
	if got.Status != "rescheduled" || !got.StartTime.Equal(time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)) {
		t.Fatalf("rescheduled = %+v", got)
	}

	if rec := s.do(t, http.MethodPut, path, `{"start_time":"2025-06-01T15:00:00Z","end_time":"2025-06-01T14:00:00Z"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("inverted window status = %d, want 400", rec.Code)
	}
	if rec := s.do(t, http.MethodPut, path, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body status = %d, want 400", rec.Code)
	}
}

func TestBookWeeklyAndLists(t *testing.T) {
	s := newTestServer(t)

	body := `{"student_id":"S1","instructor_id":"I1","start_time":"2025-06-02T10:00:00Z","duration_minutes":45,"weekdays":[1,3],"count":4,"time_zone":"UTC"}`
	rec := s.do(t, http.MethodPost, "/api/v1/appointments/weekly", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	sessions := decodeData[[]appointmentResponse](t, rec)
	if len(sessions) != 4 {
		t.Fatalf("sessions = %d, want 4", len(sessions))
	}
	if d := sessions[0].EndTime.Sub(sessions[0].StartTime); d != 45*time.Minute {
		t.Fatalf("duration = %v, want 45m", d)
	}

	if rec := s.do(t, http.MethodPost, "/api/v1/appointments/weekly", strings.Replace(body, `"duration_minutes":45`, `"duration_minutes":-5`, 1)); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative duration status = %d, want 400", rec.Code)
	}

	for _, path := range []string{"/api/v1/appointments", "/api/v1/students/S1/appointments", "/api/v1/instructors/I1/appointments"} {
		rec := s.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, rec.Code)
		}
		if got := decodeData[[]appointmentResponse](t, rec); len(got) != 4 {
			t.Fatalf("GET %s = %d rows, want 4", path, len(got))
		}
	}
	rec = s.do(t, http.MethodGet, "/api/v1/students/S2/appointments", "")
	if got := decodeData[[]appointmentResponse](t, rec); len(got) != 0 {
		t.Fatalf("S2 rows = %d, want 0", len(got))
	}
}

type fakeScheduler struct {
	listAllFn func(ctx context.Context) ([]scheduling.AppointmentView, error)
}

func (f *fakeScheduler) Book(ctx context.Context, in scheduling.BookInput) (domain.Appointment, error) {
	panic("Book not configured")
}

func (f *fakeScheduler) BookWeekly(ctx context.Context, in scheduling.BookWeeklyInput) ([]domain.Appointment, error) {
	panic("BookWeekly not configured")
}

func (f *fakeScheduler) Reschedule(ctx context.Context, in scheduling.RescheduleInput) (domain.Appointment, error) {
	panic("Reschedule not configured")
}

func (f *fakeScheduler) Approve(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	panic("Approve not configured")
}

func (f *fakeScheduler) Refuse(ctx context.Context, id uuid.UUID, reason string) (domain.Appointment, error) {
	panic("Refuse not configured")
}

func (f *fakeScheduler) Cancel(ctx context.Context, id uuid.UUID, reason string) (domain.Appointment, error) {
	panic("Cancel not configured")
}

func (f *fakeScheduler) Complete(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	panic("Complete not configured")
}

func (f *fakeScheduler) GetByID(ctx context.Context, id uuid.UUID) (scheduling.AppointmentView, error) {
	panic("GetByID not configured")
}

func (f *fakeScheduler) ListByStudent(ctx context.Context, studentID string) ([]scheduling.AppointmentView, error) {
	panic("ListByStudent not configured")
}

func (f *fakeScheduler) ListByInstructor(ctx context.Context, instructorID string) ([]scheduling.AppointmentView, error) {
	panic("ListByInstructor not configured")
}

func (f *fakeScheduler) ListAll(ctx context.Context) ([]scheduling.AppointmentView, error) {
	if f.listAllFn == nil {
		panic("ListAll not configured")
	}
	return f.listAllFn(ctx)
}

func TestStoreErrorHidesDetails(t *testing.T) {
	fake := &fakeScheduler{listAllFn: func(ctx context.Context) ([]scheduling.AppointmentView, error) {
		return nil, &scheduling.StoreError{Op: "list all", Err: errors.New("connection reset by 10.0.0.7")}
	}}
	router := NewRouter(RouterConfig{Handler: NewHandler(fake, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.7") {
		t.Fatalf("body leaks store error: %s", rec.Body.String())
	}
	if body := decodeError(t, rec); body.Code != codeInternal {
		t.Fatalf("code = %q, want %q", body.Code, codeInternal)
	}
}

func TestHealthEndpoints(t *testing.T) {
	var dbErr error
	router := NewRouter(RouterConfig{
		ReadyChecks: []health.Check{{Name: "database", Fn: func(ctx context.Context) error { return dbErr }}},
	})

	get := func(path string) int {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}
	if code := get("/healthz"); code != http.StatusOK {
		t.Fatalf("/healthz = %d", code)
	}
	if code := get("/readyz"); code != http.StatusOK {
		t.Fatalf("/readyz = %d, want 200", code)
	}
	dbErr = errors.New("down")
	if code := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz = %d, want 503", code)
	}
	if code := get("/metrics"); code != http.StatusNotFound {
		t.Fatalf("/metrics without collector = %d, want 404", code)
	}
}
