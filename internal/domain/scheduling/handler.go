package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	anyRole := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	anyRole.GET("/appointments", h.ListAppointments)
	anyRole.GET("/appointments/:id", h.GetAppointment)
	anyRole.PUT("/appointments/:id/status", h.SetStatus)
	anyRole.POST("/appointments/:id/cancel", h.Cancel)
	anyRole.GET("/appointments/:id/treatments", h.ListTreatments)
	anyRole.GET("/doctors/:id/availability", h.GetAvailability)

	patientGroup := api.Group("", auth.RequireRole(auth.RolePatient))
	patientGroup.POST("/appointments", h.Book)

	doctorGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctorGroup.POST("/appointments/:id/treatments", h.AddTreatment)
	doctorGroup.POST("/appointments/:id/treat", h.Treat)
	doctorGroup.PUT("/doctors/:id/availability", h.ReplaceAvailability)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidDate), errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSlotTaken), errors.Is(err, ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, ErrDoctorUnavailable), errors.Is(err, ErrSlotNotOffered):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// errorResponse renders a domain error as {"error": kind, "message": text}.
// Unknown errors keep their cause as the internal error for the request log.
func errorResponse(err error) error {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		return echo.NewHTTPError(code, map[string]string{
			"error":   "Internal",
			"message": "internal server error",
		}).SetInternal(err)
	}
	return echo.NewHTTPError(code, map[string]string{
		"error":   Kind(err),
		"message": err.Error(),
	})
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, map[string]string{
		"error":   "ValidationError",
		"message": msg,
	})
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, badRequest("invalid id")
	}
	return id, nil
}

func callerOf(c echo.Context) auth.Caller {
	caller, _ := auth.CallerFromContext(c.Request().Context())
	return caller
}

// -- Booking --

type bookRequest struct {
	DoctorID  uuid.UUID  `json:"doctor_id" form:"doctor_id"`
	PatientID *uuid.UUID `json:"patient_id" form:"patient_id"`
	Date      string     `json:"date" form:"date"`
	Time      string     `json:"time" form:"time"`
	VisitType string     `json:"visit_type" form:"visit_type"`
	Notes     string     `json:"notes" form:"notes"`
}

// Book handles POST /appointments. Patients book for themselves; admins must
// name the patient. The response is the appointment view with participant
// names, the same shape GET /appointments/:id returns.
func (h *Handler) Book(c echo.Context) error {
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}
	caller := callerOf(c)

	patientID := caller.ID
	if req.PatientID != nil {
		patientID = *req.PatientID
	} else if !caller.IsPatient() {
		return badRequest("patient_id is required")
	}
	if req.DoctorID == uuid.Nil {
		return badRequest("doctor_id is required")
	}

	a, err := h.svc.Book(c.Request().Context(), caller, BookingRequest{
		PatientID: patientID,
		DoctorID:  req.DoctorID,
		Date:      req.Date,
		Time:      req.Time,
		VisitType: req.VisitType,
		Notes:     req.Notes,
	})
	if err != nil {
		return errorResponse(err)
	}
	view, err := h.svc.GetAppointment(c.Request().Context(), caller, a.ID)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, view)
}

// -- Queries --

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	svc := h.svc

	f := AppointmentFilter{
		From:      c.QueryParam("from"),
		Status:    Status(c.QueryParam("status")),
		Ascending: strings.EqualFold(c.QueryParam("order"), "asc"),
	}
	if upcoming, _ := strconv.ParseBool(c.QueryParam("upcoming")); upcoming {
		f.From = svc.Today()
		f.Ascending = true
	}
	for param, dst := range map[string]**uuid.UUID{"doctor_id": &f.DoctorID, "patient_id": &f.PatientID} {
		if v := c.QueryParam(param); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return badRequest("invalid " + param)
			}
			*dst = &id
		}
	}

	views, total, err := svc.ListAppointments(c.Request().Context(), callerOf(c), f, pg.Limit, pg.Offset)
	if err != nil {
		return errorResponse(err)
	}
	if views == nil {
		views = []*AppointmentView{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset).
		WithLinks(c.Request().URL.Path, c.QueryParams()))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.GetAppointment(c.Request().Context(), callerOf(c), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, v)
}

// -- Status --

type statusRequest struct {
	Status string `json:"status" form:"status"`
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}

	a, err := h.svc.SetStatus(c.Request().Context(), callerOf(c), id, Status(strings.TrimSpace(req.Status)))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Cancel(c.Request().Context(), callerOf(c), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, a)
}

// -- Treatments --

func (h *Handler) AddTreatment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in TreatmentInput
	if err := c.Bind(&in); err != nil {
		return badRequest(err.Error())
	}

	t, err := h.svc.AddTreatment(c.Request().Context(), callerOf(c), id, in)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, t)
}

// treatRequest is the visit form: tests and medicines arrive as comma
// separated text.
type treatRequest struct {
	Diagnosis    string `json:"diagnosis" form:"diagnosis"`
	Prescription string `json:"prescription" form:"prescription"`
	VisitType    string `json:"visit_type" form:"visit_type"`
	TestsDone    string `json:"tests_done" form:"tests_done"`
	Medicines    string `json:"medicines" form:"medicines"`
}

// Treat records the visit and completes the appointment.
func (h *Handler) Treat(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req treatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}

	t, err := h.svc.AddTreatment(c.Request().Context(), callerOf(c), id, TreatmentInput{
		Diagnosis:    req.Diagnosis,
		Prescription: req.Prescription,
		VisitType:    req.VisitType,
		TestsDone:    strings.Split(req.TestsDone, ","),
		Medicines:    strings.Split(req.Medicines, ","),
		Complete:     true,
	})
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) ListTreatments(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ts, err := h.svc.ListTreatments(c.Request().Context(), callerOf(c), id)
	if err != nil {
		return errorResponse(err)
	}
	if ts == nil {
		ts = []*Treatment{}
	}
	return c.JSON(http.StatusOK, ts)
}

// -- Availability --

type availabilityResponse struct {
	DoctorID     uuid.UUID    `json:"doctor_id"`
	Availability Availability `json:"availability"`
}

func (h *Handler) GetAvailability(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAvailability(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, availabilityResponse{DoctorID: id, Availability: a})
}

// availabilityRequest accepts either label lists or the form style
// "09:00, 10:00" strings per date.
type availabilityRequest struct {
	Availability map[string][]string `json:"availability"`
	Slots        map[string]string   `json:"slots"`
}

func (h *Handler) ReplaceAvailability(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req availabilityRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}

	raw := req.Availability
	switch {
	case req.Availability != nil && req.Slots != nil:
		return badRequest("send either availability or slots, not both")
	case req.Slots != nil:
		raw = make(map[string][]string, len(req.Slots))
		for date, list := range req.Slots {
			raw[date] = ParseSlotList(list)
		}
	case req.Availability == nil:
		return badRequest("availability is required")
	}

	a, err := h.svc.ReplaceAvailability(c.Request().Context(), callerOf(c), id, raw)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, availabilityResponse{DoctorID: id, Availability: a})
}
