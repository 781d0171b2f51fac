package identity

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

// CareChecker reports whether a doctor has an appointment with a patient.
type CareChecker interface {
	HasAppointmentWith(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error)
}

type Handler struct {
	svc  *Service
	care CareChecker
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// WithCareChecker lets doctors read the profiles of patients they have
// appointments with. Without it doctors cannot read patient profiles.
func (h *Handler) WithCareChecker(care CareChecker) *Handler {
	h.care = care
	return h
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	readGroup.GET("/doctors", h.ListDoctors)
	readGroup.GET("/doctors/:id", h.GetDoctor)
	readGroup.GET("/departments", h.ListDepartments)
	readGroup.GET("/patients/:id", h.GetPatient)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/doctors", h.CreateDoctor)
	adminGroup.POST("/doctors/:id/active", h.SetDoctorActive)
	adminGroup.GET("/patients", h.ListPatients)
	adminGroup.POST("/patients", h.CreatePatient)
}

func errorResponse(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Doctor Handlers --

type createDoctorRequest struct {
	FullName       string     `json:"full_name"`
	Username       string     `json:"username"`
	Specialization string     `json:"specialization"`
	DepartmentID   *uuid.UUID `json:"department_id"`
	Department     string     `json:"department"`
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var req createDoctorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()

	d := &Doctor{
		FullName:       req.FullName,
		Username:       req.Username,
		Specialization: req.Specialization,
		DepartmentID:   req.DepartmentID,
	}
	if d.DepartmentID == nil && req.Department != "" {
		dept, err := h.svc.GetDepartmentByName(ctx, req.Department)
		if err != nil {
			return errorResponse(err)
		}
		d.DepartmentID = &dept.ID
	}

	if err := h.svc.CreateDoctor(ctx, d); err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, d)
}

// ListDoctors lists doctors. Non-admin callers only see active doctors, the
// ones they can book.
func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	caller, _ := auth.CallerFromContext(c.Request().Context())

	activeOnly := !caller.IsAdmin()
	if v := c.QueryParam("active"); v != "" && caller.IsAdmin() {
		activeOnly, _ = strconv.ParseBool(v)
	}

	doctors, total, err := h.svc.ListDoctors(c.Request().Context(), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(doctors, total, pg.Limit, pg.Offset).
		WithLinks(c.Request().URL.Path, c.QueryParams()))
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) SetDoctorActive(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req setActiveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Active == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "active is required")
	}

	d, err := h.svc.SetDoctorActive(c.Request().Context(), id, *req.Active)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, d)
}

// -- Patient Handlers --

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, p)
}

// GetPatient returns a patient profile to an admin, the patient themself, or
// a doctor who has an appointment with them.
func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	caller, _ := auth.CallerFromContext(ctx)

	switch {
	case caller.IsAdmin():
	case caller.IsPatient():
		if caller.ID != id {
			return echo.NewHTTPError(http.StatusForbidden, "patients may only view their own profile")
		}
	case caller.IsDoctor() && h.care != nil:
		ok, err := h.care.HasAppointmentWith(ctx, caller.ID, id)
		if err != nil {
			return errorResponse(err)
		}
		if !ok {
			return echo.NewHTTPError(http.StatusForbidden, "doctors may only view their own patients")
		}
	default:
		return echo.NewHTTPError(http.StatusForbidden, "not permitted to view this profile")
	}

	p, err := h.svc.GetPatient(ctx, id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset).
		WithLinks(c.Request().URL.Path, c.QueryParams()))
}

// -- Department Handlers --

func (h *Handler) ListDepartments(c echo.Context) error {
	depts, err := h.svc.ListDepartments(c.Request().Context())
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, depts)
}
