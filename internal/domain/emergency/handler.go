package emergency

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/dispatchdesk/internal/platform/triage"
	"github.com/ehr/dispatchdesk/pkg/pagination"
)

type Handler struct {
	svc    *Service
	intake *Intake
}

func NewHandler(svc *Service, intake *Intake) *Handler {
	return &Handler{svc: svc, intake: intake}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Caller flow
	api.POST("/emergency", h.SubmitEmergency)
	api.POST("/select-hospital", h.SelectHospital)

	// Operator dashboard
	api.GET("/doctor-requests", h.ListActiveCases)
	api.GET("/cases/:id", h.GetCase)
	api.GET("/cases/:id/history", h.GetCaseHistory)
	api.POST("/accept-case/:id", h.AcceptCase)
	api.POST("/complete-case/:id", h.CompleteCase)
	api.GET("/hospital-status", h.HospitalStatus)
}

func (h *Handler) SubmitEmergency(c echo.Context) error {
	var req IntakeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.intake.Run(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type selectHospitalRequest struct {
	HospitalName string         `json:"hospital_name"`
	Triage       *triage.Result `json:"triage"`
	Location     string         `json:"location"`
}

func (h *Handler) SelectHospital(c echo.Context) error {
	var req selectHospitalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.HospitalName == "" {
		return toHTTPError(&ValidationError{Field: "hospital_name"})
	}
	if req.Triage == nil {
		return toHTTPError(&ValidationError{Field: "triage"})
	}

	cs, available, err := h.svc.CreateCase(c.Request().Context(), CreateCaseInput{
		HospitalName:       req.HospitalName,
		SeverityScore:      req.Triage.SeverityScore,
		SeverityLevel:      SeverityLevel(req.Triage.SeverityLevel),
		RequiredSpecialist: req.Triage.RequiredSpecialist,
		EmergencyType:      req.Triage.EmergencyType,
		Location:           req.Location,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":        "Bed Reserved Successfully",
		"case_id":        cs.ID,
		"hospital":       cs.HospitalName,
		"available_beds": available,
	})
}

func (h *Handler) ListActiveCases(c echo.Context) error {
	pg := pagination.FromContext(c)
	cases := h.svc.ListActiveCases(c.Request().Context())
	return c.JSON(http.StatusOK, pagination.Page(cases, pg))
}

func (h *Handler) GetCase(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	cs, err := h.svc.GetCase(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) GetCaseHistory(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	history, err := h.svc.CaseHistory(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) AcceptCase(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.AcceptCase(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":  "Doctor accepted. Dispatch triggered.",
		"case_id":  id,
		"dispatch": d,
	})
}

func (h *Handler) CompleteCase(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	cs, err := h.svc.CompleteCase(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":  "Case completed",
		"case_id":  cs.ID,
		"hospital": cs.HospitalName,
	})
}

func (h *Handler) HospitalStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.HospitalStatus(c.Request().Context()))
}

func caseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	return id, nil
}

// toHTTPError maps domain errors onto status codes. Nothing here is retried;
// these are logical-state errors.
func toHTTPError(err error) *echo.HTTPError {
	var (
		verr *ValidationError
		terr *TransitionError
	)
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	case errors.Is(err, ErrHospitalNotRegistered):
		return echo.NewHTTPError(http.StatusNotFound, "Hospital not registered. Submit emergency first.")
	case errors.Is(err, ErrCaseNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Case not found")
	case errors.Is(err, ErrNoBedsAvailable):
		return echo.NewHTTPError(http.StatusConflict, "No beds available at this hospital")
	case errors.As(err, &terr):
		return echo.NewHTTPError(http.StatusConflict, terr.Error())
	case errors.Is(err, ErrTriageFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
