package patient

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/labopti/labopti/internal/domain/recommendation"
	"github.com/labopti/labopti/internal/platform/auth"
	"github.com/labopti/labopti/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – any clinical role
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "lab"))
	readGroup.GET("/patients", h.ListPatients)
	readGroup.GET("/patients/:id", h.GetPatient)
	readGroup.GET("/patients/:id/visits/:visit_id", h.GetVisit)

	// Write endpoints – admin, physician
	writeGroup := api.Group("", auth.RequireRole("admin", "physician"))
	writeGroup.POST("/patients", h.Register)
	writeGroup.PATCH("/patients/:id", h.PatchProfile)
	writeGroup.POST("/patients/:id/visits", h.NewVisit)

	// Lab staff may upload results
	uploadGroup := api.Group("", auth.RequireRole("admin", "physician", "lab"))
	uploadGroup.POST("/patients/:id/visits/:visit_id/lab-results", h.UploadLabResults)
}

type registerRequest struct {
	Profile  Profile  `json:"profile"`
	Symptoms []string `json:"symptoms"`
}

type visitRequest struct {
	Symptoms []string `json:"symptoms"`
}

type uploadRequest struct {
	LabResults []recommendation.LabResult `json:"lab_results"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reg, err := h.svc.Register(c.Request().Context(), req.Profile, req.Symptoms)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, reg)
}

func (h *Handler) NewVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req visitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.NewVisit(c.Request().Context(), id, req.Symptoms)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) UploadLabResults(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	visitID, err := uuid.Parse(c.Param("visit_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit_id")
	}
	var req uploadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.UploadLabResults(c.Request().Context(), patientID, visitID, req.LabResults)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetVisit(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	visitID, err := uuid.Parse(c.Param("visit_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit_id")
	}
	v, err := h.svc.GetVisit(c.Request().Context(), patientID, visitID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(c, err)
	}
	if patients == nil {
		patients = []*Patient{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset))
}

func (h *Handler) PatchProfile(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	patch, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	if len(patch) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty patch")
	}
	p, err := h.svc.PatchProfile(c.Request().Context(), id, patch)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// httpError maps service errors onto HTTP status codes. Unexpected errors are
// logged with the request logger and hidden from the client.
func httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrVisitNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "visit not found")
	case errors.Is(err, ErrInvalidProfile),
		errors.Is(err, ErrInvalidLabResult),
		errors.Is(err, ErrInvalidPatch),
		errors.Is(err, recommendation.ErrInvalidAge),
		errors.Is(err, recommendation.ErrNoResults):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	zerolog.Ctx(c.Request().Context()).Error().Err(err).Str("path", c.Path()).Msg("patient request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
