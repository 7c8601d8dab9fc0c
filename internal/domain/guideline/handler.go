package guideline

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/labopti/labopti/internal/platform/auth"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read-only knowledge base – any clinical role
	readGroup := api.Group("/guidelines", auth.RequireRole("admin", "physician", "nurse", "lab"))
	readGroup.GET("/tests", h.ListTests)
	readGroup.GET("/tests/:name", h.GetTest)
	readGroup.GET("/symptoms", h.ListSymptoms)
}

type testSummary struct {
	Name         string `json:"name"`
	FullName     string `json:"full_name,omitempty"`
	ValidityDays int    `json:"validity_days"`
}

func (h *Handler) ListTests(c echo.Context) error {
	names := h.store.TestNames()
	out := make([]testSummary, 0, len(names))
	for _, n := range names {
		info, _ := h.store.TestInfo(n)
		out = append(out, testSummary{Name: n, FullName: info.FullName, ValidityDays: h.store.ValidityDays(n)})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetTest(c echo.Context) error {
	info, ok := h.store.TestInfo(c.Param("name"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "test not found")
	}
	return c.JSON(http.StatusOK, info)
}

type symptomEntry struct {
	Symptom   string   `json:"symptom"`
	Tests     []string `json:"tests"`
	Reasoning string   `json:"reasoning,omitempty"`
}

func (h *Handler) ListSymptoms(c echo.Context) error {
	symptoms := h.store.Symptoms()
	out := make([]symptomEntry, 0, len(symptoms))
	for _, s := range symptoms {
		out = append(out, symptomEntry{
			Symptom:   s,
			Tests:     h.store.TestsForSymptom(s).Sorted(),
			Reasoning: h.store.SymptomReasoning(s),
		})
	}
	return c.JSON(http.StatusOK, out)
}
