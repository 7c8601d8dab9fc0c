package patient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	svc, _ := newTestService(t)
	return NewHandler(svc), echo.New()
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func register(t *testing.T, h *Handler, e *echo.Echo, body string) map[string]interface{} {
	t.Helper()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/patients", body), rec)
	if err := h.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestHandler_Register(t *testing.T) {
	h, e := newTestHandler(t)

	out := register(t, h, e, `{"profile":{"name":"Kim","age":30,"gender":"female"},"symptoms":["fever"]}`)

	if _, err := uuid.Parse(out["patient_id"].(string)); err != nil {
		t.Errorf("bad patient_id: %v", out["patient_id"])
	}
	rec, ok := out["recommended_tests"].([]interface{})
	if !ok || len(rec) != 2 {
		t.Fatalf("expected 2 recommended tests, got %v", out["recommended_tests"])
	}
	first := rec[0].(map[string]interface{})
	if first["test_name"] != "CBC" || first["status"] != "recommended" || first["reason"] == "" {
		t.Errorf("unexpected decision: %v", first)
	}
	if skipped, ok := out["skipped_tests"].([]interface{}); !ok || len(skipped) != 0 {
		t.Errorf("expected empty skipped_tests array, got %v", out["skipped_tests"])
	}
}

func TestHandler_Register_BadRequest(t *testing.T) {
	h, e := newTestHandler(t)

	for _, body := range []string{
		`{"profile":{"age":30},"symptoms":[]}`,
		`{"profile":{"name":"X","age":-2},"symptoms":[]}`,
		`{"profile":`,
	} {
		c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/patients", body), httptest.NewRecorder())
		expectHTTPError(t, h.Register(c), http.StatusBadRequest)
	}
}

func TestHandler_GetPatient(t *testing.T) {
	h, e := newTestHandler(t)
	out := register(t, h, e, `{"profile":{"name":"Lee","age":52},"symptoms":[]}`)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(out["patient_id"].(string))

	if err := h.GetPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var p map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &p)
	visits, _ := p["visits"].([]interface{})
	if len(visits) != 1 {
		t.Fatalf("expected 1 visit, got %v", p["visits"])
	}
	v := visits[0].(map[string]interface{})
	if v["visit_id"] != out["visit_id"] {
		t.Errorf("visit id mismatch: %v vs %v", v["visit_id"], out["visit_id"])
	}
	if _, ok := v["lab_results"].([]interface{}); !ok {
		t.Errorf("expected lab_results array, got %v", v["lab_results"])
	}
}

func TestHandler_GetPatient_Errors(t *testing.T) {
	h, e := newTestHandler(t)

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	expectHTTPError(t, h.GetPatient(c), http.StatusBadRequest)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	expectHTTPError(t, h.GetPatient(c), http.StatusNotFound)
}

func TestHandler_NewVisit(t *testing.T) {
	h, e := newTestHandler(t)
	out := register(t, h, e, `{"profile":{"name":"Mo","age":30},"symptoms":["fever"]}`)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"symptoms":["fatigue"]}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(out["patient_id"].(string))
	if err := h.NewVisit(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	c = e.NewContext(jsonRequest(http.MethodPost, "/", `{"symptoms":[]}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	expectHTTPError(t, h.NewVisit(c), http.StatusNotFound)
}

func TestHandler_UploadLabResults(t *testing.T) {
	h, e := newTestHandler(t)
	out := register(t, h, e, `{"profile":{"name":"Ned","age":30},"symptoms":["fever"]}`)

	body := `{"lab_results":[{"test_name":"CBC","test_date":"2024-05-01T09:00:00Z","parameters":[
		{"name":"WBC","value":14.2,"unit":"10^9/L","reference_range":"4.0-11.0","is_abnormal":true}]}]}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)
	c.SetParamNames("id", "visit_id")
	c.SetParamValues(out["patient_id"].(string), out["visit_id"].(string))

	if err := h.UploadLabResults(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	interp := res["interpretations"].(map[string]interface{})
	if !strings.HasPrefix(interp["patient_friendly"].(string), "**CBC**: ") {
		t.Errorf("expected labeled interpretation, got %q", interp["patient_friendly"])
	}
	tests := res["tests"].([]interface{})
	if tests[0].(map[string]interface{})["outcome"] != "generated" {
		t.Errorf("unexpected outcome: %v", tests[0])
	}

	// unknown visit
	c = e.NewContext(jsonRequest(http.MethodPost, "/", body), httptest.NewRecorder())
	c.SetParamNames("id", "visit_id")
	c.SetParamValues(out["patient_id"].(string), uuid.NewString())
	expectHTTPError(t, h.UploadLabResults(c), http.StatusNotFound)

	// empty upload
	c = e.NewContext(jsonRequest(http.MethodPost, "/", `{"lab_results":[]}`), httptest.NewRecorder())
	c.SetParamNames("id", "visit_id")
	c.SetParamValues(out["patient_id"].(string), out["visit_id"].(string))
	expectHTTPError(t, h.UploadLabResults(c), http.StatusBadRequest)
}

func TestHandler_PatchProfile(t *testing.T) {
	h, e := newTestHandler(t)
	out := register(t, h, e, `{"profile":{"name":"Oz","age":30},"symptoms":[]}`)

	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"gender":"male"}`))
	req.Header.Set(echo.HeaderContentType, "application/merge-patch+json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(out["patient_id"].(string))
	if err := h.PatchProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var p Patient
	_ = json.Unmarshal(rec.Body.Bytes(), &p)
	if p.Profile.Gender != "male" || p.Profile.Name != "Oz" {
		t.Errorf("unexpected profile %+v", p.Profile)
	}

	req = httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"age":-4}`))
	c = e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(out["patient_id"].(string))
	expectHTTPError(t, h.PatchProfile(c), http.StatusBadRequest)
}

func TestHandler_ListPatients(t *testing.T) {
	h, e := newTestHandler(t)
	register(t, h, e, `{"profile":{"name":"Pat","age":30},"symptoms":[]}`)
	register(t, h, e, `{"profile":{"name":"Quin","age":31},"symptoms":[]}`)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/patients?limit=1", nil), rec)
	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data    []Patient `json:"data"`
		Total   int       `json:"total"`
		HasMore bool      `json:"has_more"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 2 || len(page.Data) != 1 || !page.HasMore {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestHttpError_HidesInternalErrors(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := httpError(c, context.DeadlineExceeded)
	expectHTTPError(t, err, http.StatusInternalServerError)
	if he := err.(*echo.HTTPError); he.Message != "internal server error" {
		t.Errorf("internal error leaked: %v", he.Message)
	}
}
