package mapping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ayurbridge/terminology-api/internal/jobs"
	"github.com/ayurbridge/terminology-api/internal/pipeline"
)

func newTestHandler(t *testing.T, src bool, outcome *pipeline.Outcome) (*Handler, *fakeMappings) {
	t.Helper()
	repo := &fakeMappings{details: map[string]*Detail{}}
	pipe := &fakePipe{outcome: outcome}

	var svc *Service
	if src {
		svc, _ = newTestService(testSource(), repo, pipe)
	} else {
		svc, _ = newTestService(nil, repo, pipe)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	queue := jobs.NewQueue(ctx, svc.ProcessBatchItem, jobs.Options{MaxConcurrent: 1}, zerolog.New(os.Stderr))

	return NewHandler(svc, queue, 0, zerolog.New(os.Stderr)), repo
}

func postJSON(t *testing.T, h echo.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestTranslateHandler_Success(t *testing.T) {
	h, repo := newTestHandler(t, true, matchedOutcome("SK00.0", 0.95))

	rec := postJSON(t, h.Translate, "/mapping", `{"code":"AAA-1","system":"ayurveda"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var res TranslateResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.ResultSource != "ai_workflow" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Mapping.Target == nil || res.Mapping.Target.Code != "SK00.0" {
		t.Errorf("target = %+v", res.Mapping.Target)
	}
	if len(repo.upserts) != 1 {
		t.Errorf("expected 1 upsert, got %d", len(repo.upserts))
	}
}

func TestTranslateHandler_UnknownSystem(t *testing.T) {
	h, _ := newTestHandler(t, true, matchedOutcome("SK00.0", 0.9))

	rec := postJSON(t, h.Translate, "/mapping", `{"code":"AAA-1","system":"homeopathy"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "validation" {
		t.Errorf("error label = %v", body["error"])
	}
}

func TestTranslateHandler_MissingCode(t *testing.T) {
	h, _ := newTestHandler(t, true, matchedOutcome("SK00.0", 0.9))
	rec := postJSON(t, h.Translate, "/mapping", `{"system":"ayurveda"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTranslateHandler_NotFound(t *testing.T) {
	h, _ := newTestHandler(t, false, matchedOutcome("SK00.0", 0.9))
	rec := postJSON(t, h.Translate, "/mapping", `{"code":"NOPE","system":"ayurveda"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTranslateHandler_Unmatched200(t *testing.T) {
	h, _ := newTestHandler(t, true, &pipeline.Outcome{
		Equivalence: EquivalenceUnmatched,
		Reasoning:   "No candidates",
	})

	rec := postJSON(t, h.Translate, "/mapping", `{"code":"AAA-1","system":"ayurveda"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unmatched must be 200, got %d", rec.Code)
	}

	var res TranslateResult
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Success {
		t.Error("unmatched response should report success=false")
	}
	if res.Mapping.Target != nil {
		t.Error("unmatched response must carry a null target")
	}
}

func TestBatchSync_SizeLimit(t *testing.T) {
	h, _ := newTestHandler(t, true, matchedOutcome("SK00.0", 0.9))

	var sb strings.Builder
	sb.WriteString(`{"codes":[`)
	for i := 0; i < 101; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"code":"A","system":"ayurveda"}`)
	}
	sb.WriteString(`]}`)

	rec := postJSON(t, h.BatchSync, "/mapping/batch", sb.String())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("batch > 100 must be 400, got %d", rec.Code)
	}
}

func TestBatchSync_LooksUpExistingOnly(t *testing.T) {
	h, repo := newTestHandler(t, true, matchedOutcome("SK00.0", 0.9))
	repo.details["ayurveda:AAA-1"] = &Detail{
		Mapping:      Mapping{Equivalence: EquivalenceEquivalent, Confidence: 0.85},
		SourceCode:   "AAA-1",
		SourceSystem: "ayurveda",
		TargetCode:   "SK00.0",
		TargetTitle:  "Fever disorder",
	}

	rec := postJSON(t, h.BatchSync, "/mapping/batch",
		`{"codes":[{"code":"AAA-1","system":"ayurveda"},{"code":"AAA-2","system":"ayurveda"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Summary map[string]int `json:"summary"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Summary["matched"] != 1 || body.Summary["unmatched"] != 1 {
		t.Errorf("summary = %v", body.Summary)
	}
	if len(repo.upserts) != 0 {
		t.Error("sync batch must not run the pipeline or persist")
	}
}

func TestBatchAsync_Accepted(t *testing.T) {
	h, _ := newTestHandler(t, true, matchedOutcome("SK00.0", 0.9))

	rec := postJSON(t, h.BatchAsync, "/mapping/batch/async",
		`{"codes":[{"code":"AAA-1","system":"ayurveda"}]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["job_id"] == "" || body["status"] != string(jobs.StatusPending) {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["estimated_time"]; !ok {
		t.Error("expected estimated_time in 202 body")
	}
}

func TestBatchStatus_PollsUntilCompleted(t *testing.T) {
	h, _ := newTestHandler(t, true, matchedOutcome("SK00.0", 0.9))

	rec := postJSON(t, h.BatchAsync, "/mapping/batch/async",
		`{"codes":[{"code":"AAA-1","system":"ayurveda"},{"code":"AAA-2","system":"ayurveda"}]}`)
	var created map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	jobID := created["job_id"].(string)

	// Poll status until terminal.
	e := echo.New()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/mapping/batch/"+jobID, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(jobID)
		if err := h.BatchStatus(c); err != nil {
			t.Fatal(err)
		}
		var body map[string]interface{}
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if body["status"] == string(jobs.StatusCompleted) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not complete in time")
}

func TestBatchStatus_UnknownJob(t *testing.T) {
	h, _ := newTestHandler(t, true, matchedOutcome("SK00.0", 0.9))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/mapping/batch/nope", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("nope")
	if err := h.BatchStatus(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
