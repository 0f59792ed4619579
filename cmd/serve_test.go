package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geolens/geo-audit/internal/audit"
	"github.com/geolens/geo-audit/internal/extract"
	"github.com/geolens/geo-audit/internal/model"
	"github.com/geolens/geo-audit/internal/store"
)

type stubDispatcher struct{}

func (stubDispatcher) Dispatch(_ context.Context, specs []model.ProbeSpec) ([]model.ProbeResponse, []model.DispatchFailure, error) {
	out := make([]model.ProbeResponse, len(specs))
	for i, sp := range specs {
		out[i] = model.ProbeResponse{Spec: sp, Text: "Acme leads the category."}
	}
	return out, nil, nil
}

type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, resp model.ProbeResponse) model.ProbeResult {
	return model.ProbeResult{Spec: resp.Spec, ExtractionStatus: model.ExtractionOK, HasTargetBrand: true}
}

type stubScorer struct{}

func (stubScorer) Score(results []model.ProbeResult) model.GeoScore {
	if len(results) == 0 {
		return model.GeoScore{InsufficientData: true}
	}
	return model.GeoScore{OverallScore: 55, TestCount: len(results)}
}

func newTestServer(t *testing.T, apiKey string) (*httptest.Server, *audit.Service) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	svc := audit.NewService(st, stubDispatcher{},
		func(extract.Target) audit.Extractor { return stubExtractor{} },
		stubScorer{}, nil, audit.Config{Providers: []string{"openai"}})

	ts := httptest.NewServer(newRouter(svc, apiKey))
	t.Cleanup(ts.Close)
	return ts, svc
}

func postDetect(t *testing.T, ts *httptest.Server, apiKey string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/detect", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestServe_Health_NoAPIKeyRequired(t *testing.T) {
	ts, _ := newTestServer(t, "secret")

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServe_Detect_RequiresAPIKey(t *testing.T) {
	ts, _ := newTestServer(t, "secret")

	resp := postDetect(t, ts, "", model.AuditRequest{BrandName: "Acme", Keywords: []string{"widgets"}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServe_Detect_ThenPollCompleted(t *testing.T) {
	ts, svc := newTestServer(t, "secret")

	resp := postDetect(t, ts, "secret", model.AuditRequest{BrandName: "Acme", Keywords: []string{"widgets"}})
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created struct {
		AuditID string `json:"audit_id"`
		Status  string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "pending", created.Status)
	require.NotEmpty(t, created.AuditID)

	svc.Wait()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/audits/"+created.AuditID, nil)
	req.Header.Set("X-API-Key", "secret")
	getResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var rec model.AuditRecord
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&rec))
	assert.Equal(t, model.AuditStatusCompleted, rec.Status)
	require.NotNil(t, rec.GeoScore)
	assert.InDelta(t, 55, rec.GeoScore.OverallScore, 0.001)
}

func TestServe_Detect_InvalidBody(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp, err := http.Post(ts.URL+"/detect", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_Detect_ValidationError(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp := postDetect(t, ts, "", model.AuditRequest{BrandName: "Acme"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_GetAudit_NotFound(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/audits/no-such-audit")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServe_ListAudits(t *testing.T) {
	ts, svc := newTestServer(t, "")

	for i := 0; i < 3; i++ {
		resp := postDetect(t, ts, "", model.AuditRequest{BrandName: "Acme", Keywords: []string{"widgets"}})
		resp.Body.Close()
	}
	svc.Wait()

	resp, err := http.Get(ts.URL + "/audits?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Items []model.AuditRecord `json:"items"`
		Total int                 `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Items, 2)
}

func TestServe_DeleteAudit(t *testing.T) {
	ts, svc := newTestServer(t, "")

	resp := postDetect(t, ts, "", model.AuditRequest{BrandName: "Acme", Keywords: []string{"widgets"}})
	var created struct {
		AuditID string `json:"audit_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	svc.Wait()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/audits/"+created.AuditID, nil)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/audits/"+created.AuditID, nil)
	delResp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, delResp.StatusCode)
}

func TestServe_Stats(t *testing.T) {
	ts, svc := newTestServer(t, "")

	resp := postDetect(t, ts, "", model.AuditRequest{BrandName: "Acme", Keywords: []string{"widgets"}})
	resp.Body.Close()
	svc.Wait()

	statsResp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()
	require.Equal(t, http.StatusOK, statsResp.StatusCode)

	var stats model.AuditStats
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.TotalAudits)
	assert.Equal(t, 1, stats.CompletedAudits)
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/audits?skip=5&limit=abc&neg=-2", nil)
	assert.Equal(t, 5, queryInt(req, "skip", 0))
	assert.Equal(t, 20, queryInt(req, "limit", 20))
	assert.Equal(t, 7, queryInt(req, "neg", 7))
	assert.Equal(t, 3, queryInt(req, "missing", 3))
}
