package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"cityflow/config"
	"cityflow/models"
	"cityflow/scenario"
	"cityflow/segment"
	"cityflow/services"
	"cityflow/store"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
)

func newTestRouter(t *testing.T) (*gin.Engine, *store.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := store.NewMemory()
	sim := scenario.New(scenario.Config{
		Graph:        segment.NewHolder(segment.LinearChain([]string{"S1", "S2", "S3", "S4"})),
		History:      mem,
		Runs:         mem,
		RetryBackoff: time.Millisecond,
	})
	cache := services.NewCacheServiceWithClient(nil)
	svc := services.NewRiskService(mem, mem, mem, sim, cache)
	return NewRouter(svc, cache, config.CORSConfig{AllowedOrigins: "*"}), mem
}

func seedRisk(t *testing.T, mem *store.Memory) {
	t.Helper()
	now := time.Now()
	for i, s := range []models.Snapshot{
		{SegmentID: "S1", TS: now.Add(-3 * time.Hour), RiskScore: 0.8, RiskLevel: models.RiskHigh, CurrentDensity: 0.9},
		{SegmentID: "S1", TS: now.Add(-2 * time.Hour), RiskScore: 0.5, RiskLevel: models.RiskMedium, CurrentDensity: 0.6},
		{SegmentID: "S1", TS: now.Add(-time.Hour), RiskScore: 0.2, RiskLevel: models.RiskLow, CurrentDensity: 0.3},
		{SegmentID: "S2", TS: now.Add(-time.Hour), RiskScore: 0.45, RiskLevel: models.RiskMedium, CurrentDensity: 0.5},
	} {
		if err := mem.AppendSnapshot(context.Background(), s); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
}

func do(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type cursorBody[T any] struct {
	Data       []T    `json:"data"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func TestGetRisk(t *testing.T) {
	r, mem := newTestRouter(t)
	seedRisk(t, mem)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCount  int
		wantMore   bool
	}{
		{"all", "/api/v1/segments/risk", http.StatusOK, 4, false},
		{"by segment", "/api/v1/segments/risk?segment_id=S1", http.StatusOK, 3, false},
		{"by level", "/api/v1/segments/risk?risk_level=medium", http.StatusOK, 2, false},
		{"paged", "/api/v1/segments/risk?segment_id=S1&limit=2", http.StatusOK, 2, true},
		{"short window", "/api/v1/segments/risk?hours=1&segment_id=S1", http.StatusOK, 0, false},
		{"bad level", "/api/v1/segments/risk?risk_level=extreme", http.StatusBadRequest, 0, false},
		{"bad hours", "/api/v1/segments/risk?hours=500", http.StatusBadRequest, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(r, http.MethodGet, tt.path, "", nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			body := decode[cursorBody[models.Snapshot]](t, rec)
			if len(body.Data) != tt.wantCount || body.HasMore != tt.wantMore {
				t.Errorf("got %d rows has_more=%v, want %d has_more=%v", len(body.Data), body.HasMore, tt.wantCount, tt.wantMore)
			}
			if tt.wantMore && body.NextCursor == "" {
				t.Error("next_cursor missing")
			}
		})
	}

	t.Run("cursor continues the page", func(t *testing.T) {
		first := decode[cursorBody[models.Snapshot]](t, do(r, http.MethodGet, "/api/v1/segments/risk?segment_id=S1&limit=2", "", nil))
		rec := do(r, http.MethodGet, "/api/v1/segments/risk?segment_id=S1&limit=2&before="+url.QueryEscape(first.NextCursor), "", nil)
		second := decode[cursorBody[models.Snapshot]](t, rec)
		if len(second.Data) != 1 || second.Data[0].RiskScore != 0.8 || second.HasMore {
			t.Errorf("second page = %+v", second)
		}
	})
}

func TestGetSeries(t *testing.T) {
	r, mem := newTestRouter(t)
	seedRisk(t, mem)

	rec := do(r, http.MethodGet, "/api/v1/segments/S1/series?hours=24", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decode[struct {
		SegmentID string                 `json:"segment_id"`
		Series    []services.SeriesPoint `json:"series"`
	}](t, rec)
	if body.SegmentID != "S1" || len(body.Series) != 3 || body.Series[0].Density != 0.9 {
		t.Errorf("series = %+v", body)
	}
}

func TestScenarioEndpoints(t *testing.T) {
	r, mem := newTestRouter(t)
	seedRisk(t, mem)

	t.Run("create", func(t *testing.T) {
		body := `{"scenario_type":"lane_closure","segment_id":"S1","params":{"lanes_closed":2,"duration_hours":3}}`
		rec := do(r, http.MethodPost, "/api/v1/scenarios", body, map[string]string{UserHeader: "ops-1"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		run := decode[models.ScenarioRun](t, rec)
		if run.CreatedBy != "ops-1" || run.TargetSegmentID != "S1" || len(run.AffectedSegments) != 4 {
			t.Errorf("run = %+v", run)
		}
		if run.AffectedSegments[0].SegmentID != "S1" || run.BestTimeWindow.Start == "" {
			t.Errorf("run = %+v", run)
		}
	})

	errorCases := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"malformed json", `{"scenario_type":`, http.StatusBadRequest},
		{"unknown type", `{"scenario_type":"flood","segment_id":"S1","params":{"duration_hours":1}}`, http.StatusBadRequest},
		{"zero duration", `{"scenario_type":"incident","segment_id":"S1","params":{"duration_hours":0}}`, http.StatusBadRequest},
		{"no history", `{"scenario_type":"incident","segment_id":"S4","params":{"duration_hours":1}}`, http.StatusNotFound},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(r, http.MethodPost, "/api/v1/scenarios", tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	t.Run("storage failure is retryable", func(t *testing.T) {
		mem.FailInserts = 2
		body := `{"scenario_type":"event","segment_id":"S2","params":{"duration_hours":2,"event_attendance":20000}}`
		rec := do(r, http.MethodPost, "/api/v1/scenarios", body, nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		if resp := decode[map[string]any](t, rec); resp["retryable"] != true {
			t.Errorf("body = %v, want retryable", resp)
		}
	})

	t.Run("list", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_ = mem.InsertScenario(context.Background(), &models.ScenarioRun{
				ID:              "old-" + string(rune('a'+i)),
				TargetSegmentID: "S3",
				CreatedAt:       time.Now().Add(-time.Duration(i+1) * time.Hour),
			})
		}
		rec := do(r, http.MethodGet, "/api/v1/scenarios?segment_id=S3&limit=2", "", nil)
		body := decode[cursorBody[models.ScenarioRun]](t, rec)
		if len(body.Data) != 2 || !body.HasMore || body.Data[0].ID != "old-a" {
			t.Errorf("page = %+v", body)
		}

		rec = do(r, http.MethodGet, "/api/v1/scenarios", "", nil)
		all := decode[cursorBody[models.ScenarioRun]](t, rec)
		if len(all.Data) != 4 || all.Data[0].TargetSegmentID != "S1" {
			t.Errorf("all runs = %d, newest %+v", len(all.Data), all.Data)
		}
	})
}

func TestForecastEndpoints(t *testing.T) {
	r, mem := newTestRouter(t)
	now := time.Now()
	err := mem.AppendForecasts(context.Background(), []models.ForecastSample{
		{SegmentID: "S1", TS: now.Add(-72 * time.Hour), TrafficDensity: 0.2, ExpectedDensity2h: 0.3},
		{SegmentID: "S2", TS: now.Add(-20 * time.Minute), TrafficDensity: 0.4, ExpectedDensity2h: 0.5},
		{SegmentID: "S2", TS: now.Add(-5 * time.Minute), TrafficDensity: 0.6, ExpectedDensity2h: 0.7},
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		path      string
		wantCount int
	}{
		{"recent", "/api/v1/forecast?segment_id=S2", 2},
		{"falls back to the last week", "/api/v1/forecast?segment_id=S1", 1},
		{"current keeps latest per segment", "/api/v1/forecast/current", 1},
		{"current for one segment", "/api/v1/forecast/current?segment_id=S2", 1},
		{"nothing within fallback", "/api/v1/forecast/current?segment_id=S1", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(r, http.MethodGet, tt.path, "", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			body := decode[struct {
				Data []models.ForecastSample `json:"data"`
			}](t, rec)
			if len(body.Data) != tt.wantCount {
				t.Errorf("got %d samples, want %d: %+v", len(body.Data), tt.wantCount, body.Data)
			}
		})
	}

	if rec := do(r, http.MethodGet, "/api/v1/forecast?hours=0", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("hours=0 status = %d, want 400", rec.Code)
	}
}

func TestHealthAndLive(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := do(r, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "UP") {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(r, http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d", rec.Code)
	}
	if rec := do(r, http.MethodGet, "/api/v1/live", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("live without redis status = %d, want 503", rec.Code)
	}
}

func TestWriteErrorStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantRetryable any
	}{
		{"transient storage failure", &store.PersistenceError{Op: "insert", Err: errors.New("connection reset")}, http.StatusServiceUnavailable, true},
		{"constraint violation", &store.PersistenceError{Op: "insert", Err: &pgconn.PgError{Code: "23505"}}, http.StatusInternalServerError, false},
		{"validation", &scenario.ValidationError{Field: "params.duration_hours", Reason: "must be positive"}, http.StatusBadRequest, nil},
		{"not found", fmt.Errorf("segment S9: %w", store.ErrNotFound), http.StatusNotFound, nil},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/scenarios", nil)
			writeError(c, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decode[map[string]any](t, rec)
			if body["retryable"] != tt.wantRetryable {
				t.Errorf("retryable = %v, want %v", body["retryable"], tt.wantRetryable)
			}
		})
	}
}
