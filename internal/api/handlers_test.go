package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/reengage/internal/campaign"
	"github.com/foxzi/reengage/internal/config"
	"github.com/foxzi/reengage/internal/db/dbtest"
	"github.com/foxzi/reengage/internal/metrics"
	"github.com/foxzi/reengage/internal/models"
	"github.com/foxzi/reengage/internal/queue"
	"github.com/foxzi/reengage/internal/scheduler"
)

const testAPIKey = "test-key"

var testNow = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

type fakeRunner struct {
	result *scheduler.Result
	err    error
	calls  int
	ctxErr error
}

func (f *fakeRunner) Run(ctx context.Context) (*scheduler.Result, error) {
	f.calls++
	f.ctxErr = ctx.Err()
	return f.result, f.err
}

type testEnv struct {
	server    *Server
	runner    *fakeRunner
	campaigns *campaign.Manager
	storage   *queue.BoltStorage
}

func newTestEnv(t *testing.T, cfg *config.APIConfig) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := func() time.Time { return testNow }

	d := dbtest.New(t)
	campaigns := campaign.NewManager(d, nil, campaign.Options{Now: now}, logger)

	storage, err := queue.NewBoltStorage(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { storage.Close() })

	if cfg == nil {
		cfg = &config.APIConfig{APIKey: testAPIKey}
	}
	runner := &fakeRunner{result: &scheduler.Result{NewCampaigns: 2, ScheduledNotifications: 3, ClosedCampaigns: 1}}

	s := NewServer(Deps{
		Scheduler: runner,
		Campaigns: campaigns,
		Metrics:   metrics.NewRecorder(d, now, logger),
		Queue:     storage,
		Version:   "test",
	}, cfg, logger)

	return &testEnv{server: s, runner: runner, campaigns: campaigns, storage: storage}
}

func (e *testEnv) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	resp := decode[HealthResponse](t, rr)
	if resp.Status != "ok" || resp.Version != "test" || resp.Queue == nil {
		t.Errorf("health = %+v", resp)
	}
}

func TestAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		cfg        *config.APIConfig
		headers    map[string]string
		remoteAddr string
		wantStatus int
	}{
		{"missing key", &config.APIConfig{APIKey: "k"}, nil, "", http.StatusUnauthorized},
		{"wrong key", &config.APIConfig{APIKey: "k"}, map[string]string{"Authorization": "Bearer nope"}, "", http.StatusUnauthorized},
		{"bearer key", &config.APIConfig{APIKey: "k"}, map[string]string{"Authorization": "Bearer k"}, "", http.StatusOK},
		{"x-api-key", &config.APIConfig{APIKey: "k"}, map[string]string{"X-API-Key": "k"}, "", http.StatusOK},
		{"bcrypt hash", &config.APIConfig{APIKeyHash: string(hash)}, map[string]string{"X-API-Key": "hashed-key"}, "", http.StatusOK},
		{"bcrypt wrong", &config.APIConfig{APIKeyHash: string(hash)}, map[string]string{"X-API-Key": "k"}, "", http.StatusUnauthorized},
		{"ip allowed", &config.APIConfig{AllowedIPs: []string{"10.1.0.0/16"}}, nil, "10.1.2.3:1000", http.StatusOK},
		{"ip denied", &config.APIConfig{AllowedIPs: []string{"10.1.0.0/16"}}, nil, "10.2.2.3:1000", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.cfg)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if tt.remoteAddr != "" {
				req.RemoteAddr = tt.remoteAddr
			}
			rr := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestScheduleRun(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantSuccess bool
	}{
		{"success", nil, http.StatusOK, true},
		{"in progress", scheduler.ErrRunInProgress, http.StatusConflict, false},
		{"failure", errors.New("database is locked"), http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.runner.err = tt.err

			rr := env.do(t, http.MethodPost, "/api/v1/schedule/run")
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}

			resp := decode[ScheduleRunResponse](t, rr)
			if resp.Success != tt.wantSuccess {
				t.Errorf("success = %v, want %v", resp.Success, tt.wantSuccess)
			}
			if tt.wantSuccess && (resp.Result == nil || resp.Result.ScheduledNotifications != 3) {
				t.Errorf("result = %+v", resp.Result)
			}
			if !tt.wantSuccess && resp.Error == "" {
				t.Error("error message missing")
			}
		})
	}
}

func TestScheduleRunOutlivesClient(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/schedule/run", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)

	if env.runner.calls != 1 {
		t.Fatalf("runner calls = %d, want 1", env.runner.calls)
	}
	if env.runner.ctxErr != nil {
		t.Errorf("run context error = %v, want nil after client went away", env.runner.ctxErr)
	}
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestUnsubscribeAndResubscribe(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.campaigns.CreateCampaign(ctx, "u1", testNow.AddDate(0, 0, -6)); err != nil {
		t.Fatal(err)
	}

	rr := env.do(t, http.MethodPost, "/api/v1/users/u1/unsubscribe")
	if rr.Code != http.StatusOK {
		t.Fatalf("unsubscribe status = %d", rr.Code)
	}
	resp := decode[UnsubscribeResponse](t, rr)
	if !resp.Success || resp.ClosedCampaigns != 1 || resp.UserID != "u1" {
		t.Errorf("unsubscribe = %+v", resp)
	}

	settings, _ := env.campaigns.GetSettings(ctx, "u1")
	if settings == nil || !settings.OptedOut() {
		t.Errorf("settings after unsubscribe = %+v", settings)
	}

	rr = env.do(t, http.MethodPost, "/api/v1/users/u1/resubscribe")
	if rr.Code != http.StatusOK {
		t.Fatalf("resubscribe status = %d", rr.Code)
	}
	settings, _ = env.campaigns.GetSettings(ctx, "u1")
	if settings == nil || settings.OptedOut() {
		t.Errorf("settings after resubscribe = %+v", settings)
	}
}

func TestCampaignsAndClick(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	id, err := env.campaigns.CreateCampaign(ctx, "u1", testNow.AddDate(0, 0, -6))
	if err != nil {
		t.Fatal(err)
	}
	noteID, err := env.campaigns.CreateNotificationRecord(ctx, models.NotificationInput{
		CampaignID:  id,
		Level:       1,
		MessageType: models.TypeEmotional,
		VariantID:   "l1-emotional-simple",
		Title:       "t",
		Body:        "b",
		URL:         "/",
	})
	if err != nil {
		t.Fatal(err)
	}

	rr := env.do(t, http.MethodGet, "/api/v1/campaigns?user_id=u1&active=true")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	list := decode[CampaignsResponse](t, rr)
	if len(list.Campaigns) != 1 || list.Campaigns[0].ID != id {
		t.Errorf("campaigns = %+v", list.Campaigns)
	}

	if rr := env.do(t, http.MethodGet, "/api/v1/campaigns?limit=abc"); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rr.Code)
	}

	if rr := env.do(t, http.MethodPost, "/api/v1/notifications/"+noteID+"/click"); rr.Code != http.StatusNoContent {
		t.Errorf("click status = %d, want 204", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/api/v1/notifications/missing/click"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown click status = %d, want 404", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/api/v1/campaigns/"+id)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	detail := decode[CampaignResponse](t, rr)
	if detail.Campaign.ID != id || len(detail.Notifications) != 1 || !detail.Notifications[0].Clicked {
		t.Errorf("campaign detail = %+v", detail)
	}

	if rr := env.do(t, http.MethodGet, "/api/v1/campaigns/missing"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown campaign status = %d, want 404", rr.Code)
	}
}

func TestDailyMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	if rr := env.do(t, http.MethodGet, "/api/v1/metrics/daily/2026-03-10"); rr.Code != http.StatusNotFound {
		t.Errorf("status before recording = %d, want 404", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/v1/metrics/daily/yesterday"); rr.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want 400", rr.Code)
	}

	rr := env.do(t, http.MethodPost, "/api/v1/metrics/daily")
	if rr.Code != http.StatusOK {
		t.Fatalf("record status = %d", rr.Code)
	}
	recorded := decode[models.DailyMetrics](t, rr)
	if recorded.Date != "2026-03-10" {
		t.Errorf("recorded date = %q", recorded.Date)
	}

	rr = env.do(t, http.MethodGet, "/api/v1/metrics/daily/2026-03-10")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
}

func TestQueueAndDLQ(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	failed := queue.NewJob("c2", "u2", 2)
	env.storage.Enqueue(ctx, failed)
	job, _ := env.storage.Dequeue(ctx)
	if job == nil || job.ID != failed.ID {
		t.Fatalf("Dequeue() = %+v", job)
	}
	env.storage.MoveToDLQ(ctx, job)

	pending := queue.NewJob("c1", "u1", 1)
	env.storage.Enqueue(ctx, pending)

	rr := env.do(t, http.MethodGet, "/api/v1/queue")
	if rr.Code != http.StatusOK {
		t.Fatalf("queue status = %d", rr.Code)
	}
	q := decode[QueueResponse](t, rr)
	if q.Stats.DeadLetter != 1 || q.Stats.Pending != 1 {
		t.Errorf("queue stats = %+v", q.Stats)
	}

	rr = env.do(t, http.MethodGet, "/api/v1/queue/dlq")
	dlq := decode[DLQResponse](t, rr)
	if dlq.Stats.Total != 1 || len(dlq.Jobs) != 1 || dlq.Jobs[0].ID != failed.ID {
		t.Errorf("dlq = %+v", dlq)
	}

	if rr := env.do(t, http.MethodGet, "/api/v1/queue/dlq/"+failed.ID); rr.Code != http.StatusOK {
		t.Errorf("dlq get status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/v1/queue/dlq/"+pending.ID); rr.Code != http.StatusNotFound {
		t.Errorf("dlq get of pending job status = %d, want 404", rr.Code)
	}

	if rr := env.do(t, http.MethodPost, "/api/v1/queue/dlq/"+failed.ID+"/retry"); rr.Code != http.StatusOK {
		t.Errorf("retry status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/api/v1/queue/dlq/"+failed.ID+"/retry"); rr.Code != http.StatusNotFound {
		t.Errorf("second retry status = %d, want 404", rr.Code)
	}

	if rr := env.do(t, http.MethodDelete, "/api/v1/queue/"+failed.ID); rr.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/api/v1/queue/"+failed.ID); rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/api/v1/queue/dlq/"+pending.ID); rr.Code != http.StatusNotFound {
		t.Errorf("dlq delete of pending job status = %d, want 404", rr.Code)
	}
}
